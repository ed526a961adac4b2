package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/metrics"
	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
)

// LeaveStore is the persistence the orchestrator needs.  *repository.LeaveRepo
// implements it.
type LeaveStore interface {
	CreateScheduled(ctx context.Context, l *model.Leave, adjustments []model.BillingAdjustment, reminder *model.LeaveReminder) error
	CancelScheduled(ctx context.Context, id, creatorID uint64, at time.Time) (*model.Leave, int64, error)
	GetByID(ctx context.Context, id uint64) (*model.Leave, error)
	GetByIDAndCreator(ctx context.Context, id, creatorID uint64) (*model.Leave, error)
	MarkNotificationsSent(ctx context.Context, id uint64) error
	List(ctx context.Context, f model.LeaveFilter) ([]model.Leave, error)
	ListByMessInRange(ctx context.Context, messID uint64, from, to time.Time, statuses []model.LeaveStatus) ([]model.Leave, error)
	ListUpcoming(ctx context.Context, messID uint64, from time.Time, limit int) ([]model.Leave, error)
	ListCreatedSince(ctx context.Context, messID uint64, since time.Time) ([]model.Leave, error)
}

// MemberDirectory reads users of a mess.
type MemberDirectory interface {
	ListActiveMembers(ctx context.Context, messID uint64) ([]model.User, error)
	GetMember(ctx context.Context, messID, userID uint64) (model.User, error)
}

// AdjustmentReader reads the billing ledger.
type AdjustmentReader interface {
	ListByLeave(ctx context.Context, leaveID uint64, activeOnly bool) ([]model.BillingAdjustment, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.BillingAdjustment, error)
	ActiveCreditForUser(ctx context.Context, userID uint64) (int64, error)
}

// UserCredit is a member's leave credit history.  TotalCredit excludes
// reversed adjustments.
type UserCredit struct {
	UserID      uint64                    `json:"userId"`
	TotalCredit int64                     `json:"totalCredit"`
	Adjustments []model.BillingAdjustment `json:"adjustments"`
}

// LeaveConfig holds the tunables of the orchestrator.
type LeaveConfig struct {
	AverageMealCost int64
	ReminderLead    time.Duration
}

// CreateLeaveInput is the validated body of a schedule request.
type CreateLeaveInput struct {
	StartDate    time.Time
	EndDate      time.Time
	LeaveType    model.LeaveType
	Reason       string
	MealTypes    []model.MealType
	Recurrence   *model.Recurrence
	NotifyUsers  bool
	SendReminder bool
}

// LeaveService coordinates leave scheduling, cancellation and notification.
type LeaveService struct {
	leaves      LeaveStore
	messes      *MessResolver
	members     MemberDirectory
	adjustments AdjustmentReader
	dispatcher  Broadcaster
	cfg         LeaveConfig
	log         zerolog.Logger
	now         func() time.Time
}

// NewLeaveService wires the orchestrator.  All dependencies are required.
func NewLeaveService(leaves LeaveStore, messes *MessResolver, members MemberDirectory, adjustments AdjustmentReader,
	dispatcher Broadcaster, cfg LeaveConfig, log zerolog.Logger) *LeaveService {
	if leaves == nil || messes == nil || members == nil || adjustments == nil || dispatcher == nil {
		panic("nil dependency passed to NewLeaveService")
	}
	if cfg.AverageMealCost <= 0 {
		cfg.AverageMealCost = DefaultAverageMealCost
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}
	return &LeaveService{
		leaves:      leaves,
		messes:      messes,
		members:     members,
		adjustments: adjustments,
		dispatcher:  dispatcher,
		cfg:         cfg,
		log:         log.With().Str("component", "leave_service").Logger(),
		now:         time.Now,
	}
}

func normalizeInput(in CreateLeaveInput) (CreateLeaveInput, error) {
	if in.StartDate.IsZero() {
		return in, invalid("startDate", "is required")
	}
	if in.EndDate.IsZero() {
		return in, invalid("endDate", "is required")
	}
	in.StartDate = model.DateOf(in.StartDate)
	in.EndDate = model.DateOf(in.EndDate)
	if in.StartDate.After(in.EndDate) {
		return in, invalid("endDate", "must not be before startDate")
	}
	if !in.LeaveType.Valid() {
		return in, invalid("leaveType", "unknown leave type %q", in.LeaveType)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return in, invalid("reason", "is required")
	}
	if len(in.MealTypes) == 0 {
		return in, invalid("mealTypes", "must contain at least one meal")
	}
	seen := make(map[model.MealType]bool, len(in.MealTypes))
	meals := make([]model.MealType, 0, len(in.MealTypes))
	for _, m := range in.MealTypes {
		if !m.Valid() {
			return in, invalid("mealTypes", "unknown meal type %q", m)
		}
		if !seen[m] {
			seen[m] = true
			meals = append(meals, m)
		}
	}
	in.MealTypes = meals

	rec := model.Recurrence{Frequency: model.RecurrenceNone, Interval: 1}
	if in.Recurrence != nil {
		rec = *in.Recurrence
		if rec.Frequency == "" {
			rec.Frequency = model.RecurrenceNone
		}
		switch rec.Frequency {
		case model.RecurrenceNone, model.RecurrenceDaily, model.RecurrenceWeekly, model.RecurrenceMonthly, model.RecurrenceYearly:
		default:
			return in, invalid("recurrence.frequency", "unknown frequency %q", rec.Frequency)
		}
		if rec.Interval == 0 {
			rec.Interval = 1
		}
		if rec.Interval < 1 {
			return in, invalid("recurrence.interval", "must be at least 1")
		}
		for _, d := range rec.DaysOfWeek {
			if d < 0 || d > 6 {
				return in, invalid("recurrence.daysOfWeek", "day %d out of range 0..6", d)
			}
		}
		if rec.EndDate != nil {
			end := model.DateOf(*rec.EndDate)
			if end.Before(in.StartDate) {
				return in, invalid("recurrence.endDate", "must not be before startDate")
			}
			rec.EndDate = &end
		}
		if rec.Occurrences != nil && *rec.Occurrences < 1 {
			return in, invalid("recurrence.occurrences", "must be at least 1")
		}
	}
	in.Recurrence = &rec
	return in, nil
}

// Create schedules a leave for the owner's mess.  The overlap check, the
// leave row, its billing adjustments and the optional reminder are written
// in one transaction; notifications are sent after commit and their
// failures are only logged.
func (s *LeaveService) Create(ctx context.Context, ownerID uint64, in CreateLeaveInput) (*model.Leave, error) {
	mess, err := s.messes.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	in, err = normalizeInput(in)
	if err != nil {
		return nil, err
	}
	users, err := s.members.ListActiveMembers(ctx, mess.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	now := s.now().UTC()
	leave := &model.Leave{
		MessID:     mess.ID,
		Mess:       &model.MessRef{ID: mess.ID, Name: mess.Name},
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		LeaveType:  in.LeaveType,
		Reason:     in.Reason,
		MealTypes:  in.MealTypes,
		Recurrence: *in.Recurrence,
		Status:     model.LeaveStatusScheduled,
		CreatedBy:  ownerID,
	}
	leave.AffectedUsers = len(users)
	leave.EstimatedSavings = EstimatedSavings(leave, s.cfg.AverageMealCost, leave.AffectedUsers)
	adjustments := BuildAdjustments(leave, users, s.cfg.AverageMealCost, now)

	var reminder *model.LeaveReminder
	if in.SendReminder {
		at := leave.StartDate.Add(-s.cfg.ReminderLead)
		if at.Before(now) {
			at = now
		}
		reminder = &model.LeaveReminder{RemindAt: at}
	}

	if err := s.leaves.CreateScheduled(ctx, leave, adjustments, reminder); err != nil {
		if errors.Is(err, repository.ErrOverlappingLeave) {
			metrics.OverlapRejections.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("create leave: %w", err)
	}
	metrics.LeavesCreated.WithLabelValues(string(leave.LeaveType)).Inc()
	metrics.CreditsIssued.Add(float64(TotalCredit(adjustments)))
	s.log.Info().
		Uint64("leave_id", leave.ID).
		Uint64("mess_id", mess.ID).
		Int("affected_users", leave.AffectedUsers).
		Int64("estimated_savings", leave.EstimatedSavings).
		Int("adjustments", len(adjustments)).
		Bool("reminder", reminder != nil).
		Msg("leave scheduled")

	if in.NotifyUsers {
		s.notify(ctx, leave, users, model.NotificationImmediate)
	}
	leave.EffectiveStatus = model.DeriveStatus(leave, s.now())
	return leave, nil
}

// notify broadcasts and marks the leave notified.  Neither step can fail
// the calling operation.
func (s *LeaveService) notify(ctx context.Context, l *model.Leave, users []model.User, typ model.NotificationType) BroadcastResult {
	res := s.dispatcher.Broadcast(ctx, users, leaveTemplate(l, typ))
	if l.Status == model.LeaveStatusCancelled {
		return res
	}
	if err := s.leaves.MarkNotificationsSent(context.WithoutCancel(ctx), l.ID); err != nil {
		s.log.Error().Err(err).Uint64("leave_id", l.ID).Msg("mark notifications sent failed")
		return res
	}
	l.NotificationsSent = true
	return res
}

// Cancel cancels a scheduled leave created by ownerID, reverses its credits
// and tells the mess members.  Missing, foreign, cancelled and already
// started leaves all yield repository.ErrLeaveNotFound.
func (s *LeaveService) Cancel(ctx context.Context, ownerID, leaveID uint64) (*model.Leave, error) {
	leave, reversed, err := s.leaves.CancelScheduled(ctx, leaveID, ownerID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrLeaveNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel leave: %w", err)
	}
	metrics.LeavesCancelled.Inc()
	metrics.AdjustmentsReversed.Add(float64(reversed))
	s.log.Info().Uint64("leave_id", leave.ID).Int64("reversed_adjustments", reversed).Msg("leave cancelled")

	users, err := s.members.ListActiveMembers(ctx, leave.MessID)
	if err != nil {
		s.log.Error().Err(err).Uint64("leave_id", leave.ID).Msg("list members for cancellation notice failed")
	} else {
		s.notify(ctx, leave, users, model.NotificationCancellation)
	}
	leave.EffectiveStatus = model.DeriveStatus(leave, s.now())
	return leave, nil
}

// Notify re-sends the leave announcement.  Any status is accepted as long
// as the caller created the leave.
func (s *LeaveService) Notify(ctx context.Context, ownerID, leaveID uint64) (BroadcastResult, error) {
	leave, err := s.leaves.GetByIDAndCreator(ctx, leaveID, ownerID)
	if err != nil {
		return BroadcastResult{}, err
	}
	users, err := s.members.ListActiveMembers(ctx, leave.MessID)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("list members: %w", err)
	}
	res := s.dispatcher.Broadcast(ctx, users, leaveTemplate(leave, model.NotificationManual))
	if err := s.leaves.MarkNotificationsSent(context.WithoutCancel(ctx), leave.ID); err != nil {
		s.log.Error().Err(err).Uint64("leave_id", leave.ID).Msg("mark notifications sent failed")
	}
	return res, nil
}

// storedStatus maps a requested status to the value persisted in the table.
func storedStatus(s model.LeaveStatus) model.LeaveStatus {
	if s == model.LeaveStatusCancelled {
		return model.LeaveStatusCancelled
	}
	return model.LeaveStatusScheduled
}

// List returns the owner's leaves.  Active and completed are derived from
// the calendar, so the store is queried by persisted status and the rows
// are then filtered by their effective status.
func (s *LeaveService) List(ctx context.Context, ownerID uint64, f model.LeaveFilter) ([]model.Leave, error) {
	want := map[model.LeaveStatus]bool{}
	var stored []model.LeaveStatus
	seen := map[model.LeaveStatus]bool{}
	for _, st := range f.Statuses {
		want[st] = true
		p := storedStatus(st)
		if !seen[p] {
			seen[p] = true
			stored = append(stored, p)
		}
	}
	f.Statuses = stored
	f.CreatedBy = ownerID

	rows, err := s.leaves.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	now := s.now()
	out := make([]model.Leave, 0, len(rows))
	for _, l := range rows {
		l.EffectiveStatus = model.DeriveStatus(&l, now)
		if len(want) > 0 && !want[l.EffectiveStatus] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Adjustments returns every billing adjustment of a leave owned by the
// caller, reversed ones included.
func (s *LeaveService) Adjustments(ctx context.Context, ownerID, leaveID uint64) ([]model.BillingAdjustment, error) {
	if _, err := s.leaves.GetByIDAndCreator(ctx, leaveID, ownerID); err != nil {
		return nil, err
	}
	return s.adjustments.ListByLeave(ctx, leaveID, false)
}

// UserCredits returns the credit history of a member of the owner's mess.
// Users outside the mess yield repository.ErrUserNotFound.
func (s *LeaveService) UserCredits(ctx context.Context, ownerID, userID uint64) (*UserCredit, error) {
	mess, err := s.messes.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.GetMember(ctx, mess.ID, userID); err != nil {
		return nil, err
	}
	adj, err := s.adjustments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user adjustments: %w", err)
	}
	total, err := s.adjustments.ActiveCreditForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum user credit: %w", err)
	}
	return &UserCredit{UserID: userID, TotalCredit: total, Adjustments: adj}, nil
}
