package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/metrics"
	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
)

// ReminderStore is the reminder queue table.
type ReminderStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.LeaveReminder, error)
	MarkSent(ctx context.Context, id uint64, at time.Time) (bool, error)
}

// LeaveReader loads a leave by id.
type LeaveReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Leave, error)
}

// ReminderScheduler periodically sends the reminders written with leaves
// whose start is near.
type ReminderScheduler struct {
	reminders  ReminderStore
	leaves     LeaveReader
	members    MemberDirectory
	dispatcher Broadcaster
	interval   time.Duration
	batch      int
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewReminderScheduler builds a scheduler that checks every interval.
func NewReminderScheduler(reminders ReminderStore, leaves LeaveReader, members MemberDirectory,
	dispatcher Broadcaster, interval time.Duration, log zerolog.Logger) *ReminderScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReminderScheduler{
		reminders:  reminders,
		leaves:     leaves,
		members:    members,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      100,
		log:        log.With().Str("component", "reminder_scheduler").Logger(),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called.  It blocks,
// so callers run it in a goroutine.  A second call while running returns
// immediately.
func (s *ReminderScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := s.stopCh
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval).Msg("reminder scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reminder scheduler stopped by context")
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stop:
			s.log.Info().Msg("reminder scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("reminder run failed")
			}
		}
	}
}

// Stop ends a running loop.  Calling it more than once is safe.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		close(s.stopCh)
		s.stopCh = make(chan struct{})
	}
}

// RunOnce dispatches every due reminder and returns how many were sent.
// A reminder is claimed before sending, so concurrent instances never send
// the same reminder twice.
func (s *ReminderScheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.reminders.ListDue(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, r := range due {
		claimed, err := s.reminders.MarkSent(ctx, r.ID, now)
		if err != nil {
			s.log.Error().Err(err).Uint64("reminder_id", r.ID).Msg("claim reminder failed")
			continue
		}
		if !claimed {
			continue
		}
		leave, err := s.leaves.GetByID(ctx, r.LeaveID)
		if err != nil {
			if !errors.Is(err, repository.ErrLeaveNotFound) {
				s.log.Error().Err(err).Uint64("leave_id", r.LeaveID).Msg("load leave for reminder failed")
			}
			continue
		}
		if leave.Status != model.LeaveStatusScheduled {
			continue
		}
		users, err := s.members.ListActiveMembers(ctx, leave.MessID)
		if err != nil {
			s.log.Error().Err(err).Uint64("leave_id", leave.ID).Msg("list members for reminder failed")
			continue
		}
		res := s.dispatcher.Broadcast(ctx, users, leaveTemplate(leave, model.NotificationReminder))
		metrics.RemindersSent.Inc()
		s.log.Info().
			Uint64("reminder_id", r.ID).
			Uint64("leave_id", leave.ID).
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Msg("leave reminder dispatched")
		sent++
	}
	return sent, nil
}
