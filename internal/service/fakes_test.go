package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
)

// memStore is an in-memory LeaveStore, AdjustmentReader, LeaveReader and
// ReminderStore.  Writes are serialised by one mutex, which plays the role
// of the mess row lock.
type memStore struct {
	mu          sync.Mutex
	messes      map[uint64]model.Mess
	leaves      map[uint64]*model.Leave
	adjustments []model.BillingAdjustment
	reminders   []model.LeaveReminder
	nextID      uint64
	now         func() time.Time
	failCreate  error
}

func newMemStore(messes ...model.Mess) *memStore {
	s := &memStore{messes: map[uint64]model.Mess{}, leaves: map[uint64]*model.Leave{}, now: time.Now}
	for _, m := range messes {
		s.messes[m.ID] = m
	}
	return s
}

func (s *memStore) id() uint64 { s.nextID++; return s.nextID }

func (s *memStore) copyLeave(l *model.Leave) *model.Leave {
	c := *l
	if m, ok := s.messes[l.MessID]; ok {
		c.Mess = &model.MessRef{ID: m.ID, Name: m.Name}
	}
	return &c
}

func (s *memStore) CreateScheduled(_ context.Context, l *model.Leave, adjustments []model.BillingAdjustment, reminder *model.LeaveReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	if _, ok := s.messes[l.MessID]; !ok {
		return repository.ErrMessNotFound
	}
	var overlaps []model.Leave
	for _, e := range s.leaves {
		if e.MessID != l.MessID || e.Status != model.LeaveStatusScheduled {
			continue
		}
		if e.Overlaps(l.StartDate, l.EndDate) {
			overlaps = append(overlaps, *e)
		}
	}
	if len(overlaps) > 0 {
		return &repository.OverlapError{Overlaps: overlaps}
	}
	now := s.now().UTC()
	l.ID = s.id()
	l.Status = model.LeaveStatusScheduled
	l.CreatedAt, l.UpdatedAt = now, now
	s.leaves[l.ID] = s.copyLeave(l)
	for i := range adjustments {
		adjustments[i].ID = s.id()
		adjustments[i].LeaveID = l.ID
		adjustments[i].MessID = l.MessID
		adjustments[i].CreatedAt = now
		s.adjustments = append(s.adjustments, adjustments[i])
	}
	if reminder != nil {
		reminder.ID = s.id()
		reminder.LeaveID = l.ID
		s.reminders = append(s.reminders, *reminder)
	}
	return nil
}

func (s *memStore) CancelScheduled(_ context.Context, id, creatorID uint64, at time.Time) (*model.Leave, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leaves[id]
	if !ok || l.CreatedBy != creatorID || model.DeriveStatus(l, at) != model.LeaveStatusScheduled {
		return nil, 0, repository.ErrLeaveNotFound
	}
	l.Status = model.LeaveStatusCancelled
	t := at.UTC()
	l.CancelledAt = &t
	var n int64
	for i := range s.adjustments {
		a := &s.adjustments[i]
		if a.LeaveID == id && a.Status != model.AdjustmentReversed {
			a.Status = model.AdjustmentReversed
			a.ReversedAt = &t
			n++
		}
	}
	kept := s.reminders[:0]
	for _, r := range s.reminders {
		if r.LeaveID == id && r.SentAt == nil {
			continue
		}
		kept = append(kept, r)
	}
	s.reminders = kept
	return s.copyLeave(l), n, nil
}

func (s *memStore) GetByID(_ context.Context, id uint64) (*model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leaves[id]
	if !ok {
		return nil, repository.ErrLeaveNotFound
	}
	return s.copyLeave(l), nil
}

func (s *memStore) GetByIDAndCreator(_ context.Context, id, creatorID uint64) (*model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leaves[id]
	if !ok || l.CreatedBy != creatorID {
		return nil, repository.ErrLeaveNotFound
	}
	return s.copyLeave(l), nil
}

func (s *memStore) MarkNotificationsSent(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leaves[id]
	if !ok {
		return repository.ErrLeaveNotFound
	}
	l.NotificationsSent = true
	return nil
}

func (s *memStore) sorted(keep func(*model.Leave) bool) []model.Leave {
	out := []model.Leave{}
	for _, l := range s.leaves {
		if keep(l) {
			out = append(out, *s.copyLeave(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasStatus(statuses []model.LeaveStatus, st model.LeaveStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *memStore) List(_ context.Context, f model.LeaveFilter) ([]model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(l *model.Leave) bool {
		if l.CreatedBy != f.CreatedBy || !hasStatus(f.Statuses, l.Status) {
			return false
		}
		if len(f.LeaveTypes) > 0 {
			found := false
			for _, t := range f.LeaveTypes {
				found = found || t == l.LeaveType
			}
			if !found {
				return false
			}
		}
		if f.StartFrom != nil && l.StartDate.Before(*f.StartFrom) {
			return false
		}
		if f.StartTo != nil && l.StartDate.After(*f.StartTo) {
			return false
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (s *memStore) ListByMessInRange(_ context.Context, messID uint64, from, to time.Time, statuses []model.LeaveStatus) ([]model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(l *model.Leave) bool {
		return l.MessID == messID && hasStatus(statuses, l.Status) && l.Overlaps(from, to)
	}), nil
}

func (s *memStore) ListUpcoming(_ context.Context, messID uint64, from time.Time, limit int) ([]model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(l *model.Leave) bool {
		return l.MessID == messID && l.Status == model.LeaveStatusScheduled && !l.StartDate.Before(from)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListCreatedSince(_ context.Context, messID uint64, since time.Time) ([]model.Leave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(l *model.Leave) bool {
		return l.MessID == messID && !l.CreatedAt.Before(since)
	}), nil
}

func (s *memStore) ListByLeave(_ context.Context, leaveID uint64, activeOnly bool) ([]model.BillingAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.BillingAdjustment{}
	for _, a := range s.adjustments {
		if a.LeaveID != leaveID || (activeOnly && a.Status == model.AdjustmentReversed) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) ListByUser(_ context.Context, userID uint64) ([]model.BillingAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.BillingAdjustment{}
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		if s.adjustments[i].UserID == userID {
			out = append(out, s.adjustments[i])
		}
	}
	return out, nil
}

func (s *memStore) ActiveCreditForUser(_ context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, a := range s.adjustments {
		if a.UserID == userID && a.Status != model.AdjustmentReversed {
			total += a.CreditAmount
		}
	}
	return total, nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]model.LeaveReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LeaveReminder
	for _, r := range s.reminders {
		l := s.leaves[r.LeaveID]
		if r.SentAt == nil && !r.RemindAt.After(now) && l != nil && l.Status == model.LeaveStatusScheduled {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			if s.reminders[i].SentAt != nil {
				return false, nil
			}
			t := at
			s.reminders[i].SentAt = &t
			return true, nil
		}
	}
	return false, nil
}

// put stores a leave as-is, for report tests.
func (s *memStore) put(l model.Leave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id()
	}
	s.leaves[l.ID] = &l
}

type memMesses struct{ byID map[uint64]model.Mess }

func newMemMesses(ms ...model.Mess) *memMesses {
	m := &memMesses{byID: map[uint64]model.Mess{}}
	for _, x := range ms {
		m.byID[x.ID] = x
	}
	return m
}

func (m *memMesses) GetByID(_ context.Context, id uint64) (*model.Mess, error) {
	x, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrMessNotFound
	}
	return &x, nil
}

func (m *memMesses) GetByOwner(_ context.Context, ownerID uint64) (*model.Mess, error) {
	for _, x := range m.byID {
		if x.OwnerID == ownerID {
			x := x
			return &x, nil
		}
	}
	return nil, repository.ErrMessNotFound
}

type memMembers struct{ users []model.User }

func (m *memMembers) ListActiveMembers(_ context.Context, messID uint64) ([]model.User, error) {
	out := []model.User{}
	for _, u := range m.users {
		if u.MessID != nil && *u.MessID == messID && u.IsActive && u.Role == model.RoleUser {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memMembers) GetMember(_ context.Context, messID, userID uint64) (model.User, error) {
	for _, u := range m.users {
		if u.ID == userID && u.MessID != nil && *u.MessID == messID {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

// recordingNotifier captures sends and fails for the configured users.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []model.Notification
	failOn map[uint64]bool
}

var errTransport = errors.New("transport down")

func (n *recordingNotifier) Send(_ context.Context, msg model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOn[msg.UserID] {
		return errTransport
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) byType(t model.NotificationType) []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Notification
	for _, m := range n.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type memActions struct {
	mu      sync.Mutex
	actions []model.UserAction
}

func (m *memActions) Create(_ context.Context, a *model.UserAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uint64(len(m.actions) + 1)
	m.actions = append(m.actions, *a)
	return nil
}

func member(id, messID uint64) model.User {
	return model.User{ID: id, Name: "user", Email: "u@example.com", Role: model.RoleUser, MessID: &messID, IsActive: true}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// fixture wires the services against in-memory fakes.
type fixture struct {
	store     *memStore
	messes    *memMesses
	members   *memMembers
	notifier  *recordingNotifier
	resolver  *MessResolver
	leaves    *LeaveService
	analytics *AnalyticsService
	actions   *memActions
	userActs  *UserActionService
	scheduler *ReminderScheduler
	now       time.Time
}

const (
	ownerID = uint64(100)
	messID  = uint64(7)
)

func newFixture(now time.Time, users ...model.User) *fixture {
	mess := model.Mess{ID: messID, OwnerID: ownerID, Name: "Green Mess"}
	f := &fixture{
		store:    newMemStore(mess),
		messes:   newMemMesses(mess),
		members:  &memMembers{users: users},
		notifier: &recordingNotifier{failOn: map[uint64]bool{}},
		actions:  &memActions{},
		now:      now,
	}
	clock := func() time.Time { return f.now }
	f.store.now = clock
	log := zerolog.Nop()
	f.resolver = NewMessResolver(f.messes, time.Minute)
	d := NewDispatcher(f.notifier, DispatcherConfig{Concurrency: 4}, log)
	f.leaves = NewLeaveService(f.store, f.resolver, f.members, f.store, d, LeaveConfig{AverageMealCost: 50, ReminderLead: 24 * time.Hour}, log)
	f.leaves.now = clock
	f.analytics = NewAnalyticsService(f.store, f.resolver, log)
	f.analytics.now = clock
	f.userActs = NewUserActionService(f.resolver, f.members, f.actions, d, log)
	f.userActs.now = clock
	f.scheduler = NewReminderScheduler(f.store, f.store, f.members, d, time.Minute, log)
	f.scheduler.now = clock
	return f
}
