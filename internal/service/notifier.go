package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iliyamo/smartmess-leaves/internal/metrics"
	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// Notifier delivers one notification to one user.  The queue publisher is
// the production implementation.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}

// Template is the user-independent part of a notification.
type Template struct {
	Title   string
	Message string
	Type    model.NotificationType
	LeaveID *uint64
}

// BroadcastResult summarises a fan-out.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcaster is what the services need from the dispatcher.
type Broadcaster interface {
	Broadcast(ctx context.Context, users []model.User, t Template) BroadcastResult
	SendOne(ctx context.Context, u model.User, t Template) error
}

// DispatcherConfig bounds the fan-out.
type DispatcherConfig struct {
	// Concurrency is the maximum number of sends in flight.
	Concurrency int
	// RatePerSec caps the global send rate; 0 means unlimited.
	RatePerSec float64
}

// Dispatcher fans a template out to many users.  One user's failure never
// affects the others and never reaches the caller.
type Dispatcher struct {
	notifier    Notifier
	limiter     *rate.Limiter
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// NewDispatcher builds a dispatcher around a single-user notifier.
func NewDispatcher(n Notifier, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if n == nil {
		panic("nil notifier passed to NewDispatcher")
	}
	conc := cfg.Concurrency
	if conc < 1 {
		conc = 1
	}
	limit := rate.Inf
	burst := conc
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Dispatcher{
		notifier:    n,
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: conc,
		log:         log.With().Str("component", "dispatcher").Logger(),
		now:         time.Now,
	}
}

func (d *Dispatcher) build(u model.User, t Template) model.Notification {
	return model.Notification{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		LeaveID:   t.LeaveID,
		Title:     t.Title,
		Message:   t.Message,
		Type:      t.Type,
		Channels:  u.Channels(),
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: d.now().UTC(),
	}
}

// SendOne delivers t to a single user and returns the transport error.
func (d *Dispatcher) SendOne(ctx context.Context, u model.User, t Template) error {
	if err := d.limiter.Wait(ctx); err != nil {
		metrics.NotificationsDispatched.WithLabelValues(string(t.Type), "failed").Inc()
		return err
	}
	if err := d.notifier.Send(ctx, d.build(u, t)); err != nil {
		metrics.NotificationsDispatched.WithLabelValues(string(t.Type), "failed").Inc()
		return err
	}
	metrics.NotificationsDispatched.WithLabelValues(string(t.Type), "sent").Inc()
	return nil
}

// Broadcast sends t to every user with bounded concurrency and waits for
// all sends to finish.  The fan-out is detached from ctx cancellation so a
// client that disconnects does not cut the broadcast short.
func (d *Dispatcher) Broadcast(ctx context.Context, users []model.User, t Template) BroadcastResult {
	if len(users) == 0 {
		return BroadcastResult{}
	}
	start := d.now()
	ctx = context.WithoutCancel(ctx)

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, u := range users {
		u := u
		g.Go(func() error {
			if err := d.SendOne(ctx, u, t); err != nil {
				failed.Add(1)
				d.log.Warn().Err(err).
					Uint64("user_id", u.ID).
					Str("type", string(t.Type)).
					Msg("notification send failed")
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	metrics.BroadcastDuration.WithLabelValues(string(t.Type)).Observe(d.now().Sub(start).Seconds())
	d.log.Info().
		Str("type", string(t.Type)).
		Int("recipients", len(users)).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("broadcast finished")
	return res
}
