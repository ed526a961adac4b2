package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/smartmess-leaves/internal/metrics"
	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// InAppStore persists in-app notifications.
type InAppStore interface {
	Create(ctx context.Context, n model.Notification) error
}

// ConsumerConfig configures the notification consumer.
type ConsumerConfig struct {
	URL      string
	Queue    string
	Prefetch int
	// LogPath is the rotating delivery log; empty disables it.
	LogPath string
}

// Consumer reads the notification queue and delivers each message on the
// recipient's channels.  Every delivery attempt is appended to the delivery
// log in a single-line, human-friendly format.
type Consumer struct {
	cfg    ConsumerConfig
	store  InAppStore
	mailer Mailer
	log    zerolog.Logger

	mu  sync.Mutex
	out io.WriteCloser
}

// NewConsumer builds a consumer.  mailer may be nil, in which case email
// deliveries are only logged.
func NewConsumer(cfg ConsumerConfig, store InAppStore, mailer Mailer, log zerolog.Logger) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultNotificationQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 50
	}
	c := &Consumer{cfg: cfg, store: store, mailer: mailer, log: log.With().Str("component", "notification-consumer").Logger()}
	if cfg.LogPath != "" {
		c.out = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return c
}

// Run connects to the broker and consumes until ctx is cancelled.  Broken
// connections are re-dialled with exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.Close()
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				retry := requeue(err, d.Redelivered)
				c.log.Error().Err(err).Str("message_id", d.MessageId).Bool("requeue", retry).Msg("handle message failed")
				_ = d.Nack(false, retry)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// errMalformed marks bodies that can never be delivered.
var errMalformed = errors.New("malformed notification")

// requeue reports whether a failed delivery goes back on the queue.  Malformed
// bodies are dropped; other failures get one redelivery so a transient store
// outage does not loop forever.
func requeue(err error, redelivered bool) bool {
	if errors.Is(err, errMalformed) {
		return false
	}
	return !redelivered
}

// handleMessage delivers one notification.  Only an undecodable message or
// a failed in-app insert is an error; other channels are best effort.
func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", errMalformed, err)
	}
	n, err := ev.Notification()
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	var firstErr error
	for _, channel := range n.Channels {
		status, err := c.deliver(ctx, channel, n)
		if err != nil {
			status = "failed: " + err.Error()
			if channel == model.ChannelInApp && firstErr == nil {
				firstErr = fmt.Errorf("in_app delivery: %w", err)
			}
			metrics.ConsumerDeliveries.WithLabelValues(string(channel), "failed").Inc()
		} else {
			metrics.ConsumerDeliveries.WithLabelValues(string(channel), status).Inc()
		}
		c.record(n, channel, status)
	}
	return firstErr
}

func (c *Consumer) deliver(ctx context.Context, channel model.Channel, n model.Notification) (string, error) {
	switch channel {
	case model.ChannelInApp:
		if c.store == nil {
			return "skipped", nil
		}
		if err := c.store.Create(ctx, n); err != nil {
			return "", err
		}
		return "delivered", nil
	case model.ChannelEmail:
		if c.mailer == nil || n.Email == "" {
			return "skipped", nil
		}
		if err := c.mailer.Send(n.Email, n.Title, n.Message); err != nil {
			return "", err
		}
		return "delivered", nil
	default:
		// sms and push have no provider wired in this service.
		return "skipped", nil
	}
}

func (c *Consumer) record(n model.Notification, channel model.Channel, status string) {
	leave := "-"
	if n.LeaveID != nil {
		leave = fmt.Sprint(*n.LeaveID)
	}
	c.log.Debug().
		Str("notification_id", n.ID).
		Uint64("user_id", n.UserID).
		Str("channel", string(channel)).
		Str("status", status).
		Msg("notification delivery")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return
	}
	line := fmt.Sprintf("[%s] Notification %s | id=%s | user_id=%d | leave_id=%s | type=%s | channel=%s | title=%q\n",
		time.Now().UTC().Format(time.RFC3339), status, n.ID, n.UserID, leave, n.Type, channel,
		strings.ReplaceAll(n.Title, "\n", " "))
	if _, err := io.WriteString(c.out, line); err != nil {
		c.log.Warn().Err(err).Msg("write delivery log failed")
	}
}

// Close flushes and closes the delivery log.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return nil
	}
	err := c.out.Close()
	c.out = nil
	return err
}
