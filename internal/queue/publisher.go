package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// Publisher sends notifications to the durable notification queue.  One
// connection and channel are reused across sends; a failed publish drops
// them and the send is retried once on a fresh connection.
type Publisher struct {
	url   string
	queue string
	log   zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher.  The broker is dialled lazily on the
// first send.
func NewPublisher(url, queue string, log zerolog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultNotificationQueue
	}
	return &Publisher{url: url, queue: queue, log: log.With().Str("component", "publisher").Logger()}
}

// channel returns the open channel, dialling and declaring the queue when
// needed.  Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Send publishes one notification as a persistent JSON message whose
// MessageId is the notification id.
func (p *Publisher) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(EventFromNotification(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    n.ID,
		Type:         string(n.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel()
		if err != nil {
			lastErr = err
			continue
		}
		if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
			lastErr = fmt.Errorf("publish: %w", err)
			p.reset()
			continue
		}
		return nil
	}
	p.log.Error().Err(lastErr).Str("notification_id", n.ID).Uint64("user_id", n.UserID).Msg("rabbitmq publish failed")
	return lastErr
}

// Close releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// LogNotifier is used when no broker is configured.  It only records the
// notification in the application log.
type LogNotifier struct {
	Log zerolog.Logger
}

// Send logs n and never fails.
func (l LogNotifier) Send(_ context.Context, n model.Notification) error {
	l.Log.Info().
		Str("notification_id", n.ID).
		Uint64("user_id", n.UserID).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg("notification (no broker configured)")
	return nil
}
