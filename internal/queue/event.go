// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the consumer of the notification queue.
package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// DefaultNotificationQueue is the durable queue carrying notifications.
const DefaultNotificationQueue = "mess.notifications"

// NotificationEvent is the wire form of a notification.  It carries the
// recipient's contact details so the consumer can deliver without querying
// the users table.
type NotificationEvent struct {
	ID        string   `json:"id"`
	UserID    uint64   `json:"user_id"`
	LeaveID   *uint64  `json:"leave_id,omitempty"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Type      string   `json:"type"`
	Channels  []string `json:"channels"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// EventFromNotification converts a notification for publishing.
func EventFromNotification(n model.Notification) NotificationEvent {
	ch := make([]string, len(n.Channels))
	for i, c := range n.Channels {
		ch[i] = string(c)
	}
	return NotificationEvent{
		ID:        n.ID,
		UserID:    n.UserID,
		LeaveID:   n.LeaveID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Channels:  ch,
		Email:     n.Email,
		Phone:     n.Phone,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Notification converts the event back.  A missing id or recipient is an
// error; the consumer rejects such messages.
func (e NotificationEvent) Notification() (model.Notification, error) {
	if e.ID == "" || e.UserID == 0 {
		return model.Notification{}, fmt.Errorf("notification event missing id or user_id")
	}
	created, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("created_at: %w", err)
	}
	ch := make([]model.Channel, len(e.Channels))
	for i, c := range e.Channels {
		ch[i] = model.Channel(c)
	}
	if len(ch) == 0 {
		ch = []model.Channel{model.ChannelInApp}
	}
	return model.Notification{
		ID:        e.ID,
		UserID:    e.UserID,
		LeaveID:   e.LeaveID,
		Title:     e.Title,
		Message:   e.Message,
		Type:      model.NotificationType(e.Type),
		Channels:  ch,
		Email:     e.Email,
		Phone:     e.Phone,
		CreatedAt: created,
	}, nil
}
