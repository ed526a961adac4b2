package model

import "time"

// NotificationType tells users why they are being notified.
type NotificationType string

const (
	NotificationImmediate    NotificationType = "immediate"
	NotificationCancellation NotificationType = "cancellation"
	NotificationManual       NotificationType = "manual"
	NotificationReminder     NotificationType = "reminder"
	NotificationAdmin        NotificationType = "admin"
)

// Notification is a single message addressed to one user on one or more
// channels.  In-app notifications are persisted to the `notifications`
// table by the queue consumer.
type Notification struct {
	ID        string           `json:"id"`
	UserID    uint64           `json:"userId"`
	LeaveID   *uint64          `json:"leaveId,omitempty"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Channels  []Channel        `json:"channels"`
	Email     string           `json:"email,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
