package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// NotificationRepo persists in-app notifications delivered by the queue
// consumer.
type NotificationRepo struct{ db *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Create stores an in-app notification.  Redelivered messages carry the
// same id and are ignored.
func (r *NotificationRepo) Create(ctx context.Context, n model.Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT IGNORE INTO notifications (id, user_id, leave_id, title, message, type, channels, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.LeaveID, n.Title, n.Message, string(n.Type), channels, n.CreatedAt.UTC(),
	)
	return err
}
