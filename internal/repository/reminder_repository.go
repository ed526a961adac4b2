package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// ReminderRepo provides data access to the leave_reminders table.
type ReminderRepo struct {
	db *sql.DB
}

// NewReminderRepo returns a ReminderRepo bound to the provided database.
func NewReminderRepo(db *sql.DB) *ReminderRepo { return &ReminderRepo{db: db} }

// CreateTx inserts a reminder inside the caller's transaction.
func (r *ReminderRepo) CreateTx(ctx context.Context, tx *sql.Tx, rem *model.LeaveReminder) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO leave_reminders (leave_id, remind_at) VALUES (?, ?)`,
		rem.LeaveID, rem.RemindAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rem.ID = uint64(id)
	return nil
}

// DeletePendingByLeaveTx drops reminders of a leave that have not been
// sent yet.  Used when the leave is cancelled.
func (r *ReminderRepo) DeletePendingByLeaveTx(ctx context.Context, tx *sql.Tx, leaveID uint64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM leave_reminders WHERE leave_id = ? AND sent_at IS NULL`, leaveID)
	return err
}

// ListDue returns unsent reminders whose remind_at is at or before now and
// whose leave is still scheduled, oldest first.
func (r *ReminderRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.LeaveReminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.leave_id, r.remind_at, r.created_at
           FROM leave_reminders r
           JOIN mess_leaves l ON l.id = r.leave_id
          WHERE r.sent_at IS NULL AND r.remind_at <= ? AND l.status = ?
          ORDER BY r.remind_at ASC
          LIMIT ?`,
		now.UTC(), string(model.LeaveStatusScheduled), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LeaveReminder
	for rows.Next() {
		var rem model.LeaveReminder
		if err := rows.Scan(&rem.ID, &rem.LeaveID, &rem.RemindAt, &rem.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// MarkSent records the dispatch time.  It returns false when another
// worker already marked the reminder, so callers can skip duplicates.
func (r *ReminderRepo) MarkSent(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE leave_reminders SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
