// Package repository contains data access logic separated from HTTP handlers.
// This file defines the repository for mess leaves.  A leave is a closure of
// a mess over an inclusive date range; leaves of the same mess that are
// scheduled or active may not overlap.
package repository

import (
	"context"      // context carries deadlines for DB calls
	"database/sql" // sql provides DB abstraction
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// LeaveRepo manages persistence for leaves.  Creation and cancellation
// also write billing adjustments and reminders, which is why the repo holds
// the repositories it coordinates inside one transaction.
type LeaveRepo struct {
	db          *sql.DB
	adjustments *BillingAdjustmentRepo
	reminders   *ReminderRepo
}

// NewLeaveRepo constructs a LeaveRepo.  All dependencies must be non-nil.
func NewLeaveRepo(db *sql.DB, adjustments *BillingAdjustmentRepo, reminders *ReminderRepo) *LeaveRepo {
	if db == nil || adjustments == nil || reminders == nil {
		panic("nil dependency passed to NewLeaveRepo")
	}
	return &LeaveRepo{db: db, adjustments: adjustments, reminders: reminders}
}

// leaveSelect joins the mess so every read returns the populated name.
const leaveSelect = `SELECT l.id, l.mess_id, m.name, l.start_date, l.end_date, l.leave_type, l.reason,
       l.meal_types, l.recurrence, l.status, l.notifications_sent, l.created_by,
       l.affected_users, l.estimated_savings, l.cancelled_at, l.created_at, l.updated_at
  FROM mess_leaves l
  JOIN messes m ON m.id = l.mess_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLeave(s rowScanner) (model.Leave, error) {
	var (
		l           model.Leave
		messName    string
		leaveType   string
		status      string
		mealTypes   []byte
		recurrence  []byte
		cancelledAt sql.NullTime
	)
	err := s.Scan(&l.ID, &l.MessID, &messName, &l.StartDate, &l.EndDate, &leaveType, &l.Reason,
		&mealTypes, &recurrence, &status, &l.NotificationsSent, &l.CreatedBy,
		&l.AffectedUsers, &l.EstimatedSavings, &cancelledAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return l, err
	}
	l.Mess = &model.MessRef{ID: l.MessID, Name: messName}
	l.LeaveType = model.LeaveType(leaveType)
	l.Status = model.LeaveStatus(status)
	if len(mealTypes) > 0 {
		if err := json.Unmarshal(mealTypes, &l.MealTypes); err != nil {
			return l, fmt.Errorf("decode meal_types of leave %d: %w", l.ID, err)
		}
	}
	if len(recurrence) > 0 {
		if err := json.Unmarshal(recurrence, &l.Recurrence); err != nil {
			return l, fmt.Errorf("decode recurrence of leave %d: %w", l.ID, err)
		}
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		l.CancelledAt = &t
	}
	return l, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryLeaves(ctx context.Context, q queryer, query string, args ...interface{}) ([]model.Leave, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Leave{}
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []model.LeaveStatus) []interface{} {
	out := make([]interface{}, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// overlapQuery selects leaves of a mess whose inclusive range intersects
// [start, end] and whose status still occupies the calendar.
func overlapQuery() string {
	return leaveSelect + `
 WHERE l.mess_id = ? AND l.status IN (` + placeholders(len(model.OccupyingStatuses)) + `)
   AND l.start_date <= ? AND l.end_date >= ?
 ORDER BY l.start_date ASC`
}

func overlapArgs(messID uint64, start, end time.Time) []interface{} {
	args := []interface{}{messID}
	args = append(args, statusArgs(model.OccupyingStatuses)...)
	return append(args, dbDate(end), dbDate(start))
}

// dbDate formats a calendar date for DATE columns.
func dbDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

// CreateScheduled inserts a scheduled leave together with its billing
// adjustments and optional reminder in one transaction.  The mess row is
// locked first so that concurrent creations for the same mess serialise on
// the overlap check; when the range is taken an *OverlapError is returned
// and nothing is written.  On success the leave, adjustments and reminder
// carry their generated IDs.
func (r *LeaveRepo) CreateScheduled(ctx context.Context, l *model.Leave, adjustments []model.BillingAdjustment, reminder *model.LeaveReminder) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var messName string
	if err = tx.QueryRowContext(ctx, `SELECT name FROM messes WHERE id = ? FOR UPDATE`, l.MessID).Scan(&messName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessNotFound
		}
		return err
	}

	overlaps, err := queryLeaves(ctx, tx, overlapQuery(), overlapArgs(l.MessID, l.StartDate, l.EndDate)...)
	if err != nil {
		return err
	}
	if len(overlaps) > 0 {
		return &OverlapError{Overlaps: overlaps}
	}

	mealTypes, err := json.Marshal(l.MealTypes)
	if err != nil {
		return err
	}
	recurrence, err := json.Marshal(l.Recurrence)
	if err != nil {
		return err
	}
	l.Status = model.LeaveStatusScheduled
	res, err := tx.ExecContext(ctx,
		`INSERT INTO mess_leaves
            (mess_id, start_date, end_date, leave_type, reason, meal_types, recurrence, status,
             notifications_sent, created_by, affected_users, estimated_savings)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?, ?)`,
		l.MessID, dbDate(l.StartDate), dbDate(l.EndDate), string(l.LeaveType), l.Reason, mealTypes, recurrence,
		string(l.Status), l.CreatedBy, l.AffectedUsers, l.EstimatedSavings,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)

	for i := range adjustments {
		adjustments[i].LeaveID = l.ID
		adjustments[i].MessID = l.MessID
	}
	if err = r.adjustments.CreateBulkTx(ctx, tx, adjustments); err != nil {
		return fmt.Errorf("insert billing adjustments: %w", err)
	}
	if reminder != nil {
		reminder.LeaveID = l.ID
		if err = r.reminders.CreateTx(ctx, tx, reminder); err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
	}

	// Re-read inside the transaction to pick up DB defaults (timestamps).
	fresh, err := scanLeave(tx.QueryRowContext(ctx, leaveSelect+` WHERE l.id = ?`, l.ID))
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	*l = fresh
	return nil
}

// GetByID retrieves a leave by its ID.  It returns ErrLeaveNotFound if
// there is no matching row.
func (r *LeaveRepo) GetByID(ctx context.Context, id uint64) (*model.Leave, error) {
	l, err := scanLeave(r.db.QueryRowContext(ctx, leaveSelect+` WHERE l.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeaveNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GetByIDAndCreator retrieves a leave only when it was created by the
// given user, regardless of status.
func (r *LeaveRepo) GetByIDAndCreator(ctx context.Context, id, creatorID uint64) (*model.Leave, error) {
	l, err := scanLeave(r.db.QueryRowContext(ctx, leaveSelect+` WHERE l.id = ? AND l.created_by = ?`, id, creatorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeaveNotFound
		}
		return nil, err
	}
	return &l, nil
}

// CancelScheduled cancels a scheduled leave created by creatorID.  Within
// one transaction it locks the leave, flips the status, reverses the
// leave's billing adjustments and drops its pending reminders.  A leave
// that is missing, owned by someone else, cancelled or already started
// on the date of at yields ErrLeaveNotFound.  The second return value is the number of adjustments
// reversed.
func (r *LeaveRepo) CancelScheduled(ctx context.Context, id, creatorID uint64, at time.Time) (*model.Leave, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var lockedID uint64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM mess_leaves
          WHERE id = ? AND created_by = ? AND status = ? AND start_date > ?
          FOR UPDATE`,
		id, creatorID, string(model.LeaveStatusScheduled), dbDate(at),
	).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrLeaveNotFound
		}
		return nil, 0, err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE mess_leaves SET status = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
		string(model.LeaveStatusCancelled), at.UTC(), at.UTC(), id,
	); err != nil {
		return nil, 0, err
	}
	reversed, err := r.adjustments.ReverseByLeaveTx(ctx, tx, id, at)
	if err != nil {
		return nil, 0, fmt.Errorf("reverse billing adjustments: %w", err)
	}
	if err = r.reminders.DeletePendingByLeaveTx(ctx, tx, id); err != nil {
		return nil, 0, fmt.Errorf("drop reminders: %w", err)
	}
	l, err := scanLeave(tx.QueryRowContext(ctx, leaveSelect+` WHERE l.id = ?`, id))
	if err != nil {
		return nil, 0, err
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, err
	}
	committed = true
	return &l, reversed, nil
}

// MarkNotificationsSent sets notifications_sent on the leave.
func (r *LeaveRepo) MarkNotificationsSent(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mess_leaves SET notifications_sent = TRUE, updated_at = UTC_TIMESTAMP() WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrLeaveNotFound
	}
	return nil
}

// buildListQuery turns a LeaveFilter into SQL and arguments.  Results are
// ordered by start date, newest first.
func buildListQuery(f model.LeaveFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(leaveSelect)
	sb.WriteString("\n WHERE l.created_by = ?")
	args := []interface{}{f.CreatedBy}
	if len(f.Statuses) > 0 {
		sb.WriteString(" AND l.status IN (" + placeholders(len(f.Statuses)) + ")")
		args = append(args, statusArgs(f.Statuses)...)
	}
	if len(f.LeaveTypes) > 0 {
		sb.WriteString(" AND l.leave_type IN (" + placeholders(len(f.LeaveTypes)) + ")")
		for _, t := range f.LeaveTypes {
			args = append(args, string(t))
		}
	}
	if f.StartFrom != nil {
		sb.WriteString(" AND l.start_date >= ?")
		args = append(args, dbDate(*f.StartFrom))
	}
	if f.StartTo != nil {
		sb.WriteString(" AND l.start_date <= ?")
		args = append(args, dbDate(*f.StartTo))
	}
	sb.WriteString("\n ORDER BY l.start_date DESC, l.id DESC")
	return sb.String(), args
}

// List returns the caller's leaves matching the filter.
func (r *LeaveRepo) List(ctx context.Context, f model.LeaveFilter) ([]model.Leave, error) {
	q, args := buildListQuery(f)
	return queryLeaves(ctx, r.db, q, args...)
}

// ListByMessInRange returns leaves of a mess with one of the statuses whose
// range intersects [from, to].
func (r *LeaveRepo) ListByMessInRange(ctx context.Context, messID uint64, from, to time.Time, statuses []model.LeaveStatus) ([]model.Leave, error) {
	q := leaveSelect + `
 WHERE l.mess_id = ? AND l.start_date <= ? AND l.end_date >= ?`
	args := []interface{}{messID, dbDate(to), dbDate(from)}
	if len(statuses) > 0 {
		q += ` AND l.status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	q += ` ORDER BY l.start_date ASC`
	return queryLeaves(ctx, r.db, q, args...)
}

// ListUpcoming returns up to limit scheduled leaves of a mess starting on or
// after from, soonest first.
func (r *LeaveRepo) ListUpcoming(ctx context.Context, messID uint64, from time.Time, limit int) ([]model.Leave, error) {
	q := leaveSelect + `
 WHERE l.mess_id = ? AND l.status = ? AND l.start_date >= ?
 ORDER BY l.start_date ASC
 LIMIT ?`
	return queryLeaves(ctx, r.db, q, messID, string(model.LeaveStatusScheduled), dbDate(from), limit)
}

// ListCreatedSince returns every leave of a mess created at or after since,
// ordered by creator and creation time.
func (r *LeaveRepo) ListCreatedSince(ctx context.Context, messID uint64, since time.Time) ([]model.Leave, error) {
	q := leaveSelect + `
 WHERE l.mess_id = ? AND l.created_at >= ?
 ORDER BY l.created_by ASC, l.created_at ASC`
	return queryLeaves(ctx, r.db, q, messID, since.UTC())
}
