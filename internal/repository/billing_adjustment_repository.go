package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// BillingAdjustmentRepo provides data access to the billing_adjustments
// table.  Adjustments are written in bulk inside the transaction that
// creates their leave and reversed inside the transaction that cancels it,
// so the write methods only come in Tx form.
type BillingAdjustmentRepo struct {
	db *sql.DB
}

// NewBillingAdjustmentRepo returns a repository bound to the provided database.
func NewBillingAdjustmentRepo(db *sql.DB) *BillingAdjustmentRepo {
	return &BillingAdjustmentRepo{db: db}
}

const adjustmentColumns = `id, user_id, leave_id, mess_id, original_amount, adjusted_amount, credit_amount,
       adjustment_date, reason, status, applied_at, reversed_at, created_at`

// CreateBulkTx inserts all adjustments with a single multi-row INSERT and
// assigns the generated IDs back to the slice.  MySQL returns the first
// auto-increment value of a multi-row insert and allocates the rest
// consecutively.  Passing an empty slice has no effect.
func (r *BillingAdjustmentRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, adjustments []model.BillingAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO billing_adjustments
        (user_id, leave_id, mess_id, original_amount, adjusted_amount, credit_amount, adjustment_date, reason, status)
        VALUES `)
	args := make([]interface{}, 0, len(adjustments)*9)
	for i, a := range adjustments {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, a.UserID, a.LeaveID, a.MessID, a.OriginalAmount, a.AdjustedAmount,
			a.CreditAmount, a.AdjustmentDate.UTC(), a.Reason, string(a.Status))
	}
	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return err
	}
	first, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i := range adjustments {
		adjustments[i].ID = uint64(first) + uint64(i)
	}
	return nil
}

// ReverseByLeaveTx marks every non-reversed adjustment of the leave as
// reversed and returns how many rows changed.  Rows are kept so that the
// credit history survives a cancellation.
func (r *BillingAdjustmentRepo) ReverseByLeaveTx(ctx context.Context, tx *sql.Tx, leaveID uint64, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE billing_adjustments SET status = ?, reversed_at = ? WHERE leave_id = ? AND status <> ?`,
		string(model.AdjustmentReversed), at.UTC(), leaveID, string(model.AdjustmentReversed),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByLeave returns the adjustments of a leave ordered by user.  When
// activeOnly is true reversed rows are skipped.
func (r *BillingAdjustmentRepo) ListByLeave(ctx context.Context, leaveID uint64, activeOnly bool) ([]model.BillingAdjustment, error) {
	q := `SELECT ` + adjustmentColumns + ` FROM billing_adjustments WHERE leave_id = ?`
	args := []interface{}{leaveID}
	if activeOnly {
		q += ` AND status <> ?`
		args = append(args, string(model.AdjustmentReversed))
	}
	q += ` ORDER BY user_id ASC`
	return r.query(ctx, q, args...)
}

// ListByUser returns a user's adjustments, newest first.
func (r *BillingAdjustmentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.BillingAdjustment, error) {
	q := `SELECT ` + adjustmentColumns + ` FROM billing_adjustments WHERE user_id = ? ORDER BY adjustment_date DESC, id DESC`
	return r.query(ctx, q, userID)
}

// ActiveCreditForUser sums the credit of all non-reversed adjustments.
func (r *BillingAdjustmentRepo) ActiveCreditForUser(ctx context.Context, userID uint64) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(credit_amount) FROM billing_adjustments WHERE user_id = ? AND status <> ?`,
		userID, string(model.AdjustmentReversed),
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (r *BillingAdjustmentRepo) query(ctx context.Context, q string, args ...interface{}) ([]model.BillingAdjustment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BillingAdjustment{}
	for rows.Next() {
		var (
			a          model.BillingAdjustment
			status     string
			appliedAt  sql.NullTime
			reversedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.LeaveID, &a.MessID, &a.OriginalAmount, &a.AdjustedAmount,
			&a.CreditAmount, &a.AdjustmentDate, &a.Reason, &status, &appliedAt, &reversedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = model.AdjustmentStatus(status)
		if appliedAt.Valid {
			t := appliedAt.Time
			a.AppliedAt = &t
		}
		if reversedAt.Valid {
			t := reversedAt.Time
			a.ReversedAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
