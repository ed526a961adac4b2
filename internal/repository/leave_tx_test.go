package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

var leaveColumns = []string{"id", "mess_id", "name", "start_date", "end_date", "leave_type", "reason",
	"meal_types", "recurrence", "status", "notifications_sent", "created_by",
	"affected_users", "estimated_savings", "cancelled_at", "created_at", "updated_at"}

func leaveRow(rows *sqlmock.Rows, id int64, status model.LeaveStatus) *sqlmock.Rows {
	created := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return rows.AddRow(id, int64(7), "Green Mess", date("2025-01-10"), date("2025-01-12"), "holiday", "New year break",
		[]byte(`["breakfast","lunch"]`), []byte(`{"frequency":"none"}`), string(status), false, int64(100),
		int64(3), int64(900), nil, created, created)
}

func newMockRepo(t *testing.T) (*LeaveRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLeaveRepo(db, NewBillingAdjustmentRepo(db), NewReminderRepo(db)), mock
}

func driverArgs(args []interface{}) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		if u, ok := a.(uint64); ok {
			a = int64(u)
		}
		out[i] = a
	}
	return out
}

func newLeave() *model.Leave {
	return &model.Leave{
		MessID:           7,
		StartDate:        date("2025-01-10"),
		EndDate:          date("2025-01-12"),
		LeaveType:        model.LeaveTypeHoliday,
		Reason:           "New year break",
		MealTypes:        []model.MealType{model.MealBreakfast, model.MealLunch},
		CreatedBy:        100,
		AffectedUsers:    3,
		EstimatedSavings: 900,
	}
}

var (
	lockMess     = regexp.QuoteMeta(`SELECT name FROM messes WHERE id = ? FOR UPDATE`)
	overlapCheck = regexp.QuoteMeta(`AND l.start_date <= ? AND l.end_date >= ?`)
	rereadLeave  = regexp.QuoteMeta(`WHERE l.id = ?`)
)

func TestCreateScheduledRollsBackOnOverlap(t *testing.T) {
	repo, mock := newMockRepo(t)
	l := newLeave()

	mock.ExpectBegin()
	mock.ExpectQuery(lockMess).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Green Mess"))
	mock.ExpectQuery(overlapCheck).WithArgs(driverArgs(overlapArgs(7, l.StartDate, l.EndDate))...).
		WillReturnRows(leaveRow(sqlmock.NewRows(leaveColumns), 3, model.LeaveStatusScheduled))
	mock.ExpectRollback()

	err := repo.CreateScheduled(context.Background(), l, []model.BillingAdjustment{{UserID: 1, CreditAmount: 300}}, nil)
	var oe *OverlapError
	require.True(t, errors.As(err, &oe))
	require.Len(t, oe.Overlaps, 1)
	assert.Equal(t, uint64(3), oe.Overlaps[0].ID)
	assert.Zero(t, l.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScheduledWritesInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	l := newLeave()
	adj := []model.BillingAdjustment{
		{UserID: 1, OriginalAmount: 300, CreditAmount: 300, Status: model.AdjustmentPending},
		{UserID: 2, OriginalAmount: 300, CreditAmount: 300, Status: model.AdjustmentPending},
	}
	rem := &model.LeaveReminder{RemindAt: time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)}

	mock.ExpectBegin()
	mock.ExpectQuery(lockMess).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Green Mess"))
	mock.ExpectQuery(overlapCheck).WillReturnRows(sqlmock.NewRows(leaveColumns))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO mess_leaves`)).
		WithArgs(int64(7), "2025-01-10", "2025-01-12", "holiday", "New year break", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"scheduled", int64(100), int64(3), int64(900)).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO billing_adjustments`)).
		WillReturnResult(sqlmock.NewResult(20, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO leave_reminders`)).
		WithArgs(int64(11), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery(rereadLeave).WithArgs(int64(11)).
		WillReturnRows(leaveRow(sqlmock.NewRows(leaveColumns), 11, model.LeaveStatusScheduled))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateScheduled(context.Background(), l, adj, rem))
	assert.Equal(t, uint64(11), l.ID)
	require.NotNil(t, l.Mess)
	assert.Equal(t, "Green Mess", l.Mess.Name)
	assert.Equal(t, []uint64{20, 21}, []uint64{adj[0].ID, adj[1].ID})
	assert.Equal(t, uint64(11), adj[1].LeaveID)
	assert.Equal(t, uint64(5), rem.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelScheduledReversesInsideTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2025, 1, 9, 18, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`AND status = ? AND start_date > ?`)).
		WithArgs(int64(4), int64(100), "scheduled", "2025-01-09").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE mess_leaves SET status = ?, cancelled_at = ?`)).
		WithArgs("cancelled", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE billing_adjustments SET status = ?, reversed_at = ?`)).
		WithArgs("reversed", sqlmock.AnyArg(), int64(4), "reversed").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM leave_reminders WHERE leave_id = ? AND sent_at IS NULL`)).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(rereadLeave).WithArgs(int64(4)).
		WillReturnRows(leaveRow(sqlmock.NewRows(leaveColumns), 4, model.LeaveStatusCancelled))
	mock.ExpectCommit()

	l, reversed, err := repo.CancelScheduled(context.Background(), 4, 100, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reversed)
	assert.Equal(t, model.LeaveStatusCancelled, l.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelScheduledRefusesStartedLeave(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`AND status = ? AND start_date > ?`)).
		WithArgs(int64(4), int64(100), "scheduled", "2025-01-11").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, _, err := repo.CancelScheduled(context.Background(), 4, 100, time.Date(2025, 1, 11, 8, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrLeaveNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationsSent(t *testing.T) {
	repo, mock := newMockRepo(t)
	update := regexp.QuoteMeta(`UPDATE mess_leaves SET notifications_sent = TRUE`)

	mock.ExpectExec(update).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.MarkNotificationsSent(context.Background(), 4))
	assert.ErrorIs(t, repo.MarkNotificationsSent(context.Background(), 5), ErrLeaveNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
