package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// UserActionRepo stores the audit trail of owner/admin actions on users.
type UserActionRepo struct{ db *sql.DB }

func NewUserActionRepo(db *sql.DB) *UserActionRepo { return &UserActionRepo{db: db} }

// Create inserts the action and assigns its ID.
func (r *UserActionRepo) Create(ctx context.Context, a *model.UserAction) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user_actions (mess_id, actor_id, user_id, action, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.MessID, a.ActorID, a.UserID, string(a.Action), a.Reason, a.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}
