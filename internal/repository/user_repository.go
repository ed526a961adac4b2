package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// UserRepo reads users of the platform.  Users are owned by the account
// service; this repository never writes them.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, name, email, phone, role, mess_id, is_active, notification_channels, created_at, updated_at"

func scanUser(s rowScanner) (model.User, error) {
	var (
		u        model.User
		role     string
		messID   sql.NullInt64
		channels []byte
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role, &messID, &u.IsActive, &channels, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return u, err
	}
	u.Role = model.NormalizeRole(role)
	if messID.Valid {
		id := uint64(messID.Int64)
		u.MessID = &id
	}
	if len(channels) > 0 {
		// A malformed preference falls back to the default channel.
		_ = json.Unmarshal(channels, &u.NotificationChannels)
	}
	return u, nil
}

// GetMember fetches a user only if they belong to the mess.
func (r *UserRepo) GetMember(ctx context.Context, messID, userID uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? AND mess_id=? LIMIT 1", userID, messID))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrUserNotFound
	}
	return u, err
}

// ListActiveMembers returns the active users with role "user" that belong
// to the mess, ordered by id.  Both spellings of legacy role values are
// normalised on read, so only the canonical value is queried.
func (r *UserRepo) ListActiveMembers(ctx context.Context, messID uint64) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE mess_id=? AND is_active=TRUE AND LOWER(role)=? ORDER BY id ASC",
		messID, string(model.RoleUser))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
