package repository

import (
	"context"      // context allows passing deadlines and cancellation signals to DB operations
	"database/sql" // sql provides generic database operations and drivers
	"errors"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// MessRepo encapsulates read queries on messes.  Messes are created and
// edited by the wider platform; the leave service only resolves them.
type MessRepo struct {
	db *sql.DB // db is the underlying database connection pool
}

// NewMessRepo constructs a MessRepo with the provided DB handle.
func NewMessRepo(db *sql.DB) *MessRepo {
	return &MessRepo{db: db}
}

// GetByID fetches a mess by its ID.  It returns ErrMessNotFound if no row
// is found.
func (r *MessRepo) GetByID(ctx context.Context, id uint64) (*model.Mess, error) {
	const q = "SELECT id, owner_id, name, created_at, updated_at FROM messes WHERE id = ?"
	var m model.Mess
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&m.ID, &m.OwnerID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetByOwner fetches the mess owned by the given user.  An owner has at
// most one mess; if several rows exist the oldest wins.
func (r *MessRepo) GetByOwner(ctx context.Context, ownerID uint64) (*model.Mess, error) {
	const q = "SELECT id, owner_id, name, created_at, updated_at FROM messes WHERE owner_id = ? ORDER BY id ASC LIMIT 1"
	var m model.Mess
	if err := r.db.QueryRowContext(ctx, q, ownerID).Scan(&m.ID, &m.OwnerID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessNotFound
		}
		return nil, err
	}
	return &m, nil
}
