package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
)

// MessLookup is the read side of the mess table.
type MessLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.Mess, error)
	GetByOwner(ctx context.Context, ownerID uint64) (*model.Mess, error)
}

// MessResolver maps a caller to the mess they act on.  Owner lookups are
// cached in process; a mess rarely changes hands.
type MessResolver struct {
	messes MessLookup
	cache  *cache.Cache
}

// NewMessResolver returns a resolver whose cached entries expire after ttl.
// A non-positive ttl disables caching.
func NewMessResolver(messes MessLookup, ttl time.Duration) *MessResolver {
	r := &MessResolver{messes: messes}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

func ownerKey(ownerID uint64) string { return "owner:" + strconv.FormatUint(ownerID, 10) }

// ForOwner returns the mess owned by ownerID or ErrNotAssociated.
func (r *MessResolver) ForOwner(ctx context.Context, ownerID uint64) (*model.Mess, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(ownerKey(ownerID)); ok {
			m := v.(model.Mess)
			return &m, nil
		}
	}
	m, err := r.messes.GetByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrMessNotFound) {
			return nil, ErrNotAssociated
		}
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetDefault(ownerKey(ownerID), *m)
	}
	return m, nil
}

// ForActor resolves the mess for an owner or an admin.  Admins must name
// the mess explicitly; owners always act on their own mess and any
// requested id is ignored.
func (r *MessResolver) ForActor(ctx context.Context, actorID uint64, role model.Role, requestedMessID uint64) (*model.Mess, error) {
	if role != model.RoleAdmin {
		return r.ForOwner(ctx, actorID)
	}
	if requestedMessID == 0 {
		return nil, invalid("messId", "is required for admin requests")
	}
	return r.messes.GetByID(ctx, requestedMessID)
}
