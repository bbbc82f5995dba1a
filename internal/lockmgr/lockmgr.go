// Package lockmgr implements the per-session lock protocol on top of the
// Storage Contract's lock primitives. The atomicity of claim is the
// backend's responsibility (OS-level exclusive create on the filesystem
// side, a serializable read-then-write transaction on the relational
// side); this package only
// adds the claim/release/require vocabulary and expiry bookkeeping callers
// use.
package lockmgr

import (
	"context"
	"time"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// Store is the subset of the Storage Contract the lock manager needs.
type Store interface {
	ClaimLock(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error)
	ReleaseLock(ctx context.Context, slug, owner string) error
	GetLock(ctx context.Context, slug string) (model.Lock, bool, error)
}

// Manager adapts Store into the claim/release/require operations the
// Turn Engine, Roll Service and HTTP handlers call directly.
type Manager struct {
	store Store
}

// New builds a Manager over store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// Claim succeeds if the session is unlocked, the existing lock has
// expired, or the existing lock is already owned by owner (an idempotent
// refresh). Otherwise it fails LockHeld, naming the current owner in the
// error's details.
func (m *Manager) Claim(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error) {
	lock, err := m.store.ClaimLock(ctx, slug, owner, ttlSeconds)
	if err != nil {
		return model.Lock{}, err
	}
	return lock, nil
}

// Release removes the lock if owner matches the holder or owner is empty
// (the caller declined to assert an owner). Otherwise it fails
// LockOwnerMismatch.
func (m *Manager) Release(ctx context.Context, slug, owner string) error {
	return m.store.ReleaseLock(ctx, slug, owner)
}

// Require fails LockRequired unless slug currently carries an unexpired
// lock owned by owner. An empty owner means "any valid owner will do" —
// used by read-adjacent operations that only need to know the session is
// under someone's control.
func (m *Manager) Require(ctx context.Context, slug, owner string) (model.Lock, error) {
	lock, held, err := m.store.GetLock(ctx, slug)
	if err != nil {
		return model.Lock{}, err
	}
	if !held || lock.Expired(time.Now()) {
		return model.Lock{}, apierr.Newf(apierr.KindLockRequired, "session %q has no active lock", slug)
	}
	if owner != "" && lock.Owner != owner {
		return model.Lock{}, apierr.Newf(apierr.KindLockRequired, "session %q is locked by %q, not %q", slug, lock.Owner, owner)
	}
	return lock, nil
}

// Status reports the current lock, if any, without requiring one — used by
// the HTTP surface's lock_status field.
func (m *Manager) Status(ctx context.Context, slug string) (model.Lock, bool, error) {
	lock, held, err := m.store.GetLock(ctx, slug)
	if err != nil {
		return model.Lock{}, false, err
	}
	if held && lock.Expired(time.Now()) {
		return model.Lock{}, false, nil
	}
	return lock, held, nil
}
