package lockmgr_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/lockmgr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// fakeStore is a minimal in-memory lockmgr.Store.
type fakeStore struct {
	lock  model.Lock
	held  bool
}

func (f *fakeStore) ClaimLock(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error) {
	if f.held && !f.lock.Expired(time.Now()) && f.lock.Owner != owner {
		return model.Lock{}, apierr.Newf(apierr.KindLockHeld, "session %q is held by %q", slug, f.lock.Owner)
	}
	f.lock = model.Lock{SessionSlug: slug, Owner: owner, TTLSeconds: ttlSeconds, AcquiredAt: time.Now()}
	f.held = true
	return f.lock, nil
}

func (f *fakeStore) ReleaseLock(ctx context.Context, slug, owner string) error {
	if !f.held {
		return nil
	}
	if owner != "" && f.lock.Owner != owner {
		return apierr.Newf(apierr.KindLockOwnerMismatch, "lock owned by %q, not %q", f.lock.Owner, owner)
	}
	f.held = false
	return nil
}

func (f *fakeStore) GetLock(ctx context.Context, slug string) (model.Lock, bool, error) {
	return f.lock, f.held, nil
}

func TestRequireFailsWithoutLock(t *testing.T) {
	mgr := lockmgr.New(&fakeStore{})
	_, err := mgr.Require(context.Background(), "sess-1", "alice")

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockRequired, apiErr.Kind)
}

func TestRequireSucceedsForCorrectOwner(t *testing.T) {
	store := &fakeStore{}
	mgr := lockmgr.New(store)
	ctx := context.Background()

	_, err := mgr.Claim(ctx, "sess-1", "alice", 60)
	require.NoError(t, err)

	lock, err := mgr.Require(ctx, "sess-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.Owner)
}

func TestRequireAcceptsEmptyOwnerAsAnyOwner(t *testing.T) {
	store := &fakeStore{}
	mgr := lockmgr.New(store)
	ctx := context.Background()

	_, err := mgr.Claim(ctx, "sess-1", "alice", 60)
	require.NoError(t, err)

	_, err = mgr.Require(ctx, "sess-1", "")
	assert.NoError(t, err)
}

func TestRequireFailsForExpiredLock(t *testing.T) {
	store := &fakeStore{
		lock: model.Lock{SessionSlug: "sess-1", Owner: "alice", TTLSeconds: 1, AcquiredAt: time.Now().Add(-time.Hour)},
		held: true,
	}
	mgr := lockmgr.New(store)

	_, err := mgr.Require(context.Background(), "sess-1", "alice")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockRequired, apiErr.Kind)
}

func TestStatusReportsExpiredLockAsUnheld(t *testing.T) {
	store := &fakeStore{
		lock: model.Lock{SessionSlug: "sess-1", Owner: "alice", TTLSeconds: 1, AcquiredAt: time.Now().Add(-time.Hour)},
		held: true,
	}
	mgr := lockmgr.New(store)

	_, held, err := mgr.Status(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, held)
}
