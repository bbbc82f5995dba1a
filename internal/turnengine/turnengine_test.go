package turnengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/dice"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/lockmgr"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/storage"
	"github.com/zhouzirui/turnkeeper/internal/turnengine"
)

// fakeEntropyStore backs entropy.Source in these tests.
type fakeEntropyStore struct{ entries []model.EntropyEntry }

func (f *fakeEntropyStore) EntropyLength(ctx context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}
func (f *fakeEntropyStore) LoadEntropyEntry(ctx context.Context, index int64) (model.EntropyEntry, error) {
	return f.entries[index-1], nil
}
func (f *fakeEntropyStore) LoadEntropyRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error) {
	return f.entries[from-1 : to], nil
}
func (f *fakeEntropyStore) AppendEntropyEntries(ctx context.Context, entries []model.EntropyEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

// fakeLockStore backs lockmgr.Manager, always reporting a held lock for
// whatever owner last claimed it.
type fakeLockStore struct{ lock model.Lock }

func (f *fakeLockStore) ClaimLock(ctx context.Context, slug, owner string, ttl int) (model.Lock, error) {
	f.lock = model.Lock{SessionSlug: slug, Owner: owner, TTLSeconds: ttl, AcquiredAt: time.Now()}
	return f.lock, nil
}
func (f *fakeLockStore) ReleaseLock(ctx context.Context, slug, owner string) error { return nil }
func (f *fakeLockStore) GetLock(ctx context.Context, slug string) (model.Lock, bool, error) {
	return f.lock, f.lock.Owner != "", nil
}

// fakeEngineStore backs the turnengine.Store subset.
type fakeEngineStore struct {
	state    model.SessionState
	previews map[string]model.Preview
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{
		state:    model.SessionState{Turn: 1, HP: 10, MaxHP: 10},
		previews: map[string]model.Preview{},
	}
}

func (f *fakeEngineStore) LoadState(ctx context.Context, slug string) (model.SessionState, error) {
	return f.state, nil
}
func (f *fakeEngineStore) SavePreview(ctx context.Context, preview model.Preview) error {
	f.previews[preview.ID] = preview
	return nil
}
func (f *fakeEngineStore) LoadPreview(ctx context.Context, slug, previewID string) (model.Preview, error) {
	p, ok := f.previews[previewID]
	if !ok {
		return model.Preview{}, apierr.New(apierr.KindPreviewMissing, "preview not found")
	}
	return p, nil
}
func (f *fakeEngineStore) DeletePreview(ctx context.Context, slug, previewID string) error {
	delete(f.previews, previewID)
	return nil
}
func (f *fakeEngineStore) CommitTurn(ctx context.Context, in storage.CommitTurnInput) (storage.CommitTurnOutput, error) {
	f.state = in.NewState
	delete(f.previews, in.PreviewID)
	return storage.CommitTurnOutput{State: in.NewState, TranscriptCount: int64(len(in.TranscriptLines)), ChangelogCount: 1}, nil
}

func newTestEngine(t *testing.T, entropyEntries int) (*turnengine.Engine, *fakeEngineStore, *lockmgr.Manager) {
	t.Helper()
	store := newFakeEngineStore()
	entropySrc := entropy.New(&fakeEntropyStore{})
	require.NoError(t, entropySrc.Extend(context.Background(), 1, entropyEntries))
	locks := lockmgr.New(&fakeLockStore{})
	_, err := locks.Claim(context.Background(), "sess-1", "alice", 60)
	require.NoError(t, err)

	engine := turnengine.New(store, entropySrc, dice.New(), locks, 1)
	return engine, store, locks
}

func TestPreviewNeverMutatesState(t *testing.T) {
	engine, store, _ := newTestEngine(t, 10)
	before := store.state

	_, err := engine.Preview(context.Background(), turnengine.PreviewInput{
		Slug:            "sess-1",
		LockOwner:       "alice",
		StatePatch:      map[string]any{"hp": 5},
		TranscriptEntry: "you take a hit",
	})
	require.NoError(t, err)

	assert.Equal(t, before, store.state)
}

func TestPreviewRequiresLock(t *testing.T) {
	engine, _, _ := newTestEngine(t, 10)

	_, err := engine.Preview(context.Background(), turnengine.PreviewInput{
		Slug:      "sess-1",
		LockOwner: "mallory",
	})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockRequired, apiErr.Kind)
}

func TestCommitAppliesPatchAndAdvancesTurn(t *testing.T) {
	engine, store, _ := newTestEngine(t, 10)
	ctx := context.Background()

	preview, err := engine.Preview(ctx, turnengine.PreviewInput{
		Slug:            "sess-1",
		LockOwner:       "alice",
		StatePatch:      map[string]any{"hp": 5},
		TranscriptEntry: "you take a hit",
	})
	require.NoError(t, err)

	out, err := engine.Commit(ctx, turnengine.CommitInput{
		Slug:      "sess-1",
		PreviewID: preview.ID,
		LockOwner: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), out.State.Turn)
	assert.Equal(t, 5, out.State.HP)
	assert.Equal(t, int64(2), store.state.Turn)
}

func TestCommitFailsPreviewStaleWhenStateDrifted(t *testing.T) {
	engine, store, _ := newTestEngine(t, 10)
	ctx := context.Background()

	preview, err := engine.Preview(ctx, turnengine.PreviewInput{
		Slug:      "sess-1",
		LockOwner: "alice",
	})
	require.NoError(t, err)

	// Simulate a concurrent write drifting the session's state out from
	// under the preview.
	store.state.Turn = 99

	_, err = engine.Commit(ctx, turnengine.CommitInput{
		Slug:      "sess-1",
		PreviewID: preview.ID,
		LockOwner: "alice",
	})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindPreviewStale, apiErr.Kind)

	_, err = store.LoadPreview(ctx, "sess-1", preview.ID)
	apiErr, ok = apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindPreviewMissing, apiErr.Kind, "a stale preview must be deleted, not left around for a retry to reuse")
}

func TestCommitResolvesDiceExpressionsAgainstReservedIndices(t *testing.T) {
	engine, _, _ := newTestEngine(t, 10)
	ctx := context.Background()

	preview, err := engine.Preview(ctx, turnengine.PreviewInput{
		Slug:            "sess-1",
		LockOwner:       "alice",
		DiceExpressions: []string{"1d20"},
		TranscriptEntry: "you swing",
	})
	require.NoError(t, err)
	require.Len(t, preview.EntropyPlan.Indices, 1)

	out, err := engine.Commit(ctx, turnengine.CommitInput{
		Slug:      "sess-1",
		PreviewID: preview.ID,
		LockOwner: "alice",
	})
	require.NoError(t, err)
	require.Len(t, out.Rolls, 1)
	assert.Equal(t, "1d20", out.Rolls[0].Expression)
}

func TestPreviewRejectsInvalidStatePatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, 10)
	ctx := context.Background()

	_, err := engine.Preview(ctx, turnengine.PreviewInput{
		Slug:       "sess-1",
		LockOwner:  "alice",
		StatePatch: map[string]any{"hp": "not-a-number"},
	})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindSchemaViolation, apiErr.Kind)
}
