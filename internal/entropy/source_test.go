package entropy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// memStore is a minimal in-memory entropy.Store for exercising Source
// without a real storage backend.
type memStore struct {
	entries []model.EntropyEntry
}

func (m *memStore) EntropyLength(ctx context.Context) (int64, error) {
	return int64(len(m.entries)), nil
}

func (m *memStore) LoadEntropyEntry(ctx context.Context, index int64) (model.EntropyEntry, error) {
	return m.entries[index-1], nil
}

func (m *memStore) LoadEntropyRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error) {
	return m.entries[from-1 : to], nil
}

func (m *memStore) AppendEntropyEntries(ctx context.Context, entries []model.EntropyEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func TestExtendIsDeterministic(t *testing.T) {
	storeA := &memStore{}
	storeB := &memStore{}
	srcA := entropy.New(storeA)
	srcB := entropy.New(storeB)

	require.NoError(t, srcA.Extend(context.Background(), 42, 10))
	require.NoError(t, srcB.Extend(context.Background(), 42, 10))

	assert.Equal(t, storeA.entries, storeB.entries)
}

func TestExtendContinuesFromCurrentLength(t *testing.T) {
	store := &memStore{}
	src := entropy.New(store)
	ctx := context.Background()

	require.NoError(t, src.Extend(ctx, 1, 5))
	require.NoError(t, src.Extend(ctx, 1, 5))

	require.Len(t, store.entries, 10)
	assert.Equal(t, int64(1), store.entries[0].Index)
	assert.Equal(t, int64(10), store.entries[9].Index)
}

func TestEnsureAvailableFailsWhenShortOfTarget(t *testing.T) {
	store := &memStore{}
	src := entropy.New(store)
	ctx := context.Background()
	require.NoError(t, src.Extend(ctx, 1, 3))

	err := src.EnsureAvailable(ctx, 5)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindEntropyExhausted, apiErr.Kind)
}

func TestEnsureAvailableNeverExtendsStream(t *testing.T) {
	store := &memStore{}
	src := entropy.New(store)
	ctx := context.Background()
	require.NoError(t, src.Extend(ctx, 1, 3))

	_ = src.EnsureAvailable(ctx, 100)

	length, err := src.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)
}

func TestLoadRejectsOutOfRangeIndex(t *testing.T) {
	store := &memStore{}
	src := entropy.New(store)
	ctx := context.Background()
	require.NoError(t, src.Extend(ctx, 1, 2))

	_, err := src.Load(ctx, 5)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindEntropyMissing, apiErr.Kind)
}

func TestPeekNeverErrorsPastEndOfStream(t *testing.T) {
	store := &memStore{}
	src := entropy.New(store)
	ctx := context.Background()
	require.NoError(t, src.Extend(ctx, 1, 2))

	got, err := src.Peek(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGenerateEntryIsPure(t *testing.T) {
	a := entropy.GenerateEntry(7, 100)
	b := entropy.GenerateEntry(7, 100)
	assert.Equal(t, a, b)

	c := entropy.GenerateEntry(7, 101)
	assert.NotEqual(t, a.D20, c.D20)
}
