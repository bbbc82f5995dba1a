package fsstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/storage"
	"github.com/zhouzirui/turnkeeper/internal/storage/fsstore"
)

func newTestStore(t *testing.T) *fsstore.FSStore {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestCreateSessionStartsFromZeroState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)
	assert.Equal(t, "camp-1", sess.Slug)
	assert.False(t, sess.HasLock)

	state, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Turn)
}

func TestCreateSessionRejectsDuplicateSlug(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	_, err = store.CreateSession(ctx, "camp-1", "")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestCreateSessionRejectsSlugWithPathSeparators(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession(context.Background(), "../escape", "")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindSchemaViolation, apiErr.Kind)
}

func TestCreateSessionFromTemplateClonesStateAndZeroesTurn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "template-1", "")
	require.NoError(t, err)
	templateState, err := store.LoadState(ctx, "template-1")
	require.NoError(t, err)
	templateState.Turn = 7
	templateState.LogIndex = 3
	templateState.HP = 42
	require.NoError(t, store.SaveState(ctx, "template-1", templateState))

	clone, err := store.CreateSession(ctx, "camp-2", "template-1")
	require.NoError(t, err)
	assert.Equal(t, "camp-2", clone.Slug)

	cloneState, err := store.LoadState(ctx, "camp-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cloneState.Turn, "turn must be zeroed on clone")
	assert.Equal(t, int64(0), cloneState.LogIndex, "log_index must be zeroed on clone")
	assert.Equal(t, 42, cloneState.HP, "non-progress fields clone verbatim")
}

func TestCreateSessionFromMissingTemplateFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession(context.Background(), "camp-3", "no-such-template")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindSessionMissing, apiErr.Kind)
}

func TestListSessionsReflectsLockHeldStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-a", "")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "camp-b", "")
	require.NoError(t, err)

	_, err = store.ClaimLock(ctx, "camp-a", "alice", 60)
	require.NoError(t, err)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byLock := map[string]bool{}
	for _, s := range sessions {
		byLock[s.Slug] = s.HasLock
	}
	assert.True(t, byLock["camp-a"])
	assert.False(t, byLock["camp-b"])
}

func TestDeleteSessionRemovesItFromListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, "camp-1"))

	_, err = store.LoadState(ctx, "camp-1")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindSessionMissing, apiErr.Kind)
}

func TestSaveStateRoundTripsExtraFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	state, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	state.HP = 9
	state.Extra = map[string]any{"mood": "tense"}
	require.NoError(t, store.SaveState(ctx, "camp-1", state))

	reloaded, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.HP)
	assert.Equal(t, "tense", reloaded.Extra["mood"])
}

func TestClaimLockExcludesOtherOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	_, err = store.ClaimLock(ctx, "camp-1", "alice", 60)
	require.NoError(t, err)

	_, err = store.ClaimLock(ctx, "camp-1", "bob", 60)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockHeld, apiErr.Kind)
}

func TestClaimLockAllowsSameOwnerRefresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	first, err := store.ClaimLock(ctx, "camp-1", "alice", 60)
	require.NoError(t, err)

	second, err := store.ClaimLock(ctx, "camp-1", "alice", 120)
	require.NoError(t, err)
	assert.Equal(t, "alice", second.Owner)
	assert.True(t, second.AcquiredAt.After(first.AcquiredAt) || second.AcquiredAt.Equal(first.AcquiredAt))
}

func TestClaimLockReclaimsAfterExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	_, err = store.ClaimLock(ctx, "camp-1", "alice", -1)
	require.NoError(t, err)

	lock, err := store.ClaimLock(ctx, "camp-1", "bob", 60)
	require.NoError(t, err)
	assert.Equal(t, "bob", lock.Owner)
}

func TestReleaseLockIsIdempotentWhenUnlocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	assert.NoError(t, store.ReleaseLock(ctx, "camp-1", "alice"))
}

func TestReleaseLockRejectsWrongOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)
	_, err = store.ClaimLock(ctx, "camp-1", "alice", 60)
	require.NoError(t, err)

	err = store.ReleaseLock(ctx, "camp-1", "mallory")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockOwnerMismatch, apiErr.Kind)
}

func TestGetLockDoesNotEvaluateExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)
	_, err = store.ClaimLock(ctx, "camp-1", "alice", -1)
	require.NoError(t, err)

	lock, held, err := store.GetLock(ctx, "camp-1")
	require.NoError(t, err)
	assert.True(t, held, "GetLock reports raw presence, not liveness")
	assert.True(t, lock.Expired(time.Now()))
}

func TestAppendTranscriptPaginatesByTail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	_, err = store.AppendTranscript(ctx, "camp-1", []string{"line a", "line b", "line c"})
	require.NoError(t, err)

	entries, cursor, err := store.LoadTranscript(ctx, "camp-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "line b", entries[0].Text)
	assert.Equal(t, "line c", entries[1].Text)
	assert.Equal(t, entries[len(entries)-1].Position, cursor)
}

func TestLoadChangelogByCursorReturnsOnlyNewerEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	entries, err := store.AppendChangelog(ctx, "camp-1", []map[string]any{{"a": 1}, {"b": 2}})
	require.NoError(t, err)
	cursor := entries[0].Position

	more, newCursor, err := store.LoadChangelog(ctx, "camp-1", 0, cursor)
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Greater(t, newCursor, cursor)
}

func TestCommitTurnWritesStateTranscriptChangelogAndTurnRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	preview := model.Preview{ID: "prev-1", SessionSlug: "camp-1"}
	require.NoError(t, store.SavePreview(ctx, preview))

	newState := model.SessionState{Turn: 1, HP: 9, Flags: map[string]any{}, Extra: map[string]any{}}
	out, err := store.CommitTurn(ctx, storage.CommitTurnInput{
		Slug:            "camp-1",
		PreviewID:       "prev-1",
		NewState:        newState,
		TranscriptLines: []string{"you strike true"},
		ChangelogLines:  []map[string]any{{"turn": 1}},
		TurnRecord:      model.TurnRecord{Turn: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.State.Turn)

	state, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 9, state.HP)

	rec, err := store.LoadTurnRecord(ctx, "camp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Turn)

	_, err = store.LoadPreview(ctx, "camp-1", "prev-1")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindPreviewMissing, apiErr.Kind, "commit must clean up the spent preview")
}

func TestCommitTurnRollsBackOnDuplicateTurnRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	in := storage.CommitTurnInput{
		Slug:            "camp-1",
		PreviewID:       "prev-x",
		NewState:        model.SessionState{Turn: 1, Flags: map[string]any{}, Extra: map[string]any{}},
		TranscriptLines: []string{"first"},
		TurnRecord:      model.TurnRecord{Turn: 1},
	}
	_, err = store.CommitTurn(ctx, in)
	require.NoError(t, err)

	before, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)

	// A second commit reusing the same turn number collides on the
	// turn-record file; the whole write set must roll back.
	in.NewState = model.SessionState{Turn: 1, HP: 99, Flags: map[string]any{}, Extra: map[string]any{}}
	in.TranscriptLines = []string{"second"}
	_, err = store.CommitTurn(ctx, in)
	require.Error(t, err)

	after, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "state must roll back to its pre-commit value")

	transcript, _, err := store.LoadTranscript(ctx, "camp-1", 0, 0)
	require.NoError(t, err)
	for _, e := range transcript {
		assert.NotEqual(t, "second", e.Text)
	}
}

func TestCreateSnapshotAndRestoreJumpsStateVerbatim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	snapState := model.SessionState{Turn: 5, HP: 3, Flags: map[string]any{}, Extra: map[string]any{}}
	snap, err := store.CreateSnapshot(ctx, "camp-1", model.SaveTypeManual, snapState)
	require.NoError(t, err)

	// Drift current state away from the snapshot.
	drifted := model.SessionState{Turn: 40, HP: 1, Flags: map[string]any{}, Extra: map[string]any{}}
	require.NoError(t, store.SaveState(ctx, "camp-1", drifted))

	restored, err := store.RestoreSnapshot(ctx, "camp-1", snap.SaveID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), restored.Turn)
	assert.Equal(t, 3, restored.HP)

	current, err := store.LoadState(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), current.Turn)
}

func TestLoadSnapshotMissingReusesConflictKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	_, err = store.LoadSnapshot(ctx, "camp-1", "no-such-save")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestSaveAndLoadDocRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	doc, err := store.LoadDoc(ctx, "camp-1", model.DocQuests)
	require.NoError(t, err)
	assert.Empty(t, doc)

	require.NoError(t, store.SaveDoc(ctx, "camp-1", model.DocQuests, map[string]any{"q1": "find the lamp"}))
	doc, err = store.LoadDoc(ctx, "camp-1", model.DocQuests)
	require.NoError(t, err)
	assert.Equal(t, "find the lamp", doc["q1"])

	require.NoError(t, store.DeleteDocKey(ctx, "camp-1", model.DocQuests, "q1"))
	doc, err = store.LoadDoc(ctx, "camp-1", model.DocQuests)
	require.NoError(t, err)
	assert.NotContains(t, doc, "q1")
}

func TestDeleteDocKeyOnAbsentKeyIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	assert.NoError(t, store.DeleteDocKey(ctx, "camp-1", model.DocQuests, "never-written"))
}

func TestSaveCharacterMirrorsSharedCatalogWhenRequested(t *testing.T) {
	root := t.TempDir()
	store, err := fsstore.New(root)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "camp-2", "")
	require.NoError(t, err)

	rec := model.CharacterRecord{Data: map[string]any{"name": "Tav"}}
	require.NoError(t, store.SaveCharacter(ctx, "camp-1", rec, true))

	loaded, err := store.LoadCharacter(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "Tav", loaded.Data["name"])

	_, err = os.Stat(filepath.Join(root, "characters", "camp-1.json"))
	assert.NoError(t, err, "persist_shared must mirror the sheet into the shared catalog")
}

func TestLoadCharacterReturnsEmptyRecordWhenNeverWritten(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "camp-1", "")
	require.NoError(t, err)

	rec, err := store.LoadCharacter(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "camp-1", rec.Slug)
	assert.Empty(t, rec.Data)
}

func TestEntropyStreamAppendsWithoutRewritingExistingEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEntropyEntries(ctx, []model.EntropyEntry{{Index: 1, D20: []int{42}}}))
	require.NoError(t, store.AppendEntropyEntries(ctx, []model.EntropyEntry{{Index: 2, D20: []int{7}}}))

	length, err := store.EntropyLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	first, err := store.LoadEntropyEntry(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, first.D20)

	entries, err := store.LoadEntropyRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLoadEntropyRangeBeyondLengthFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendEntropyEntries(ctx, []model.EntropyEntry{{Index: 1, D20: []int{1}}}))

	_, err := store.LoadEntropyRange(ctx, 1, 5)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindEntropyMissing, apiErr.Kind)
}
