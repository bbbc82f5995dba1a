// Package storage declares the Storage Contract: a single backend-neutral
// interface two implementations (filesystem, relational) satisfy with
// observationally equivalent behavior. Callers never branch on which
// backend is live.
package storage

import (
	"context"

	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// CommitTurnInput describes the single atomic write set a turn commit
// performs: the new state, the transcript/changelog appends it produces,
// its turn record, and preview cleanup. A plain commit and a
// commit-and-narrate both go through this path — the difference is only
// whether TurnRecord.DM and Discovery are populated — so the "one
// TurnRecord per committed turn" invariant holds unconditionally.
type CommitTurnInput struct {
	Slug            string
	PreviewID       string
	NewState        model.SessionState
	TranscriptLines []string
	ChangelogLines  []map[string]any
	TurnRecord      model.TurnRecord
	Discovery       *model.Discovery
}

// CommitTurnOutput reports the positions the atomic write landed at, used
// to build the HTTP response's log_indices.
type CommitTurnOutput struct {
	State           model.SessionState
	TranscriptCount int64
	ChangelogCount  int64
}

// Storage is the full contract. entropy.Store is embedded because the
// entropy stream, though process-wide rather than session-scoped, is
// persisted by the same backend.
type Storage interface {
	entropy.Store

	// Session lifecycle.
	ListSessions(ctx context.Context) ([]model.Session, error)
	CreateSession(ctx context.Context, slug, templateSlug string) (model.Session, error)
	DeleteSession(ctx context.Context, slug string) error
	LoadState(ctx context.Context, slug string) (model.SessionState, error)
	SaveState(ctx context.Context, slug string, state model.SessionState) error

	// Append logs.
	AppendTranscript(ctx context.Context, slug string, lines []string) ([]model.TextEntry, error)
	AppendChangelog(ctx context.Context, slug string, docs []map[string]any) ([]model.TextEntry, error)
	LoadTranscript(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error)
	LoadChangelog(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error)

	// Turn records.
	LoadTurnRecords(ctx context.Context, slug string, limit int) ([]model.TurnRecord, error)
	LoadTurnRecord(ctx context.Context, slug string, turn int64) (model.TurnRecord, error)
	AppendRollsToTurn(ctx context.Context, slug string, turn int64, rolls []model.RollResult) error

	// Preview.
	SavePreview(ctx context.Context, preview model.Preview) error
	LoadPreview(ctx context.Context, slug, previewID string) (model.Preview, error)
	DeletePreview(ctx context.Context, slug, previewID string) error

	// Turn commit: the single atomic multi-artifact write.
	CommitTurn(ctx context.Context, in CommitTurnInput) (CommitTurnOutput, error)

	// Lock.
	ClaimLock(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error)
	ReleaseLock(ctx context.Context, slug, owner string) error
	GetLock(ctx context.Context, slug string) (model.Lock, bool, error)

	// Snapshots.
	CreateSnapshot(ctx context.Context, slug string, saveType model.SaveType, state model.SessionState) (model.Snapshot, error)
	ListSnapshots(ctx context.Context, slug string, limit int) ([]model.Snapshot, error)
	LoadSnapshot(ctx context.Context, slug, saveID string) (model.Snapshot, error)
	RestoreSnapshot(ctx context.Context, slug, saveID string) (model.SessionState, error)

	// Character.
	LoadCharacter(ctx context.Context, slug string) (model.CharacterRecord, error)
	SaveCharacter(ctx context.Context, slug string, rec model.CharacterRecord, persistShared bool) error

	// Auxiliary documents: whole-document replace, no new invariants.
	LoadDoc(ctx context.Context, slug string, kind model.DocKind) (map[string]any, error)
	SaveDoc(ctx context.Context, slug string, kind model.DocKind, payload map[string]any) error
	DeleteDocKey(ctx context.Context, slug string, kind model.DocKind, key string) error
}
