// Package turnengine implements the Turn Engine: the preview/commit
// optimistic-concurrency protocol that is this service's reason for
// existing. Preview reserves a plan against the state observed at preview
// time; commit re-verifies that plan against the state observed at
// commit time and, only if nothing drifted, applies it as one atomic
// write set.
package turnengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/dice"
	"github.com/zhouzirui/turnkeeper/internal/diffpatch"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/lockmgr"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/schema"
	"github.com/zhouzirui/turnkeeper/internal/storage"
)

// Store is the subset of the Storage Contract the Turn Engine calls.
type Store interface {
	LoadState(ctx context.Context, slug string) (model.SessionState, error)
	SavePreview(ctx context.Context, preview model.Preview) error
	LoadPreview(ctx context.Context, slug, previewID string) (model.Preview, error)
	DeletePreview(ctx context.Context, slug, previewID string) error
	CommitTurn(ctx context.Context, in storage.CommitTurnInput) (storage.CommitTurnOutput, error)
}

// Engine wires the lock manager, entropy source, and dice evaluator
// around the Storage Contract to implement §4.5.
type Engine struct {
	store       Store
	entropySrc  *entropy.Source
	diceEval    *dice.Evaluator
	locks       *lockmgr.Manager
	entropySeed int64
}

// New builds an Engine. entropySeed is the process-wide entropy stream
// seed; the Engine stores it but none of its methods read it, and the
// engine itself never extends the stream.
func New(store Store, entropySrc *entropy.Source, diceEval *dice.Evaluator, locks *lockmgr.Manager, entropySeed int64) *Engine {
	return &Engine{store: store, entropySrc: entropySrc, diceEval: diceEval, locks: locks, entropySeed: entropySeed}
}

// PreviewInput carries the preview phase's inputs, named per §4.5.1.
type PreviewInput struct {
	Slug            string
	Response        string
	StatePatch      map[string]any
	TranscriptEntry string
	ChangelogEntry  map[string]any
	DiceExpressions []string
	LockOwner       string
	PlayerIntent    string
}

// EntropyPlan reports which entropy indices a preview reserved.
type EntropyPlan struct {
	Indices []int64 `json:"indices"`
	Usage   string  `json:"usage"`
}

// PreviewOutput is what the preview phase returns to its caller.
type PreviewOutput struct {
	ID          string            `json:"id"`
	Diffs       []model.DiffEntry `json:"diffs"`
	EntropyPlan EntropyPlan       `json:"entropy_plan"`
}

// Preview implements §4.5.1. It never mutates state, logs, or the
// entropy cursor — it only witnesses the state at this moment and
// reserves entropy indices for a commit that may or may not follow.
func (e *Engine) Preview(ctx context.Context, in PreviewInput) (PreviewOutput, error) {
	if _, err := e.locks.Require(ctx, in.Slug, in.LockOwner); err != nil {
		return PreviewOutput{}, err
	}

	state, err := e.store.LoadState(ctx, in.Slug)
	if err != nil {
		return PreviewOutput{}, err
	}
	baseHash := diffpatch.StableHash(state.ToMap())

	if in.StatePatch == nil {
		in.StatePatch = map[string]any{}
	}
	if err := schema.Validate(schema.StatePatchSchema, in.StatePatch); err != nil {
		return PreviewOutput{}, err
	}

	count := int64(len(in.DiceExpressions))
	target := state.LogIndex + count
	if err := e.entropySrc.EnsureAvailable(ctx, target); err != nil {
		return PreviewOutput{}, err
	}
	reserved := make([]int64, 0, count)
	for i := state.LogIndex + 1; i <= target; i++ {
		reserved = append(reserved, i)
	}

	merged := diffpatch.Apply(state.ToMap(), in.StatePatch)
	diffs := diffpatch.Diff(state.ToMap(), merged)

	transcriptEntry := in.TranscriptEntry
	if transcriptEntry == "" {
		transcriptEntry = in.Response
	}

	preview := model.Preview{
		ID:              uuid.NewString(),
		SessionSlug:     in.Slug,
		BaseTurn:        state.Turn,
		BaseHash:        baseHash,
		StatePatch:      in.StatePatch,
		TranscriptEntry: transcriptEntry,
		ChangelogEntry:  in.ChangelogEntry,
		DiceExpressions: in.DiceExpressions,
		ReservedIndices: reserved,
		CreatedAt:       time.Now(),
		LockOwner:       in.LockOwner,
		PlayerIntent:    in.PlayerIntent,
	}
	if err := e.store.SavePreview(ctx, preview); err != nil {
		return PreviewOutput{}, err
	}

	usage := fmt.Sprintf("%d roll(s)", len(in.DiceExpressions))
	if len(in.DiceExpressions) == 0 {
		usage = "0 rolls"
	}
	return PreviewOutput{
		ID:          preview.ID,
		Diffs:       diffs,
		EntropyPlan: EntropyPlan{Indices: reserved, Usage: usage},
	}, nil
}

// CommitInput carries the commit phase's inputs. DM and Discovery are
// nil for a plain commit and populated for commit-and-narrate — either
// way a TurnRecord is always persisted, so the "one record per committed
// turn" invariant holds regardless of which route was used.
type CommitInput struct {
	Slug            string
	PreviewID       string
	LockOwner       string
	PlayerIntent    string
	ConsequenceEcho string
	DM              *model.DMNarration
	Discovery       *model.Discovery
}

// LogIndices reports the 1-based last position each log landed at.
type LogIndices struct {
	Transcript int64 `json:"transcript"`
	Changelog  int64 `json:"changelog"`
}

// CommitOutput is what the commit phase returns.
type CommitOutput struct {
	State             model.SessionState `json:"state"`
	LogIndices        LogIndices         `json:"log_indices"`
	Rolls             []model.RollResult `json:"rolls,omitempty"`
	TranscriptEntries []model.TextEntry  `json:"-"`
	ChangelogEntries  []model.TextEntry  `json:"-"`
}

// Commit implements §4.5.2 as a single logical operation; the actual
// atomicity of the write set is the Storage Contract's CommitTurn, which
// this method builds the input for.
func (e *Engine) Commit(ctx context.Context, in CommitInput) (CommitOutput, error) {
	if _, err := e.locks.Require(ctx, in.Slug, in.LockOwner); err != nil {
		return CommitOutput{}, err
	}

	preview, err := e.store.LoadPreview(ctx, in.Slug, in.PreviewID)
	if err != nil {
		return CommitOutput{}, err
	}

	state, err := e.store.LoadState(ctx, in.Slug)
	if err != nil {
		return CommitOutput{}, err
	}
	currentHash := diffpatch.StableHash(state.ToMap())
	if state.Turn != preview.BaseTurn || currentHash != preview.BaseHash {
		_ = e.store.DeletePreview(ctx, in.Slug, in.PreviewID)
		return CommitOutput{}, apierr.Newf(apierr.KindPreviewStale, "preview %q no longer matches session %q's state", in.PreviewID, in.Slug)
	}

	var entries []model.EntropyEntry
	if len(preview.ReservedIndices) > 0 {
		entries, err = e.entropySrc.LoadRange(ctx, preview.ReservedIndices[0], preview.ReservedIndices[len(preview.ReservedIndices)-1])
		if err != nil {
			return CommitOutput{}, err
		}
	}

	rolls := make([]model.RollResult, 0, len(preview.DiceExpressions))
	for i, expr := range preview.DiceExpressions {
		idx := preview.ReservedIndices[i]
		entry := entries[idx-preview.ReservedIndices[0]]
		res, err := e.diceEval.Evaluate(expr, entry)
		if err != nil {
			if err == dice.ErrExpressionInvalid {
				return CommitOutput{}, apierr.Newf(apierr.KindExpressionInvalid, "dice expression %q is invalid", expr)
			}
			return CommitOutput{}, apierr.Newf(apierr.KindEntropyMissing, "entropy entry %d exhausted for expression %q", idx, expr)
		}
		rolls = append(rolls, model.RollResult{
			Expression:      expr,
			Total:           res.Total,
			Breakdown:       res.Breakdown,
			ConsumedIndices: []int64{idx},
		})
	}

	beforeMap := state.ToMap()
	mergedMap := diffpatch.Apply(beforeMap, preview.StatePatch)
	newState := model.FromMap(mergedMap)
	newState.Turn = state.Turn + 1
	if len(preview.ReservedIndices) > 0 {
		highest := preview.ReservedIndices[len(preview.ReservedIndices)-1]
		if highest > state.LogIndex {
			newState.LogIndex = highest
		} else {
			newState.LogIndex = state.LogIndex
		}
	} else {
		newState.LogIndex = state.LogIndex
	}

	if err := schema.Validate(schema.SessionStateSchema, newState.ToMap()); err != nil {
		return CommitOutput{}, err
	}

	diffs := diffpatch.Diff(beforeMap, newState.ToMap())

	transcriptLines := []string{preview.TranscriptEntry}
	for _, r := range rolls {
		transcriptLines = append(transcriptLines, fmt.Sprintf("Rolled %s: %s", r.Expression, r.Breakdown))
	}

	changelogDoc := map[string]any{}
	for k, v := range preview.ChangelogEntry {
		changelogDoc[k] = v
	}
	changelogDoc["turn"] = newState.Turn
	if len(diffs) > 0 {
		changelogDoc["diff"] = diffs
	}
	if len(preview.ReservedIndices) > 0 {
		changelogDoc["entropy_indices"] = preview.ReservedIndices
	}

	playerIntent := in.PlayerIntent
	if playerIntent == "" {
		playerIntent = preview.PlayerIntent
	}

	turnRecord := model.TurnRecord{
		Turn:            newState.Turn,
		PlayerIntent:    playerIntent,
		Diff:            diffs,
		ConsequenceEcho: in.ConsequenceEcho,
		DM:              in.DM,
		CreatedAt:       time.Now(),
		Rolls:           rolls,
	}

	out, err := e.store.CommitTurn(ctx, storage.CommitTurnInput{
		Slug:            in.Slug,
		PreviewID:       in.PreviewID,
		NewState:        newState,
		TranscriptLines: transcriptLines,
		ChangelogLines:  []map[string]any{changelogDoc},
		TurnRecord:      turnRecord,
		Discovery:       in.Discovery,
	})
	if err != nil {
		return CommitOutput{}, err
	}

	transcriptEntries := make([]model.TextEntry, 0, len(transcriptLines))
	transcriptStart := out.TranscriptCount - int64(len(transcriptLines)) + 1
	for i, line := range transcriptLines {
		transcriptEntries = append(transcriptEntries, model.TextEntry{Position: transcriptStart + int64(i), Text: line})
	}
	changelogLine, err := json.Marshal(changelogDoc)
	if err != nil {
		return CommitOutput{}, apierr.Wrap(apierr.KindInternal, err, "encode changelog delta")
	}

	return CommitOutput{
		State:             out.State,
		LogIndices:        LogIndices{Transcript: out.TranscriptCount, Changelog: out.ChangelogCount},
		Rolls:             rolls,
		TranscriptEntries: transcriptEntries,
		ChangelogEntries:  []model.TextEntry{{Position: out.ChangelogCount, Text: string(changelogLine)}},
	}, nil
}
