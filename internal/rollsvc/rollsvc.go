// Package rollsvc implements the Roll Service: ad-hoc dice rolls a caller
// makes while holding a session's lock, outside the preview/commit flow.
// A roll still consumes entropy in strict index order and still gets
// logged, but the only SessionState field it changes is log_index — it
// attaches to whichever turn is current when it happens.
package rollsvc

import (
	"context"
	"fmt"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/dice"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/lockmgr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// Store is the subset of the Storage Contract the Roll Service calls.
type Store interface {
	LoadState(ctx context.Context, slug string) (model.SessionState, error)
	SaveState(ctx context.Context, slug string, state model.SessionState) error
	AppendTranscript(ctx context.Context, slug string, lines []string) ([]model.TextEntry, error)
	LoadTurnRecord(ctx context.Context, slug string, turn int64) (model.TurnRecord, error)
	AppendRollsToTurn(ctx context.Context, slug string, turn int64, rolls []model.RollResult) error
}

// Service resolves ad-hoc rolls.
type Service struct {
	store      Store
	entropySrc *entropy.Source
	diceEval   *dice.Evaluator
	locks      *lockmgr.Manager
}

// New builds a Service.
func New(store Store, entropySrc *entropy.Source, diceEval *dice.Evaluator, locks *lockmgr.Manager) *Service {
	return &Service{store: store, entropySrc: entropySrc, diceEval: diceEval, locks: locks}
}

// RollInput describes one ad-hoc roll request. Unlike a turn preview, a
// roll never carries a state patch — it only consumes entropy and logs.
type RollInput struct {
	Slug        string
	Owner       string
	Expressions []string
}

// RollOutput is returned to the caller and published on the Live Update
// Bus for the session's subscribers.
type RollOutput struct {
	Turn            int64              `json:"turn"`
	Items           []model.RollResult `json:"items"`
	TranscriptLines []model.TextEntry  `json:"transcript_lines"`
}

// Roll requires the caller to hold owner's lock on slug, then resolves
// each expression against the next reserved entropy indices in order,
// failing LockRequired if the lock is missing and EntropyExhausted if the
// stream has not been extended far enough.
func (s *Service) Roll(ctx context.Context, in RollInput) (RollOutput, error) {
	if _, err := s.locks.Require(ctx, in.Slug, in.Owner); err != nil {
		return RollOutput{}, err
	}
	if len(in.Expressions) == 0 {
		return RollOutput{}, apierr.New(apierr.KindExpressionInvalid, "at least one dice expression is required")
	}

	state, err := s.store.LoadState(ctx, in.Slug)
	if err != nil {
		return RollOutput{}, err
	}

	target := state.LogIndex + int64(len(in.Expressions))
	if err := s.entropySrc.EnsureAvailable(ctx, target); err != nil {
		return RollOutput{}, err
	}
	entries, err := s.entropySrc.LoadRange(ctx, state.LogIndex+1, target)
	if err != nil {
		return RollOutput{}, err
	}

	items := make([]model.RollResult, 0, len(in.Expressions))
	lines := make([]string, 0, len(in.Expressions))
	for i, expr := range in.Expressions {
		idx := state.LogIndex + 1 + int64(i)
		res, err := s.diceEval.Evaluate(expr, entries[i])
		if err != nil {
			if err == dice.ErrExpressionInvalid {
				return RollOutput{}, apierr.Newf(apierr.KindExpressionInvalid, "dice expression %q is invalid", expr)
			}
			return RollOutput{}, apierr.Newf(apierr.KindEntropyMissing, "entropy entry %d exhausted for expression %q", idx, expr)
		}
		items = append(items, model.RollResult{
			Expression:      expr,
			Total:           res.Total,
			Breakdown:       res.Breakdown,
			ConsumedIndices: []int64{idx},
		})
		lines = append(lines, fmt.Sprintf("Rolled %s: %s", expr, res.Breakdown))
	}

	// Whether to attach the roll to a turn record is decided before any
	// state/transcript mutation, so a session with no record yet for the
	// current turn (e.g. a fresh session at turn 0) cannot fail the roll
	// after it has already bumped log_index and logged the transcript line.
	hasTurnRecord, err := s.turnRecordExists(ctx, in.Slug, state.Turn)
	if err != nil {
		return RollOutput{}, err
	}

	state.LogIndex = target
	if err := s.store.SaveState(ctx, in.Slug, state); err != nil {
		return RollOutput{}, err
	}

	textEntries, err := s.store.AppendTranscript(ctx, in.Slug, lines)
	if err != nil {
		return RollOutput{}, err
	}

	if hasTurnRecord {
		if err := s.store.AppendRollsToTurn(ctx, in.Slug, state.Turn, items); err != nil {
			return RollOutput{}, err
		}
	}

	return RollOutput{Turn: state.Turn, Items: items, TranscriptLines: textEntries}, nil
}

// turnRecordExists reports whether a turn record already exists for turn,
// per spec §4.6: a roll only attaches to a turn record that exists, it
// never creates one. A missing record surfaces as KindConflict; any other
// error is propagated.
func (s *Service) turnRecordExists(ctx context.Context, slug string, turn int64) (bool, error) {
	_, err := s.store.LoadTurnRecord(ctx, slug, turn)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindConflict {
		return false, nil
	}
	return false, err
}
