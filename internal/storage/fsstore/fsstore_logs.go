package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/storage"
)

// AppendTranscript appends lines to the session's narrative log and
// returns the TextEntry records the appended lines landed at.
func (s *FSStore) AppendTranscript(ctx context.Context, slug string, lines []string) ([]model.TextEntry, error) {
	lock := s.lockFor(slug)
	lock.Lock()
	defer lock.Unlock()
	return s.appendTranscriptLocked(slug, lines)
}

func (s *FSStore) appendTranscriptLocked(slug string, lines []string) ([]model.TextEntry, error) {
	existing, err := readNonBlankLines(s.transcriptPath(slug))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read transcript")
	}
	start := len(existing)
	all := append(existing, lines...)
	if err := rewriteLines(s.transcriptPath(slug), all); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "append transcript")
	}
	out := make([]model.TextEntry, 0, len(lines))
	for i, line := range lines {
		out = append(out, model.TextEntry{Position: int64(start + i + 1), Text: line})
	}
	return out, nil
}

// AppendChangelog appends one JSON line per doc and returns the
// resulting TextEntry records.
func (s *FSStore) AppendChangelog(ctx context.Context, slug string, docs []map[string]any) ([]model.TextEntry, error) {
	lock := s.lockFor(slug)
	lock.Lock()
	defer lock.Unlock()
	return s.appendChangelogLocked(slug, docs)
}

func (s *FSStore) appendChangelogLocked(slug string, docs []map[string]any) ([]model.TextEntry, error) {
	existing, err := readNonBlankLines(s.changelogPath(slug))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read changelog")
	}
	start := len(existing)
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		line, err := jsonLine(d)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "encode changelog entry")
		}
		lines = append(lines, line)
	}
	all := append(existing, lines...)
	if err := rewriteLines(s.changelogPath(slug), all); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "append changelog")
	}
	out := make([]model.TextEntry, 0, len(lines))
	for i, line := range lines {
		out = append(out, model.TextEntry{Position: int64(start + i + 1), Text: line})
	}
	return out, nil
}

func paginate(entries []model.TextEntry, tail int, cursor int64) ([]model.TextEntry, int64) {
	var filtered []model.TextEntry
	if cursor > 0 {
		for _, e := range entries {
			if e.Position > cursor {
				filtered = append(filtered, e)
			}
		}
	} else if tail > 0 && tail < len(entries) {
		filtered = entries[len(entries)-tail:]
	} else {
		filtered = entries
	}
	newCursor := cursor
	if len(filtered) > 0 {
		newCursor = filtered[len(filtered)-1].Position
	}
	return filtered, newCursor
}

func loadTextEntries(path string) ([]model.TextEntry, error) {
	lines, err := readNonBlankLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.TextEntry, 0, len(lines))
	for i, l := range lines {
		out = append(out, model.TextEntry{Position: int64(i + 1), Text: l})
	}
	return out, nil
}

// LoadTranscript returns the session's narrative log, paginated by tail or
// cursor (cursor takes precedence when both are given).
func (s *FSStore) LoadTranscript(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error) {
	entries, err := loadTextEntries(s.transcriptPath(slug))
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.KindInternal, err, "read transcript")
	}
	filtered, newCursor := paginate(entries, tail, cursor)
	return filtered, newCursor, nil
}

// LoadChangelog returns the session's structured changelog, paginated
// identically to LoadTranscript.
func (s *FSStore) LoadChangelog(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error) {
	entries, err := loadTextEntries(s.changelogPath(slug))
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.KindInternal, err, "read changelog")
	}
	filtered, newCursor := paginate(entries, tail, cursor)
	return filtered, newCursor, nil
}

func (s *FSStore) turnRecordPath(slug string, turn int64) string {
	return filepath.Join(s.turnsDir(slug), strconv.FormatInt(turn, 10)+".json")
}

func (s *FSStore) writeTurnRecordLocked(slug string, rec model.TurnRecord) error {
	if fileExists(s.turnRecordPath(slug, rec.Turn)) {
		return apierr.Newf(apierr.KindInternal, "turn record for session %q turn %d already exists", slug, rec.Turn)
	}
	return writeJSONAtomic(s.turnRecordPath(slug, rec.Turn), rec)
}

// LoadTurnRecords returns the most recent limit turn records, newest last
// (turn-ascending), or every record if limit <= 0.
func (s *FSStore) LoadTurnRecords(ctx context.Context, slug string, limit int) ([]model.TurnRecord, error) {
	entries, err := os.ReadDir(s.turnsDir(slug))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "list turn records")
	}
	turns := make([]int64, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		n, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		turns = append(turns, n)
	}
	sortInt64s(turns)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]model.TurnRecord, 0, len(turns))
	for _, t := range turns {
		var rec model.TurnRecord
		if err := readJSON(s.turnRecordPath(slug, t), &rec); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "read turn record")
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadTurnRecord returns the single turn record for turn, if it exists.
func (s *FSStore) LoadTurnRecord(ctx context.Context, slug string, turn int64) (model.TurnRecord, error) {
	var rec model.TurnRecord
	if err := readJSON(s.turnRecordPath(slug, turn), &rec); err != nil {
		if os.IsNotExist(err) {
			return model.TurnRecord{}, apierr.Newf(apierr.KindConflict, "no turn record for turn %d", turn)
		}
		return model.TurnRecord{}, apierr.Wrap(apierr.KindInternal, err, "read turn record")
	}
	return rec, nil
}

// AppendRollsToTurn appends ad-hoc roll results to an existing turn's
// record, used by the Roll Service when a turn record already exists for
// the session's current turn.
func (s *FSStore) AppendRollsToTurn(ctx context.Context, slug string, turn int64, rolls []model.RollResult) error {
	lock := s.lockFor(slug)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.LoadTurnRecord(ctx, slug, turn)
	if err != nil {
		return err
	}
	rec.Rolls = append(rec.Rolls, rolls...)
	return writeJSONAtomic(s.turnRecordPath(slug, turn), rec)
}

// SavePreview persists a preview document addressed by its own id.
func (s *FSStore) SavePreview(ctx context.Context, preview model.Preview) error {
	if err := ensureDir(s.previewsDir(preview.SessionSlug)); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(s.previewsDir(preview.SessionSlug), preview.ID+".json"), preview)
}

// LoadPreview returns the preview addressed by previewID, or
// PreviewMissing if it does not exist (already committed, cancelled, or
// garbage-collected).
func (s *FSStore) LoadPreview(ctx context.Context, slug, previewID string) (model.Preview, error) {
	var p model.Preview
	path := filepath.Join(s.previewsDir(slug), previewID+".json")
	if err := readJSON(path, &p); err != nil {
		if os.IsNotExist(err) {
			return model.Preview{}, apierr.Newf(apierr.KindPreviewMissing, "preview %q not found", previewID)
		}
		return model.Preview{}, apierr.Wrap(apierr.KindInternal, err, "read preview")
	}
	return p, nil
}

// DeletePreview removes a preview's file. Deletion is idempotent: deleting
// an already-absent preview is not an error.
func (s *FSStore) DeletePreview(ctx context.Context, slug, previewID string) error {
	path := filepath.Join(s.previewsDir(slug), previewID+".json")
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.KindInternal, err, "delete preview")
	}
	return nil
}

// CommitTurn performs the turn commit's single atomic write set: state,
// transcript, changelog, turn record, conditional discovery docs, and
// preview cleanup, in that order. A failure at any step after the state
// write triggers a best-effort reversal of everything already written,
// restoring the session to its pre-commit observable state.
func (s *FSStore) CommitTurn(ctx context.Context, in storage.CommitTurnInput) (storage.CommitTurnOutput, error) {
	lock := s.lockFor(in.Slug)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireSession(in.Slug); err != nil {
		return storage.CommitTurnOutput{}, err
	}
	priorStateBytes, err := os.ReadFile(s.statePath(in.Slug))
	if err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "snapshot prior state")
	}
	priorTranscript, err := readNonBlankLines(s.transcriptPath(in.Slug))
	if err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "snapshot prior transcript")
	}
	priorChangelog, err := readNonBlankLines(s.changelogPath(in.Slug))
	if err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "snapshot prior changelog")
	}
	var priorDiscoveries, priorLastDiscovery map[string]any
	if in.Discovery != nil {
		if priorDiscoveries, err = s.LoadDoc(ctx, in.Slug, model.DocDiscoveries); err != nil {
			return storage.CommitTurnOutput{}, err
		}
		if priorLastDiscovery, err = s.LoadDoc(ctx, in.Slug, model.DocLastDiscovery); err != nil {
			return storage.CommitTurnOutput{}, err
		}
	}

	wroteTurnRecord := false
	rollback := func() {
		_ = writeFileAtomic(s.statePath(in.Slug), priorStateBytes)
		_ = rewriteLines(s.transcriptPath(in.Slug), priorTranscript)
		_ = rewriteLines(s.changelogPath(in.Slug), priorChangelog)
		if wroteTurnRecord {
			_ = os.Remove(s.turnRecordPath(in.Slug, in.TurnRecord.Turn))
		}
		if in.Discovery != nil {
			_ = s.SaveDoc(ctx, in.Slug, model.DocDiscoveries, priorDiscoveries)
			_ = s.SaveDoc(ctx, in.Slug, model.DocLastDiscovery, priorLastDiscovery)
		}
	}

	if err := s.SaveState(ctx, in.Slug, in.NewState); err != nil {
		return storage.CommitTurnOutput{}, err
	}

	transcriptEntries, err := s.appendTranscriptLocked(in.Slug, in.TranscriptLines)
	if err != nil {
		rollback()
		return storage.CommitTurnOutput{}, err
	}

	changelogEntries, err := s.appendChangelogLocked(in.Slug, in.ChangelogLines)
	if err != nil {
		rollback()
		return storage.CommitTurnOutput{}, err
	}

	if err := s.writeTurnRecordLocked(in.Slug, in.TurnRecord); err != nil {
		rollback()
		return storage.CommitTurnOutput{}, err
	}
	wroteTurnRecord = true

	if in.Discovery != nil {
		if err := s.applyDiscoveryLocked(in.Slug, *in.Discovery); err != nil {
			rollback()
			return storage.CommitTurnOutput{}, err
		}
	}

	// Preview cleanup is best-effort: the turn is already durably
	// committed, so a dangling preview file is cosmetic, not a correctness
	// problem, and is safe to leave for the retention sweep.
	_ = s.DeletePreview(ctx, in.Slug, in.PreviewID)

	return storage.CommitTurnOutput{
		State:           in.NewState,
		TranscriptCount: int64(len(transcriptEntries)) + int64(len(priorTranscript)),
		ChangelogCount:  int64(len(changelogEntries)) + int64(len(priorChangelog)),
	}, nil
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
