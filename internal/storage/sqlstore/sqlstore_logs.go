package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/storage"
)

func (s *SQLStore) appendTextEntries(ctx context.Context, q querier, id int64, kind string, contents []string) ([]model.TextEntry, error) {
	var maxPos int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM text_entries WHERE session_id = ? AND kind = ?`, id, kind).Scan(&maxPos); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read max position")
	}
	out := make([]model.TextEntry, 0, len(contents))
	for i, content := range contents {
		pos := maxPos + int64(i) + 1
		if _, err := q.ExecContext(ctx, `INSERT INTO text_entries(session_id, kind, position, content) VALUES (?, ?, ?, ?)`, id, kind, pos, content); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "insert "+kind+" entry")
		}
		out = append(out, model.TextEntry{Position: pos, Text: content})
	}
	return out, nil
}

// AppendTranscript appends narrative lines to the session's transcript.
func (s *SQLStore) AppendTranscript(ctx context.Context, slug string, lines []string) ([]model.TextEntry, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	return s.appendTextEntries(ctx, s.db, id, "transcript", lines)
}

// AppendChangelog appends structured changelog entries.
func (s *SQLStore) AppendChangelog(ctx context.Context, slug string, docs []map[string]any) ([]model.TextEntry, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "encode changelog entry")
		}
		lines = append(lines, string(b))
	}
	return s.appendTextEntries(ctx, s.db, id, "changelog", lines)
}

func (s *SQLStore) loadTextEntries(ctx context.Context, id int64, kind string, tail int, cursor int64) ([]model.TextEntry, int64, error) {
	query := `SELECT position, content FROM text_entries WHERE session_id = ? AND kind = ?`
	args := []any{id, kind}
	if cursor > 0 {
		query += ` AND position > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.KindInternal, err, "read "+kind)
	}
	defer rows.Close()

	var entries []model.TextEntry
	for rows.Next() {
		var e model.TextEntry
		if err := rows.Scan(&e.Position, &e.Text); err != nil {
			return nil, 0, apierr.Wrap(apierr.KindInternal, err, "scan "+kind+" entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apierr.Wrap(apierr.KindInternal, err, "iterate "+kind)
	}

	if cursor <= 0 && tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	newCursor := cursor
	if len(entries) > 0 {
		newCursor = entries[len(entries)-1].Position
	}
	return entries, newCursor, nil
}

// LoadTranscript returns the session's transcript, paginated by tail or
// cursor.
func (s *SQLStore) LoadTranscript(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, 0, err
	}
	return s.loadTextEntries(ctx, id, "transcript", tail, cursor)
}

// LoadChangelog returns the session's changelog, paginated identically.
func (s *SQLStore) LoadChangelog(ctx context.Context, slug string, tail int, cursor int64) ([]model.TextEntry, int64, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, 0, err
	}
	return s.loadTextEntries(ctx, id, "changelog", tail, cursor)
}

func (s *SQLStore) loadTurnRecordByID(ctx context.Context, q querier, id, turn int64) (model.TurnRecord, error) {
	var recJSON string
	err := q.QueryRowContext(ctx, `SELECT turn_record_json FROM turns WHERE session_id = ? AND turn_number = ?`, id, turn).Scan(&recJSON)
	if err == sql.ErrNoRows {
		return model.TurnRecord{}, apierr.Newf(apierr.KindConflict, "no turn record for turn %d", turn)
	}
	if err != nil {
		return model.TurnRecord{}, apierr.Wrap(apierr.KindInternal, err, "read turn record")
	}
	var rec model.TurnRecord
	if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
		return model.TurnRecord{}, apierr.Wrap(apierr.KindInternal, err, "decode turn record")
	}
	return rec, nil
}

// LoadTurnRecords returns up to limit turn records, turn-ascending,
// most recent last.
func (s *SQLStore) LoadTurnRecords(ctx context.Context, slug string, limit int) ([]model.TurnRecord, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	query := `SELECT turn_record_json FROM turns WHERE session_id = ? ORDER BY turn_number ASC`
	args := []any{id}
	if limit > 0 {
		query = `SELECT turn_record_json FROM (SELECT turn_number, turn_record_json FROM turns WHERE session_id = ? ORDER BY turn_number DESC LIMIT ?) ORDER BY turn_number ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "list turn records")
	}
	defer rows.Close()
	var out []model.TurnRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "scan turn record")
		}
		var rec model.TurnRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "decode turn record")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadTurnRecord returns the single turn record for turn.
func (s *SQLStore) LoadTurnRecord(ctx context.Context, slug string, turn int64) (model.TurnRecord, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.TurnRecord{}, err
	}
	return s.loadTurnRecordByID(ctx, s.db, id, turn)
}

// AppendRollsToTurn appends ad-hoc rolls to an existing turn record.
func (s *SQLStore) AppendRollsToTurn(ctx context.Context, slug string, turn int64, rolls []model.RollResult) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "begin tx")
	}
	defer tx.Rollback()

	rec, err := s.loadTurnRecordByID(ctx, tx, id, turn)
	if err != nil {
		return err
	}
	rec.Rolls = append(rec.Rolls, rolls...)
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode turn record")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE turns SET turn_record_json = ? WHERE session_id = ? AND turn_number = ?`, string(recJSON), id, turn); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "update turn record")
	}
	return tx.Commit()
}

// SavePreview persists a preview document.
func (s *SQLStore) SavePreview(ctx context.Context, preview model.Preview) error {
	id, err := s.sessionID(ctx, s.db, preview.SessionSlug)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(preview)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode preview")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO previews(session_id, preview_id, payload_json, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, preview_id) DO UPDATE SET payload_json = excluded.payload_json
	`, id, preview.ID, string(payload), nowStr())
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write preview")
	}
	return nil
}

func (s *SQLStore) loadPreviewByID(ctx context.Context, q querier, id int64, previewID string) (model.Preview, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload_json FROM previews WHERE session_id = ? AND preview_id = ?`, id, previewID).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.Preview{}, apierr.Newf(apierr.KindPreviewMissing, "preview %q not found", previewID)
	}
	if err != nil {
		return model.Preview{}, apierr.Wrap(apierr.KindInternal, err, "read preview")
	}
	var p model.Preview
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return model.Preview{}, apierr.Wrap(apierr.KindInternal, err, "decode preview")
	}
	return p, nil
}

// LoadPreview returns the preview addressed by previewID.
func (s *SQLStore) LoadPreview(ctx context.Context, slug, previewID string) (model.Preview, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.Preview{}, err
	}
	return s.loadPreviewByID(ctx, s.db, id, previewID)
}

// DeletePreview removes a preview; deletion is idempotent.
func (s *SQLStore) DeletePreview(ctx context.Context, slug, previewID string) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	return s.deletePreviewByID(ctx, s.db, id, previewID)
}

func (s *SQLStore) deletePreviewByID(ctx context.Context, q querier, id int64, previewID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM previews WHERE session_id = ? AND preview_id = ?`, id, previewID); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "delete preview")
	}
	return nil
}

// CommitTurn performs the turn commit's atomic write set inside a single
// serializable transaction: if any step fails, the transaction rolls
// back and no partial state is ever observable.
func (s *SQLStore) CommitTurn(ctx context.Context, in storage.CommitTurnInput) (storage.CommitTurnOutput, error) {
	id, err := s.sessionID(ctx, s.db, in.Slug)
	if err != nil {
		return storage.CommitTurnOutput{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "begin commit tx")
	}
	defer tx.Rollback()

	if err := s.saveStateByID(ctx, tx, id, in.NewState); err != nil {
		return storage.CommitTurnOutput{}, err
	}

	transcriptEntries, err := s.appendTextEntries(ctx, tx, id, "transcript", in.TranscriptLines)
	if err != nil {
		return storage.CommitTurnOutput{}, err
	}

	changelogLines := make([]string, 0, len(in.ChangelogLines))
	for _, d := range in.ChangelogLines {
		b, err := json.Marshal(d)
		if err != nil {
			return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "encode changelog entry")
		}
		changelogLines = append(changelogLines, string(b))
	}
	changelogEntries, err := s.appendTextEntries(ctx, tx, id, "changelog", changelogLines)
	if err != nil {
		return storage.CommitTurnOutput{}, err
	}

	recJSON, err := json.Marshal(in.TurnRecord)
	if err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "encode turn record")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO turns(session_id, turn_number, turn_record_json, created_at) VALUES (?, ?, ?, ?)`,
		id, in.TurnRecord.Turn, string(recJSON), nowStr()); err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "insert turn record")
	}

	if in.Discovery != nil {
		if err := s.applyDiscoveryByID(ctx, tx, id, *in.Discovery); err != nil {
			return storage.CommitTurnOutput{}, err
		}
	}

	if err := s.deletePreviewByID(ctx, tx, id, in.PreviewID); err != nil {
		return storage.CommitTurnOutput{}, err
	}

	var transcriptCount, changelogCount int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM text_entries WHERE session_id = ? AND kind = 'transcript'`, id).Scan(&transcriptCount); err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "count transcript")
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM text_entries WHERE session_id = ? AND kind = 'changelog'`, id).Scan(&changelogCount); err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "count changelog")
	}

	if err := tx.Commit(); err != nil {
		return storage.CommitTurnOutput{}, apierr.Wrap(apierr.KindInternal, err, "commit turn")
	}

	_ = transcriptEntries
	_ = changelogEntries
	return storage.CommitTurnOutput{State: in.NewState, TranscriptCount: transcriptCount, ChangelogCount: changelogCount}, nil
}
