package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// EntropyLength reports the highest stored index of the global stream.
func (s *SQLStore) EntropyLength(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(entropy_index) FROM entropy`).Scan(&n); err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, err, "read entropy length")
	}
	return n.Int64, nil
}

// LoadEntropyEntry returns the entry at a 1-based index.
func (s *SQLStore) LoadEntropyEntry(ctx context.Context, index int64) (model.EntropyEntry, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT entropy_json FROM entropy WHERE entropy_index = ?`, index).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.EntropyEntry{}, apierr.Newf(apierr.KindEntropyMissing, "entropy index %d not found", index)
	}
	if err != nil {
		return model.EntropyEntry{}, apierr.Wrap(apierr.KindInternal, err, "read entropy entry")
	}
	var entry model.EntropyEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return model.EntropyEntry{}, apierr.Wrap(apierr.KindInternal, err, "decode entropy entry")
	}
	return entry, nil
}

// LoadEntropyRange returns entries [from, to] inclusive, failing
// EntropyMissing if the range extends past the stream's current length.
func (s *SQLStore) LoadEntropyRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entropy_index, entropy_json FROM entropy WHERE entropy_index BETWEEN ? AND ? ORDER BY entropy_index ASC`, from, to)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read entropy range")
	}
	defer rows.Close()

	out := make([]model.EntropyEntry, 0, to-from+1)
	for rows.Next() {
		var idx int64
		var payload string
		if err := rows.Scan(&idx, &payload); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "scan entropy entry")
		}
		var entry model.EntropyEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "decode entropy entry")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "iterate entropy range")
	}
	if int64(len(out)) != to-from+1 {
		return nil, apierr.Newf(apierr.KindEntropyMissing, "entropy range [%d,%d] is incomplete", from, to)
	}
	return out, nil
}

// AppendEntropyEntries extends the global stream; existing rows are
// never overwritten since entropy_index is the primary key and new
// entries always continue from the stream's current length.
func (s *SQLStore) AppendEntropyEntries(ctx context.Context, entries []model.EntropyEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "begin entropy extend tx")
	}
	defer tx.Rollback()

	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "encode entropy entry")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO entropy(entropy_index, entropy_json) VALUES (?, ?)`, e.Index, string(payload)); err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "insert entropy entry")
		}
	}
	return tx.Commit()
}
