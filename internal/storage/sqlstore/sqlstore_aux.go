package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// CreateSnapshot captures state under a freshly generated save_id.
func (s *SQLStore) CreateSnapshot(ctx context.Context, slug string, saveType model.SaveType, state model.SessionState) (model.Snapshot, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{SessionSlug: slug, SaveID: uuid.NewString(), SaveType: saveType, State: state, CreatedAt: time.Now()}
	payload, err := json.Marshal(snap)
	if err != nil {
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "encode snapshot")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots(session_id, save_id, save_type, snapshot_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, snap.SaveID, string(saveType), string(payload), nowStr())
	if err != nil {
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "write snapshot")
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots, most recent first.
func (s *SQLStore) ListSnapshots(ctx context.Context, slug string, limit int) ([]model.Snapshot, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	query := `SELECT snapshot_json FROM snapshots WHERE session_id = ? ORDER BY created_at DESC`
	args := []any{id}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "list snapshots")
	}
	defer rows.Close()
	var out []model.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "scan snapshot")
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "decode snapshot")
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LoadSnapshot returns the snapshot addressed by saveID. As in fsstore, a
// missing reference reuses the Conflict kind alongside save_id collisions
// since the taxonomy has no dedicated "snapshot missing" entry.
func (s *SQLStore) LoadSnapshot(ctx context.Context, slug, saveID string) (model.Snapshot, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.Snapshot{}, err
	}
	var payload string
	err = s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM snapshots WHERE session_id = ? AND save_id = ?`, id, saveID).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.Snapshot{}, apierr.Newf(apierr.KindConflict, "save %q not found", saveID)
	}
	if err != nil {
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "read snapshot")
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "decode snapshot")
	}
	return snap, nil
}

// RestoreSnapshot replaces the session's current state with the
// snapshot's captured state verbatim, matching fsstore's restore-as-jump
// semantics.
func (s *SQLStore) RestoreSnapshot(ctx context.Context, slug, saveID string) (model.SessionState, error) {
	snap, err := s.LoadSnapshot(ctx, slug, saveID)
	if err != nil {
		return model.SessionState{}, err
	}
	if err := s.SaveState(ctx, slug, snap.State); err != nil {
		return model.SessionState{}, err
	}
	return snap.State, nil
}

// LoadCharacter returns the session-local character sheet, or an empty
// record if none has been written.
func (s *SQLStore) LoadCharacter(ctx context.Context, slug string) (model.CharacterRecord, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.CharacterRecord{}, err
	}
	var charJSON string
	err = s.db.QueryRowContext(ctx, `SELECT character_json FROM characters WHERE session_id = ? AND slug = ?`, id, slug).Scan(&charJSON)
	if err == sql.ErrNoRows {
		return model.CharacterRecord{Slug: slug, Data: map[string]any{}}, nil
	}
	if err != nil {
		return model.CharacterRecord{}, apierr.Wrap(apierr.KindInternal, err, "read character")
	}
	var rec model.CharacterRecord
	if err := json.Unmarshal([]byte(charJSON), &rec); err != nil {
		return model.CharacterRecord{}, apierr.Wrap(apierr.KindInternal, err, "decode character")
	}
	return rec, nil
}

// SaveCharacter writes the session-local copy and, when persistShared is
// set, the shared-catalog copy under the sentinel session id.
func (s *SQLStore) SaveCharacter(ctx context.Context, slug string, rec model.CharacterRecord, persistShared bool) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	rec.Slug = slug
	rec.UpdatedAt = time.Now()
	charJSON, err := json.Marshal(rec)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode character")
	}
	now := nowStr()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO characters(session_id, slug, character_json, is_shared, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(session_id, slug) DO UPDATE SET character_json = excluded.character_json, updated_at = excluded.updated_at
	`, id, slug, string(charJSON), now, now); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write character")
	}
	if persistShared {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO characters(session_id, slug, character_json, is_shared, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(session_id, slug) DO UPDATE SET character_json = excluded.character_json, updated_at = excluded.updated_at
		`, sharedCatalogSessionID, slug, string(charJSON), now, now); err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "write shared character")
		}
	}
	return nil
}

// LoadDoc returns an auxiliary document's payload, or an empty map if it
// has never been written.
func (s *SQLStore) LoadDoc(ctx context.Context, slug string, kind model.DocKind) (map[string]any, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	return s.loadDocByID(ctx, s.db, id, kind)
}

func (s *SQLStore) loadDocByID(ctx context.Context, q querier, id int64, kind model.DocKind) (map[string]any, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload_json FROM session_docs WHERE session_id = ? AND kind = ?`, id, string(kind)).Scan(&payload)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read doc")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "decode doc")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// SaveDoc overwrites an auxiliary document wholesale.
func (s *SQLStore) SaveDoc(ctx context.Context, slug string, kind model.DocKind, payload map[string]any) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	return s.saveDocByID(ctx, s.db, id, kind, payload)
}

func (s *SQLStore) saveDocByID(ctx context.Context, q querier, id int64, kind model.DocKind, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode doc")
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO session_docs(session_id, kind, payload_json) VALUES (?, ?, ?)
		ON CONFLICT(session_id, kind) DO UPDATE SET payload_json = excluded.payload_json
	`, id, string(kind), string(b)); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write doc")
	}
	return nil
}

// DeleteDocKey removes a single top-level key from an auxiliary document.
func (s *SQLStore) DeleteDocKey(ctx context.Context, slug string, kind model.DocKind, key string) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	doc, err := s.loadDocByID(ctx, s.db, id, kind)
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.saveDocByID(ctx, s.db, id, kind, doc)
}

// applyDiscoveryByID records a conditional discovery into the
// discoveries doc and replaces last_discovery, within tx.
func (s *SQLStore) applyDiscoveryByID(ctx context.Context, q querier, id int64, discovery model.Discovery) error {
	b, err := json.Marshal(discovery)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode discovery")
	}
	var asMap map[string]any
	if err := json.Unmarshal(b, &asMap); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "decode discovery")
	}

	discoveries, err := s.loadDocByID(ctx, q, id, model.DocDiscoveries)
	if err != nil {
		return err
	}
	discoveries[discovery.ID] = asMap
	if err := s.saveDocByID(ctx, q, id, model.DocDiscoveries, discoveries); err != nil {
		return err
	}
	return s.saveDocByID(ctx, q, id, model.DocLastDiscovery, asMap)
}
