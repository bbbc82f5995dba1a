// Package sqlstore implements the Storage Contract against a relational
// backend (SQLite via the pure-Go modernc.org/sqlite driver), so a
// deployment with no cgo toolchain can still run the relational path.
// Every externally observable behavior matches fsstore: entry ordering,
// turn monotonicity, and commit atomicity, the latter implemented here as
// one serializable transaction per commit rather than fsstore's
// write-then-best-effort-reverse.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// sharedCatalogSessionID is the sentinel session_id the shared character
// catalog is stored under, per §4.3's "shared entries use a sentinel
// session_id."
const sharedCatalogSessionID int64 = 0

// SQLStore implements storage.Storage over a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite database at databaseURL and
// applies the schema.
func New(databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT UNIQUE NOT NULL,
			world TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_state (
			session_id INTEGER PRIMARY KEY REFERENCES sessions(id),
			state_json TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			log_index INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS text_entries (
			session_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			UNIQUE(session_id, kind, position)
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id INTEGER NOT NULL,
			turn_number INTEGER NOT NULL,
			turn_record_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, turn_number)
		)`,
		`CREATE TABLE IF NOT EXISTS previews (
			session_id INTEGER NOT NULL,
			preview_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, preview_id)
		)`,
		`CREATE TABLE IF NOT EXISTS locks (
			session_id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			acquired_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS characters (
			session_id INTEGER NOT NULL,
			slug TEXT NOT NULL,
			character_json TEXT NOT NULL,
			is_shared INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(session_id, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS entropy (
			entropy_index INTEGER PRIMARY KEY,
			entropy_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id INTEGER NOT NULL,
			save_id TEXT NOT NULL,
			save_type TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, save_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_docs (
			session_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			UNIQUE(session_id, kind)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) sessionID(ctx context.Context, q querier, slug string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM sessions WHERE slug = ?`, slug).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, apierr.Newf(apierr.KindSessionMissing, "session %q not found", slug)
	}
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, err, "lookup session")
	}
	return id, nil
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ListSessions returns every session, ordered by slug.
func (s *SQLStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.slug, s.world, s.updated_at, l.session_id IS NOT NULL
		FROM sessions s LEFT JOIN locks l ON l.session_id = s.id
		ORDER BY s.slug`)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var slug, world, updatedAt string
		var hasLock bool
		if err := rows.Scan(&slug, &world, &updatedAt, &hasLock); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "scan session")
		}
		out = append(out, model.Session{Slug: slug, World: world, HasLock: hasLock, UpdatedAt: parseTime(updatedAt)})
	}
	return out, rows.Err()
}

// CreateSession inserts a new session row, optionally cloning a
// template's state and character.
func (s *SQLStore) CreateSession(ctx context.Context, slug, templateSlug string) (model.Session, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE slug = ?`, slug).Scan(&existing)
	if err == nil {
		return model.Session{}, apierr.Newf(apierr.KindConflict, "session %q already exists", slug)
	}
	if err != sql.ErrNoRows {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "check session existence")
	}

	state := model.SessionState{Flags: map[string]any{}, Extra: map[string]any{}}
	world := slug
	if templateSlug != "" {
		templateState, err := s.LoadState(ctx, templateSlug)
		if err != nil {
			return model.Session{}, err
		}
		state = templateState
		state.Turn = 0
		state.LogIndex = 0
		_ = s.db.QueryRowContext(ctx, `SELECT world FROM sessions WHERE slug = ?`, templateSlug).Scan(&world)
	}

	now := nowStr()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO sessions(slug, world, created_at, updated_at) VALUES (?, ?, ?, ?)`, slug, world, now, now)
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "insert session")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "read session id")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "encode state")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_state(session_id, state_json, turn_number, log_index, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(stateJSON), state.Turn, state.LogIndex, now); err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "insert state")
	}

	initLine, _ := json.Marshal(map[string]any{"event": "session_created", "template": templateSlug})
	if _, err := tx.ExecContext(ctx, `INSERT INTO text_entries(session_id, kind, position, content) VALUES (?, 'changelog', 1, ?)`, id, string(initLine)); err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "insert initial changelog entry")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO text_entries(session_id, kind, position, content) VALUES (?, 'transcript', 1, ?)`, id, "Session created."); err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "insert initial transcript entry")
	}

	if templateSlug != "" {
		var charJSON string
		err := tx.QueryRowContext(ctx, `
			SELECT c.character_json FROM characters c JOIN sessions ts ON ts.id = c.session_id
			WHERE ts.slug = ?`, templateSlug).Scan(&charJSON)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `INSERT INTO characters(session_id, slug, character_json, is_shared, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
				id, slug, charJSON, now, now); err != nil {
				return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "clone character")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, err, "commit create session")
	}
	return model.Session{Slug: slug, World: world, HasLock: false, UpdatedAt: parseTime(now)}, nil
}

// DeleteSession removes a session and every artifact addressed by its id.
func (s *SQLStore) DeleteSession(ctx context.Context, slug string) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "begin tx")
	}
	defer tx.Rollback()
	for _, table := range []string{"session_state", "text_entries", "turns", "previews", "locks", "characters", "snapshots", "session_docs"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), id); err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "delete "+table)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "delete session")
	}
	return tx.Commit()
}

// LoadState returns the session's authoritative state document.
func (s *SQLStore) LoadState(ctx context.Context, slug string) (model.SessionState, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.SessionState{}, err
	}
	return s.loadStateByID(ctx, s.db, id)
}

func (s *SQLStore) loadStateByID(ctx context.Context, q querier, id int64) (model.SessionState, error) {
	var stateJSON string
	err := q.QueryRowContext(ctx, `SELECT state_json FROM session_state WHERE session_id = ?`, id).Scan(&stateJSON)
	if err != nil {
		return model.SessionState{}, apierr.Wrap(apierr.KindInternal, err, "read state")
	}
	var state model.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return model.SessionState{}, apierr.Wrap(apierr.KindInternal, err, "decode state")
	}
	return state, nil
}

// SaveState overwrites the session's state document.
func (s *SQLStore) SaveState(ctx context.Context, slug string, state model.SessionState) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	return s.saveStateByID(ctx, s.db, id, state)
}

func (s *SQLStore) saveStateByID(ctx context.Context, q querier, id int64, state model.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode state")
	}
	now := nowStr()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO session_state(session_id, state_json, turn_number, log_index, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state_json = excluded.state_json, turn_number = excluded.turn_number, log_index = excluded.log_index, updated_at = excluded.updated_at
	`, id, string(stateJSON), state.Turn, state.LogIndex, now); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write state")
	}
	_, _ = q.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id)
	return nil
}
