package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// FSStore implements storage.Storage against a directory tree rooted at
// Root. It keeps one in-process mutex per session to serialize the
// multi-file writes a turn commit performs; the session-level business
// lock (lockmgr) governs who is allowed to call in, this mutex only
// protects the filesystem operations themselves from interleaving within
// this process.
type FSStore struct {
	root string

	mu        sync.Mutex
	sessionMu map[string]*sync.Mutex
}

// New builds an FSStore rooted at root, creating the directory skeleton if
// it does not exist yet.
func New(root string) (*FSStore, error) {
	s := &FSStore{root: root, sessionMu: map[string]*sync.Mutex{}}
	for _, dir := range []string{
		s.root,
		filepath.Join(s.root, "sessions"),
		filepath.Join(s.root, "characters"),
	} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FSStore) lockFor(slug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessionMu[slug]
	if !ok {
		m = &sync.Mutex{}
		s.sessionMu[slug] = m
	}
	return m
}

func (s *FSStore) sessionDir(slug string) string { return filepath.Join(s.root, "sessions", slug) }
func (s *FSStore) metaPath(slug string) string   { return filepath.Join(s.sessionDir(slug), "meta.json") }
func (s *FSStore) statePath(slug string) string  { return filepath.Join(s.sessionDir(slug), "state.json") }
func (s *FSStore) transcriptPath(slug string) string {
	return filepath.Join(s.sessionDir(slug), "transcript.md")
}
func (s *FSStore) changelogPath(slug string) string {
	return filepath.Join(s.sessionDir(slug), "changelog.md")
}
func (s *FSStore) turnsDir(slug string) string    { return filepath.Join(s.sessionDir(slug), "turns") }
func (s *FSStore) previewsDir(slug string) string  { return filepath.Join(s.sessionDir(slug), "previews") }
func (s *FSStore) savesDir(slug string) string     { return filepath.Join(s.sessionDir(slug), "saves") }
func (s *FSStore) docsDir(slug string) string      { return filepath.Join(s.sessionDir(slug), "docs") }
func (s *FSStore) lockPath(slug string) string     { return filepath.Join(s.sessionDir(slug), "LOCK") }
func (s *FSStore) characterPath(slug string) string {
	return filepath.Join(s.sessionDir(slug), "character.json")
}
func (s *FSStore) sharedCharacterPath(slug string) string {
	return filepath.Join(s.root, "characters", slug+".json")
}
func (s *FSStore) entropyPath() string { return filepath.Join(s.root, "entropy.jsonl") }

type sessionMeta struct {
	World     string    `json:"world"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *FSStore) requireSession(slug string) error {
	if !fileExists(s.statePath(slug)) {
		return apierr.Newf(apierr.KindSessionMissing, "session %q not found", slug)
	}
	return nil
}

// ListSessions returns every session under sessions/, in slug order.
func (s *FSStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	base := filepath.Join(s.root, "sessions")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	var out []model.Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slug := e.Name()
		if !fileExists(s.statePath(slug)) {
			continue
		}
		var meta sessionMeta
		_ = readJSON(s.metaPath(slug), &meta)
		_, held, err := s.GetLock(ctx, slug)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Session{
			Slug:      slug,
			World:     meta.World,
			HasLock:   held,
			UpdatedAt: meta.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// CreateSession clones templateSlug's state and character into a new
// session directory named slug. An empty templateSlug starts from a zero
// state.
func (s *FSStore) CreateSession(ctx context.Context, slug, templateSlug string) (model.Session, error) {
	slug, err := sanitizeSlug(slug)
	if err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindSchemaViolation, err, err.Error())
	}
	if fileExists(s.statePath(slug)) {
		return model.Session{}, apierr.Newf(apierr.KindConflict, "session %q already exists", slug)
	}

	state := model.SessionState{Flags: map[string]any{}, Extra: map[string]any{}}
	world := slug
	if templateSlug != "" {
		if err := s.requireSession(templateSlug); err != nil {
			return model.Session{}, err
		}
		templateState, err := s.LoadState(ctx, templateSlug)
		if err != nil {
			return model.Session{}, err
		}
		state = templateState
		state.Turn = 0
		state.LogIndex = 0
		var meta sessionMeta
		_ = readJSON(s.metaPath(templateSlug), &meta)
		if meta.World != "" {
			world = meta.World
		}
	}

	now := time.Now()
	if err := ensureDir(s.sessionDir(slug)); err != nil {
		return model.Session{}, err
	}
	if err := writeJSONAtomic(s.metaPath(slug), sessionMeta{World: world, CreatedAt: now, UpdatedAt: now}); err != nil {
		return model.Session{}, err
	}
	if err := s.SaveState(ctx, slug, state); err != nil {
		return model.Session{}, err
	}
	initLine, _ := jsonLine(map[string]any{"event": "session_created", "template": templateSlug})
	if err := rewriteLines(s.changelogPath(slug), []string{initLine}); err != nil {
		return model.Session{}, err
	}
	if err := rewriteLines(s.transcriptPath(slug), []string{"Session created."}); err != nil {
		return model.Session{}, err
	}

	if templateSlug != "" {
		if char, err := s.LoadCharacter(ctx, templateSlug); err == nil {
			char.Slug = slug
			_ = s.SaveCharacter(ctx, slug, char, false)
		}
	}

	return model.Session{Slug: slug, World: world, HasLock: false, UpdatedAt: now}, nil
}

// DeleteSession removes a session's entire directory tree. Destruction is
// explicit-operator-only; nothing in the request path calls this.
func (s *FSStore) DeleteSession(ctx context.Context, slug string) error {
	if err := s.requireSession(slug); err != nil {
		return err
	}
	return os.RemoveAll(s.sessionDir(slug))
}

// LoadState reads the session's authoritative state document.
func (s *FSStore) LoadState(ctx context.Context, slug string) (model.SessionState, error) {
	if err := s.requireSession(slug); err != nil {
		return model.SessionState{}, err
	}
	var state model.SessionState
	if err := readJSON(s.statePath(slug), &state); err != nil {
		return model.SessionState{}, apierr.Wrap(apierr.KindInternal, err, "read state")
	}
	return state, nil
}

// SaveState durably overwrites the session's state document.
func (s *FSStore) SaveState(ctx context.Context, slug string, state model.SessionState) error {
	if err := ensureDir(s.sessionDir(slug)); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.statePath(slug), state); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write state")
	}
	s.touchMeta(slug)
	return nil
}

func (s *FSStore) touchMeta(slug string) {
	var meta sessionMeta
	_ = readJSON(s.metaPath(slug), &meta)
	meta.UpdatedAt = time.Now()
	_ = writeJSONAtomic(s.metaPath(slug), meta)
}

// ClaimLock implements the exclusive-create protocol §4.4 requires. It
// never checks-then-creates without a create-exclusive primitive backing
// the decision: the happy path is a single O_CREATE|O_EXCL, and the
// expired/refresh paths remove the stale file and retry the same
// exclusive create, so two concurrent claimants can never both believe
// they hold the lock — the loser's retry observes the winner's fresh file
// and fails LockHeld.
func (s *FSStore) ClaimLock(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error) {
	if err := s.requireSession(slug); err != nil {
		return model.Lock{}, err
	}
	path := s.lockPath(slug)
	now := time.Now()
	newLock := model.Lock{SessionSlug: slug, Owner: owner, TTLSeconds: ttlSeconds, AcquiredAt: now}

	if s.tryExclusiveCreateLock(path, newLock) {
		return newLock, nil
	}

	existing, err := s.readLockFile(path)
	if err != nil {
		return model.Lock{}, err
	}
	if !existing.Expired(now) && existing.Owner != owner {
		return model.Lock{}, apierr.Newf(apierr.KindLockHeld, "session %q is locked by %q", slug, existing.Owner).
			WithDetails(map[string]any{"owner": existing.Owner})
	}

	// Expired, or a refresh by the same owner: replace and retry once.
	_ = os.Remove(path)
	if s.tryExclusiveCreateLock(path, newLock) {
		return newLock, nil
	}
	existing2, err := s.readLockFile(path)
	if err != nil {
		return model.Lock{}, err
	}
	return model.Lock{}, apierr.Newf(apierr.KindLockHeld, "session %q is locked by %q", slug, existing2.Owner).
		WithDetails(map[string]any{"owner": existing2.Owner})
}

func (s *FSStore) tryExclusiveCreateLock(path string, lock model.Lock) bool {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	data, _ := jsonLine(lock)
	_, werr := f.WriteString(data)
	return werr == nil
}

func (s *FSStore) readLockFile(path string) (model.Lock, error) {
	var lock model.Lock
	if err := readJSON(path, &lock); err != nil {
		if os.IsNotExist(err) {
			return model.Lock{}, apierr.New(apierr.KindLockRequired, "no lock held")
		}
		return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "read lock")
	}
	return lock, nil
}

// ReleaseLock removes the lock file if owner matches the holder, or owner
// is empty, or no lock is currently held (idempotent).
func (s *FSStore) ReleaseLock(ctx context.Context, slug, owner string) error {
	path := s.lockPath(slug)
	if !fileExists(path) {
		return nil
	}
	existing, err := s.readLockFile(path)
	if err != nil {
		return err
	}
	if owner != "" && existing.Owner != owner {
		return apierr.Newf(apierr.KindLockOwnerMismatch, "session %q is locked by %q, not %q", slug, existing.Owner, owner)
	}
	return os.Remove(path)
}

// GetLock returns the raw lock record without evaluating expiry; callers
// (lockmgr) decide what an expired lock means for their operation.
func (s *FSStore) GetLock(ctx context.Context, slug string) (model.Lock, bool, error) {
	path := s.lockPath(slug)
	if !fileExists(path) {
		return model.Lock{}, false, nil
	}
	lock, err := s.readLockFile(path)
	if err != nil {
		return model.Lock{}, false, err
	}
	return lock, true, nil
}

// newID generates an opaque identifier for previews and snapshots.
func newID() string { return uuid.NewString() }
