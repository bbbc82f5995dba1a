package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// CreateSnapshot captures state under a freshly generated save_id.
func (s *FSStore) CreateSnapshot(ctx context.Context, slug string, saveType model.SaveType, state model.SessionState) (model.Snapshot, error) {
	if err := s.requireSession(slug); err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{SessionSlug: slug, SaveID: newID(), SaveType: saveType, State: state, CreatedAt: time.Now()}
	path := filepath.Join(s.savesDir(slug), snap.SaveID+".json")
	if fileExists(path) {
		return model.Snapshot{}, apierr.Newf(apierr.KindConflict, "save id %q already exists", snap.SaveID)
	}
	if err := writeJSONAtomic(path, snap); err != nil {
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "write snapshot")
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots, most recent first.
func (s *FSStore) ListSnapshots(ctx context.Context, slug string, limit int) ([]model.Snapshot, error) {
	entries, err := os.ReadDir(s.savesDir(slug))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "list snapshots")
	}
	out := make([]model.Snapshot, 0, len(entries))
	for _, e := range entries {
		var snap model.Snapshot
		if err := readJSON(filepath.Join(s.savesDir(slug), e.Name()), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadSnapshot returns the snapshot addressed by saveID. The taxonomy has
// no dedicated "snapshot missing" kind, so a missing reference reuses
// Conflict — the same kind a save_id collision uses — since both describe
// a disagreement about what a given save_id names.
func (s *FSStore) LoadSnapshot(ctx context.Context, slug, saveID string) (model.Snapshot, error) {
	var snap model.Snapshot
	path := filepath.Join(s.savesDir(slug), saveID+".json")
	if err := readJSON(path, &snap); err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, apierr.Newf(apierr.KindConflict, "save %q not found", saveID)
		}
		return model.Snapshot{}, apierr.Wrap(apierr.KindInternal, err, "read snapshot")
	}
	return snap, nil
}

// RestoreSnapshot replaces the session's current state with the
// snapshot's captured state verbatim, including its historical turn and
// log_index — restoring is a jump back in time, not a merge.
func (s *FSStore) RestoreSnapshot(ctx context.Context, slug, saveID string) (model.SessionState, error) {
	snap, err := s.LoadSnapshot(ctx, slug, saveID)
	if err != nil {
		return model.SessionState{}, err
	}
	if err := s.SaveState(ctx, slug, snap.State); err != nil {
		return model.SessionState{}, err
	}
	return snap.State, nil
}

// LoadCharacter reads the session-local character sheet, returning an
// empty record if none has been written yet.
func (s *FSStore) LoadCharacter(ctx context.Context, slug string) (model.CharacterRecord, error) {
	var rec model.CharacterRecord
	if err := readJSON(s.characterPath(slug), &rec); err != nil {
		if os.IsNotExist(err) {
			return model.CharacterRecord{Slug: slug, Data: map[string]any{}}, nil
		}
		return model.CharacterRecord{}, apierr.Wrap(apierr.KindInternal, err, "read character")
	}
	return rec, nil
}

// SaveCharacter writes the session-local copy and, when persistShared is
// set, mirrors the same document into the shared catalog keyed by slug.
func (s *FSStore) SaveCharacter(ctx context.Context, slug string, rec model.CharacterRecord, persistShared bool) error {
	rec.Slug = slug
	rec.UpdatedAt = time.Now()
	if err := ensureDir(s.sessionDir(slug)); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.characterPath(slug), rec); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write character")
	}
	if persistShared {
		if err := writeJSONAtomic(s.sharedCharacterPath(slug), rec); err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "write shared character")
		}
	}
	return nil
}

func (s *FSStore) docPath(slug string, kind model.DocKind) string {
	return filepath.Join(s.docsDir(slug), string(kind)+".json")
}

// LoadDoc returns an auxiliary document's current payload, or an empty
// map if it has never been written — aux docs are whole-document CRUD
// blobs with no required shape, so "not found" is just "empty".
func (s *FSStore) LoadDoc(ctx context.Context, slug string, kind model.DocKind) (map[string]any, error) {
	var doc map[string]any
	if err := readJSON(s.docPath(slug, kind), &doc); err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, apierr.Wrap(apierr.KindInternal, err, "read doc")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// SaveDoc overwrites an auxiliary document wholesale.
func (s *FSStore) SaveDoc(ctx context.Context, slug string, kind model.DocKind, payload map[string]any) error {
	if err := ensureDir(s.docsDir(slug)); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.docPath(slug, kind), payload); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "write doc")
	}
	return nil
}

// DeleteDocKey removes a single top-level key from an auxiliary document
// (e.g. one quest id out of the quests doc). Deleting an absent key, or a
// key from a document that was never written, is not an error.
func (s *FSStore) DeleteDocKey(ctx context.Context, slug string, kind model.DocKind, key string) error {
	doc, err := s.LoadDoc(ctx, slug, kind)
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.SaveDoc(ctx, slug, kind, doc)
}

// applyDiscoveryLocked records a conditional discovery into the
// session's discoveries doc (keyed by discovery id) and replaces the
// last_discovery doc with the same entry. Called from within CommitTurn,
// which already holds this session's mutex.
func (s *FSStore) applyDiscoveryLocked(slug string, discovery model.Discovery) error {
	asMap, err := toMap(discovery)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "encode discovery")
	}

	discoveries, err := s.LoadDoc(context.Background(), slug, model.DocDiscoveries)
	if err != nil {
		return err
	}
	discoveries[discovery.ID] = asMap
	if err := s.SaveDoc(context.Background(), slug, model.DocDiscoveries, discoveries); err != nil {
		return err
	}
	return s.SaveDoc(context.Background(), slug, model.DocLastDiscovery, asMap)
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
