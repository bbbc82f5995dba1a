package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/internal/diffpatch"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// isDryRun reports whether the caller asked for a diff-only preview of
// the write instead of persisting it, per spec.md §6: "A dry_run flag on
// mutating aux-doc routes returns the would-be diff and warnings without
// persisting."
func isDryRun(r *http.Request) bool {
	return r.URL.Query().Get("dry_run") == "true" || r.URL.Query().Get("dry_run") == "1"
}

// docRoute pairs an aux-doc kind with the path segment it's mounted at
// and whether individual keys within it are deletable.
type docRoute struct {
	path  string
	kind  model.DocKind
	keyed bool
}

// docRoutes enumerates every whole-document-replace aux doc the HTTP
// surface exposes. All of them share the same load/save/delete-key
// contract; only the path and keyed-ness differ.
var docRoutes = []docRoute{
	{path: "/mood", kind: model.DocMood, keyed: false},
	{path: "/discoveries", kind: model.DocDiscoveries, keyed: true},
	{path: "/npc_relationships", kind: model.DocNPCRelations, keyed: true},
	{path: "/npc_memory", kind: model.DocNPCMemory, keyed: true},
	{path: "/last_discovery", kind: model.DocLastDiscovery, keyed: false},
	{path: "/quests", kind: model.DocQuests, keyed: true},
	{path: "/world/factions", kind: model.DocWorldFactions, keyed: true},
	{path: "/world/timeline", kind: model.DocWorldTimeline, keyed: true},
	{path: "/world/rumors", kind: model.DocWorldRumors, keyed: true},
	{path: "/world/faction_clocks", kind: model.DocWorldFactionCl, keyed: true},
}

func (s *Server) handleGetDoc(kind model.DocKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		doc, err := s.store.LoadDoc(r.Context(), slug, kind)
		if err != nil {
			respondError(w, s.log, err)
			return
		}
		respondJSON(w, s.log, http.StatusOK, doc)
	}
}

func (s *Server) handlePutDoc(kind model.DocKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		var payload map[string]any
		if err := decodeJSON(r, &payload); err != nil {
			respondError(w, s.log, err)
			return
		}

		if isDryRun(r) {
			before, err := s.store.LoadDoc(r.Context(), slug, kind)
			if err != nil {
				respondError(w, s.log, err)
				return
			}
			respondJSON(w, s.log, http.StatusOK, map[string]any{
				"dry_run": true,
				"diff":    diffpatch.Diff(before, payload),
			})
			return
		}

		if err := s.store.SaveDoc(r.Context(), slug, kind, payload); err != nil {
			respondError(w, s.log, err)
			return
		}
		respondJSON(w, s.log, http.StatusOK, payload)
	}
}

func (s *Server) handleDeleteDocKey(kind model.DocKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		key := chi.URLParam(r, "key")
		if err := s.store.DeleteDocKey(r.Context(), slug, kind, key); err != nil {
			respondError(w, s.log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
