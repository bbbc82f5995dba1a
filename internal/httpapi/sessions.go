package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// handleHealth is the operational readiness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.log, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "turnkeeper",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]any{"sessions": sessions})
}

type createSessionRequest struct {
	Slug     string `json:"slug"`
	Template string `json:"template"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	session, err := s.store.CreateSession(r.Context(), req.Slug, req.Template)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusCreated, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := s.store.DeleteSession(r.Context(), slug); err != nil {
		respondError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	state, err := s.store.LoadState(r.Context(), slug)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, state)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	items, cursor, err := s.store.LoadTranscript(r.Context(), slug, queryInt(r, "tail", 0), queryInt64(r, "cursor", 0))
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]any{"items": items, "cursor": cursor})
}

func (s *Server) handleGetChangelog(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	items, cursor, err := s.store.LoadChangelog(r.Context(), slug, queryInt(r, "tail", 0), queryInt64(r, "cursor", 0))
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]any{"items": items, "cursor": cursor})
}

func (s *Server) handleGetTurnInfo(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	state, err := s.store.LoadState(r.Context(), slug)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	lock, held, err := s.locks.Status(r.Context(), slug)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	lockStatus := map[string]any{"held": held}
	if held {
		lockStatus["owner"] = lock.Owner
		lockStatus["ttl_seconds"] = lock.TTLSeconds
	}
	prompt := fmt.Sprintf("Turn %d at %s. HP %d/%d, AC %d. Conditions: %v.",
		state.Turn, state.Location, state.HP, state.MaxHP, state.AC, state.Conditions)
	respondJSON(w, s.log, http.StatusOK, map[string]any{
		"prompt":      prompt,
		"turn_number": state.Turn,
		"lock_status": lockStatus,
	})
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	rec, err := s.store.LoadCharacter(r.Context(), slug)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, rec)
}

type putCharacterRequest struct {
	Data          map[string]any `json:"data"`
	PersistShared bool           `json:"persist_shared"`
}

func (s *Server) handlePutCharacter(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req putCharacterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	rec := model.CharacterRecord{Slug: slug, Data: req.Data}
	if err := s.store.SaveCharacter(r.Context(), slug, rec, req.PersistShared); err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, rec)
}

// handleSessionDiff is the reserved-but-unimplemented commit-history diff
// placeholder: it validates the session exists, then fails Unavailable
// rather than 404ing, per spec.md §9's explicit note that the feature is
// intentionally disabled, not missing.
func (s *Server) handleSessionDiff(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := s.store.LoadState(r.Context(), slug); err != nil {
		respondError(w, s.log, err)
		return
	}
	respondError(w, s.log, apierr.Newf(apierr.KindUnavailable, "session diff is not implemented"))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
