package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type claimLockRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Server) handleClaimLock(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req claimLockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = s.turnCfg.LockDefaultTTLSeconds
	}
	lock, err := s.locks.Claim(r.Context(), slug, req.Owner, ttl)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, lock)
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	owner := r.URL.Query().Get("owner")
	if err := s.locks.Release(r.Context(), slug, owner); err != nil {
		respondError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
