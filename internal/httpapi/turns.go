package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
)

func (s *Server) handleListTurnRecords(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	records, err := s.store.LoadTurnRecords(r.Context(), slug, queryInt(r, "limit", 0))
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]any{"turns": records})
}

func (s *Server) handleGetTurnRecord(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	n, err := strconv.ParseInt(chi.URLParam(r, "n"), 10, 64)
	if err != nil {
		respondError(w, s.log, apierr.Wrap(apierr.KindSchemaViolation, err, "turn number must be an integer"))
		return
	}
	record, err := s.store.LoadTurnRecord(r.Context(), slug, n)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, record)
}
