package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/internal/livebus"
	"github.com/zhouzirui/turnkeeper/internal/rollsvc"
)

type rollRequest struct {
	Owner       string   `json:"owner"`
	Expressions []string `json:"dice_expressions"`
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req rollRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	out, err := s.rolls.Roll(r.Context(), rollsvc.RollInput{
		Slug:        slug,
		Owner:       req.Owner,
		Expressions: req.Expressions,
	})
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	s.bus.Publish(slug, livebus.Delta{
		Transcript: &livebus.LogDelta{Lines: out.TranscriptLines},
		Rolls:      &livebus.RollsDelta{Turn: out.Turn, Items: out.Items},
	})
	respondJSON(w, s.log, http.StatusOK, out)
}
