package httpapi

import "net/http"

func (s *Server) handlePeekEntropy(w http.ResponseWriter, r *http.Request) {
	limit := queryInt64(r, "limit", 16)
	entries, err := s.entropy.Peek(r.Context(), limit)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]any{"entries": entries})
}
