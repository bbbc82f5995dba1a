package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/pkg/sse"
)

const eventsHeartbeatInterval = 20 * time.Second

// handleEvents streams the Live Update Bus's per-session deltas as
// Server-Sent Events. It never buffers or replays: a client that
// disconnects and reconnects reconciles by re-reading the transcript,
// changelog, and turn endpoints with a cursor.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.bus.Subscribe(slug)
	defer unsubscribe()

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	sse.SendComment(w, flusher, "connected")

	heartbeat := time.NewTicker(eventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case delta, open := <-ch:
			if !open {
				return
			}
			sse.SendEvent(w, flusher, s.log, "delta", delta)
		case <-heartbeat.C:
			sse.SendComment(w, flusher, "keep-alive")
		}
	}
}
