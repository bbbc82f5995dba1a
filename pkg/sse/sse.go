// Package sse provides the small set of Server-Sent Events helpers the
// Live Update Bus's HTTP handler writes through.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// SetupHeaders sets the response headers an SSE stream requires.
func SetupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// SendChunk writes a bare data-only SSE message.
func SendChunk(w http.ResponseWriter, flusher http.Flusher, log *logrus.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Warn("failed to marshal sse payload")
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		log.WithError(err).Warn("failed to write sse payload")
		return
	}
	flusher.Flush()
}

// SendEvent writes an SSE message carrying an explicit event name, the
// shape the Live Update Bus uses for every delta it publishes.
func SendEvent(w http.ResponseWriter, flusher http.Flusher, log *logrus.Logger, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Warn("failed to marshal sse event data")
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		log.WithError(err).Warn("failed to write sse event")
		return
	}
	flusher.Flush()
}

// SendComment writes an SSE comment line, used as a keep-alive heartbeat
// that idle clients and proxies never mistake for a real event.
func SendComment(w http.ResponseWriter, flusher http.Flusher, text string) {
	fmt.Fprintf(w, ": %s\n\n", text)
	flusher.Flush()
}
