// Package middleware carries the small set of cross-cutting HTTP
// concerns the teacher's own router wires in ahead of its handlers
// (request id, real ip, structured logging, panic recovery) plus the two
// this service adds: CORS and the shared-secret API key gate. The
// teacher's router referenced an internal/middleware.CORS that was not
// itself present in its tree, so this package's CORS is authored fresh in
// the same single-function-middleware idiom the reference implied.
package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// CORS allows any origin to call the API, mirroring the teacher's
// "Access-Control-Allow-Origin: *" SSE header choice extended to every
// route rather than just the stream endpoint.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request, after the handler returns, the
// way chi's own middleware.Logger does but routed through logrus so
// operators get one sink.
func RequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start).String(),
			}).Info("http request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// APIKey rejects requests lacking a matching X-API-Key header when key is
// non-empty. An empty key disables the gate entirely, the shape
// config.AuthConfig.Enabled() reports. Authentication is an out-of-scope
// external concern (spec §1's "contracts only" list), so its failure
// response is a plain 401 rather than a fit into the core error
// taxonomy's fixed Kind set.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != key {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid api key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
