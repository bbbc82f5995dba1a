package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
)

// respondJSON mirrors the teacher's per-handler respondJSON convention,
// promoted to a package-level helper shared by every resource handler.
func respondJSON(w http.ResponseWriter, log *logrus.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// respondError renders err through the canonical error envelope.
func respondError(w http.ResponseWriter, log *logrus.Logger, err error) {
	apierr.WriteTo(w, log, err)
}

// decodeJSON reads and decodes a request body into dst, failing
// SchemaViolation on malformed JSON.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindSchemaViolation, err, "request body is not valid JSON")
	}
	return nil
}
