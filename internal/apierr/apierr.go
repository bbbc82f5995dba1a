// Package apierr defines the error taxonomy every core component returns
// and the canonical HTTP envelope it renders into.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Kind is one of the taxonomy entries a caller can branch on.
type Kind string

const (
	KindSessionMissing    Kind = "SessionMissing"
	KindSchemaViolation   Kind = "SchemaViolation"
	KindLockRequired      Kind = "LockRequired"
	KindLockHeld          Kind = "LockHeld"
	KindLockOwnerMismatch Kind = "LockOwnerMismatch"
	KindPreviewMissing    Kind = "PreviewMissing"
	KindPreviewStale      Kind = "PreviewStale"
	KindEntropyMissing    Kind = "EntropyMissing"
	KindEntropyExhausted  Kind = "EntropyExhausted"
	KindExpressionInvalid Kind = "ExpressionInvalid"
	KindConflict          Kind = "Conflict"
	KindUnavailable       Kind = "Unavailable"
	KindInternal          Kind = "Internal"
)

// statusByKind maps the taxonomy onto HTTP status codes for the envelope.
var statusByKind = map[Kind]int{
	KindSessionMissing:    http.StatusNotFound,
	KindSchemaViolation:   http.StatusBadRequest,
	KindLockRequired:      http.StatusConflict,
	KindLockHeld:          http.StatusConflict,
	KindLockOwnerMismatch: http.StatusConflict,
	KindPreviewMissing:    http.StatusNotFound,
	KindPreviewStale:      http.StatusConflict,
	KindEntropyMissing:    http.StatusInternalServerError,
	KindEntropyExhausted:  http.StatusServiceUnavailable,
	KindExpressionInvalid: http.StatusBadRequest,
	KindConflict:          http.StatusConflict,
	KindUnavailable:       http.StatusNotImplemented,
	KindInternal:          http.StatusInternalServerError,
}

// Error is the typed error every core component returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a typed Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails returns a copy of e carrying additional structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts the typed Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// envelope is the wire shape of every failure response.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteTo renders err as the canonical JSON error envelope. Errors that are
// not a typed *Error are treated as KindInternal and logged with a stack
// trace equivalent (the wrapped error chain), never surfaced verbatim.
func WriteTo(w http.ResponseWriter, log *logrus.Logger, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Wrap(KindInternal, err, "internal error")
	}

	status, ok := statusByKind[apiErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if apiErr.Kind == KindInternal {
		log.WithError(apiErr).Error("internal error")
	}

	message := apiErr.Message
	if apiErr.Kind == KindInternal {
		// Never leak internal error detail to the client; log carries it.
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: envelopeBody{
		Kind:    apiErr.Kind,
		Message: message,
		Details: apiErr.Details,
	}})
}
