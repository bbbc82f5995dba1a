package apierr_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
)

func TestAsExtractsTypedError(t *testing.T) {
	wrapped := apierr.Wrap(apierr.KindConflict, errors.New("boom"), "conflict")
	var err error = wrapped

	got, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, got.Kind)
}

func TestAsFailsForPlainError(t *testing.T) {
	_, ok := apierr.As(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := apierr.Wrap(apierr.KindInternal, cause, "wrapped")
	assert.ErrorIs(t, err, cause)
}

func TestWriteToMapsKindToStatus(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec := httptest.NewRecorder()
	apierr.WriteTo(rec, log, apierr.New(apierr.KindLockHeld, "locked by someone else"))

	assert.Equal(t, 409, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "LockHeld", body["error"]["kind"])
	assert.Equal(t, "locked by someone else", body["error"]["message"])
}

func TestWriteToHidesInternalErrorDetail(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec := httptest.NewRecorder()
	apierr.WriteTo(rec, log, errors.New("leaky driver detail"))

	assert.Equal(t, 500, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal", body["error"]["kind"])
	assert.Equal(t, "internal error", body["error"]["message"])
}
