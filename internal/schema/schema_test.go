package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/schema"
)

func TestValidateAcceptsPartialPatch(t *testing.T) {
	err := schema.Validate(schema.StatePatchSchema, map[string]any{"hp": 8})
	assert.NoError(t, err)
}

func TestValidateAcceptsUnknownExtraFields(t *testing.T) {
	err := schema.Validate(schema.StatePatchSchema, map[string]any{"hp": 8, "custom_flag": true})
	assert.NoError(t, err)
}

func TestValidateRejectsWrongType(t *testing.T) {
	err := schema.Validate(schema.StatePatchSchema, map[string]any{"hp": "not-a-number"})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindSchemaViolation, apiErr.Kind)
}

func TestValidateAcceptsNormalizedNumericTypes(t *testing.T) {
	// int64 arrives here the way Go-constructed callers pass it, not the
	// float64 decoding produces; normalize must bridge both.
	err := schema.Validate(schema.StatePatchSchema, map[string]any{"turn": int64(3)})
	assert.NoError(t, err)
}

func TestOpenDocumentSchemaAcceptsArbitraryShape(t *testing.T) {
	err := schema.Validate(schema.OpenDocumentSchema, map[string]any{
		"mood":  "tense",
		"notes": []any{"a", "b"},
	})
	assert.NoError(t, err)
}
