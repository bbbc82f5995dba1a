// Package schema declares the JSON-schema documents the HTTP Surface and
// Turn Engine validate mutating payloads against, using kin-openapi's
// openapi3.Schema as the schema representation and VisitJSON to run the
// check.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
)

var allowAdditional = true

// StatePatchSchema describes the shape a merge-patch document may take
// against SessionState's known fields. It has no required list — a patch
// is inherently partial — and allows additional properties, since
// SessionState's Extra map is intentionally open-ended.
var StatePatchSchema = openapi3.NewObjectSchema().
	WithProperty("turn", openapi3.NewInt64Schema()).
	WithProperty("log_index", openapi3.NewInt64Schema()).
	WithProperty("hp", openapi3.NewIntegerSchema()).
	WithProperty("max_hp", openapi3.NewIntegerSchema()).
	WithProperty("ac", openapi3.NewIntegerSchema()).
	WithProperty("gp", openapi3.NewIntegerSchema()).
	WithProperty("location", openapi3.NewStringSchema()).
	WithProperty("scene_id", openapi3.NewStringSchema()).
	WithProperty("conditions", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
	WithProperty("inventory", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
	WithProperty("spells", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
	WithProperty("flags", openapi3.NewObjectSchema())

// SessionStateSchema is the same shape, used to re-validate a fully
// materialized state after a patch has been applied.
var SessionStateSchema = StatePatchSchema

// OpenDocumentSchema accepts any JSON object — used for auxiliary docs
// (mood, quests, world lore, ...), which are deliberately schema-free
// CRUD blobs that still go through the same validate-or-reject path every
// other write route does.
var OpenDocumentSchema = openapi3.NewObjectSchema()

func init() {
	StatePatchSchema.AdditionalProperties = openapi3.AdditionalProperties{Has: &allowAdditional}
	OpenDocumentSchema.AdditionalProperties = openapi3.AdditionalProperties{Has: &allowAdditional}
}

// Validate checks doc against schema, translating any failure into a
// SchemaViolation.
func Validate(s *openapi3.Schema, doc map[string]any) error {
	normalized, err := normalize(doc)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "normalize document for validation")
	}
	if err := s.VisitJSON(normalized, openapi3.MultiErrors()); err != nil {
		return apierr.Wrap(apierr.KindSchemaViolation, err, fmt.Sprintf("document failed schema validation: %v", err))
	}
	return nil
}

// normalize round-trips doc through encoding/json so every value arrives
// at VisitJSON as the plain float64/string/bool/map/slice shape it
// expects, regardless of whether the caller built the document with
// int64 fields or decoded it fresh from a request body.
func normalize(doc map[string]any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
