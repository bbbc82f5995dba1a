// Package model defines the data shapes shared by storage, the turn engine,
// and the HTTP surface.
package model

import (
	"encoding/json"
	"time"
)

// Session is the lightweight identity record for a campaign-in-progress.
// The mutable gameplay data lives in SessionState; Session only tracks the
// handle other records are addressed by.
type Session struct {
	Slug      string    `json:"slug"`
	World     string    `json:"world"`
	HasLock   bool      `json:"has_lock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionState is the authoritative mutable document for a session. It is
// modeled as a tagged document: a typed root with the fields every
// implementation must reason about, plus an open Extra map for
// domain-specific extensions the engine never interprets.
type SessionState struct {
	Turn       int64          `json:"turn"`
	LogIndex   int64          `json:"log_index"`
	HP         int            `json:"hp"`
	MaxHP      int            `json:"max_hp"`
	AC         int            `json:"ac"`
	Location   string         `json:"location"`
	Conditions []string       `json:"conditions"`
	Inventory  []string       `json:"inventory"`
	SceneID    string         `json:"scene_id"`
	Flags      map[string]any `json:"flags"`
	GP         int            `json:"gp"`
	Spells     []string       `json:"spells"`

	// Extra carries fields outside the known schema. It round-trips through
	// marshal/unmarshal without the engine ever needing to know its shape.
	Extra map[string]any `json:"-"`
}

// knownStateFields lists the JSON keys SessionState owns directly; anything
// else lands in Extra.
var knownStateFields = map[string]struct{}{
	"turn": {}, "log_index": {}, "hp": {}, "max_hp": {}, "ac": {},
	"location": {}, "conditions": {}, "inventory": {}, "scene_id": {},
	"flags": {}, "gp": {}, "spells": {},
}

// ToMap flattens a SessionState into a plain JSON-shaped document, merging
// known fields with Extra. It is the basis for stable hashing, diffing, and
// merge-patch application, all of which operate on generic documents.
func (s SessionState) ToMap() map[string]any {
	out := map[string]any{
		"turn":       s.Turn,
		"log_index":  s.LogIndex,
		"hp":         s.HP,
		"max_hp":     s.MaxHP,
		"ac":         s.AC,
		"location":   s.Location,
		"conditions": stringSliceOrEmpty(s.Conditions),
		"inventory":  stringSliceOrEmpty(s.Inventory),
		"scene_id":   s.SceneID,
		"flags":      mapOrEmpty(s.Flags),
		"gp":         s.GP,
		"spells":     stringSliceOrEmpty(s.Spells),
	}
	for k, v := range s.Extra {
		if _, known := knownStateFields[k]; known {
			continue
		}
		out[k] = v
	}
	return out
}

// FromMap rebuilds a SessionState from a generic document, the inverse of
// ToMap. Unknown keys are preserved in Extra so a round trip through a JSON
// merge patch never silently drops data.
func FromMap(doc map[string]any) SessionState {
	s := SessionState{
		Flags: map[string]any{},
		Extra: map[string]any{},
	}
	s.Turn = int64FromAny(doc["turn"])
	s.LogIndex = int64FromAny(doc["log_index"])
	s.HP = intFromAny(doc["hp"])
	s.MaxHP = intFromAny(doc["max_hp"])
	s.AC = intFromAny(doc["ac"])
	s.Location, _ = doc["location"].(string)
	s.Conditions = stringSliceFromAny(doc["conditions"])
	s.Inventory = stringSliceFromAny(doc["inventory"])
	s.SceneID, _ = doc["scene_id"].(string)
	if flags, ok := doc["flags"].(map[string]any); ok {
		s.Flags = flags
	}
	s.GP = intFromAny(doc["gp"])
	s.Spells = stringSliceFromAny(doc["spells"])

	for k, v := range doc {
		if _, known := knownStateFields[k]; known {
			continue
		}
		s.Extra[k] = v
	}
	return s
}

// MarshalJSON renders the tagged-document shape: known fields flattened
// alongside Extra, with no separate "extra" wrapper key.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToMap())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = FromMap(doc)
	return nil
}

func stringSliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func stringSliceFromAny(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func int64FromAny(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func intFromAny(v any) int {
	return int(int64FromAny(v))
}
