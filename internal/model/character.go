package model

import "time"

// CharacterRecord is an open-ended character sheet document, mirrored
// between a session's authoritative copy and the process-wide shared
// catalog used to clone templates into new sessions.
type CharacterRecord struct {
	Slug      string         `json:"slug"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}
