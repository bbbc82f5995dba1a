package model

import "time"

// DiffEntry summarizes one leaf-path change produced by comparing a session
// state before and after a merge patch.
type DiffEntry struct {
	Path    string `json:"path"`
	Changes string `json:"changes"`
}

// DMNarration is the narration producer's structured output for a turn.
type DMNarration struct {
	Narration   string     `json:"narration"`
	Recap       string     `json:"recap,omitempty"`
	Stakes      string     `json:"stakes,omitempty"`
	Choices     []string   `json:"choices,omitempty"`
	RollRequest string     `json:"roll_request,omitempty"`
	Discovery   *Discovery `json:"discovery,omitempty"`
}

// Discovery is the conditional discovery payload a narration producer may
// attach to a commit-and-narrate call.
type Discovery struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Importance  int      `json:"importance"`
	RelatedQ    string   `json:"related_quest,omitempty"`
	Rewards     []string `json:"rewards,omitempty"`
}

// TurnRecord is the persisted record of one committed turn.
type TurnRecord struct {
	Turn            int64        `json:"turn"`
	PlayerIntent    string       `json:"player_intent"`
	Diff            []DiffEntry  `json:"diff"`
	ConsequenceEcho string       `json:"consequence_echo,omitempty"`
	DM              *DMNarration `json:"dm,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Rolls           []RollResult `json:"rolls,omitempty"`
}

// Preview is the short-lived reservation document created by the preview
// phase of a turn and consumed (or invalidated) by commit.
type Preview struct {
	ID              string         `json:"id"`
	SessionSlug     string         `json:"session_slug"`
	BaseTurn        int64          `json:"base_turn"`
	BaseHash        string         `json:"base_hash"`
	StatePatch      map[string]any `json:"state_patch"`
	TranscriptEntry string         `json:"transcript_entry"`
	ChangelogEntry  map[string]any `json:"changelog_entry,omitempty"`
	DiceExpressions []string       `json:"dice_expressions"`
	ReservedIndices []int64        `json:"reserved_indices"`
	CreatedAt       time.Time      `json:"created_at"`
	LockOwner       string         `json:"lock_owner,omitempty"`
	PlayerIntent    string         `json:"player_intent,omitempty"`
	Narrate         bool           `json:"narrate"`
	DM              *DMNarration   `json:"dm,omitempty"`
}
