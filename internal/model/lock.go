package model

import "time"

// Lock is the per-session mutual-exclusion lease. A session has at most one
// Lock at a time; its absence means the session is UNLOCKED.
type Lock struct {
	SessionSlug string    `json:"session_slug"`
	Owner       string    `json:"owner"`
	TTLSeconds  int       `json:"ttl_seconds"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// Expired reports whether the lock's lease has elapsed as of now.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.AcquiredAt.Add(time.Duration(l.TTLSeconds) * time.Second))
}
