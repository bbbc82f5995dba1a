// Package livebus implements the Live Update Bus: a per-session
// broadcaster that fans out transcript/changelog/roll deltas to SSE
// subscribers immediately after the Turn Engine or Roll Service commits
// them. Subscribers that miss a delta (disconnect, slow consumer) are
// expected to reconcile by re-reading the log endpoints with a cursor —
// the bus carries no replay buffer.
package livebus

import (
	"sync"

	"github.com/zhouzirui/turnkeeper/internal/model"
)

// Delta is one update event's payload. Each sub-object is present only
// when that category of write happened in the commit or roll being
// published.
type Delta struct {
	Transcript *LogDelta   `json:"transcript,omitempty"`
	Changelog  *LogDelta   `json:"changelog,omitempty"`
	Rolls      *RollsDelta `json:"rolls,omitempty"`
}

// LogDelta is the lines one append call produced.
type LogDelta struct {
	Lines []model.TextEntry `json:"lines"`
}

// RollsDelta reports rolls attached to a turn, whether from a commit's
// own dice resolution or a subsequent ad-hoc roll against that turn.
type RollsDelta struct {
	Turn  int64              `json:"turn"`
	Items []model.RollResult `json:"items"`
}

type subscriber struct {
	ch chan Delta
}

// Bus holds one subscriber set per session slug.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a new listener for slug and returns the channel it
// receives deltas on plus an unsubscribe function the caller must invoke
// when its HTTP handler returns (on disconnect).
func (b *Bus) Subscribe(slug string) (<-chan Delta, func()) {
	sub := &subscriber{ch: make(chan Delta, 32)}

	b.mu.Lock()
	if b.subs[slug] == nil {
		b.subs[slug] = make(map[*subscriber]struct{})
	}
	b.subs[slug][sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs[slug], sub)
		if len(b.subs[slug]) == 0 {
			delete(b.subs, slug)
		}
		b.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, unsubscribe
}

// Publish fans delta out to every current subscriber of slug. A
// subscriber whose buffer is full is skipped rather than blocking the
// publisher — a slow SSE client never stalls a commit.
func (b *Bus) Publish(slug string, delta Delta) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs[slug]))
	for sub := range b.subs[slug] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- delta:
		default:
		}
	}
}
