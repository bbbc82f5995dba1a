// Package entropy implements the Entropy Source: a global, append-only,
// 1-based, never-reused stream of dice pools shared process-wide across
// every session. Extension is a distinct, explicit operation the Entropy
// Source never performs on the caller's behalf — ensure_available only
// checks and reports EntropyExhausted, leaving the operator tool
// responsible for growing the stream.
package entropy

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// D20PoolSize is the number of raw d20 values carried by every entry, sized
// to cover the largest single expression a roll call is expected to need
// (NdX for reasonable N, plus the two draws an advantage/disadvantage check
// consumes from the same entry).
const D20PoolSize = 20

// D100PoolSize is the number of raw d100 values carried by every entry.
const D100PoolSize = 4

// Store is the durable half of the entropy stream: the Storage Contract
// implements it against whichever backend a deployment chooses. The stream
// itself is process-wide, not session-scoped.
type Store interface {
	EntropyLength(ctx context.Context) (int64, error)
	LoadEntropyEntry(ctx context.Context, index int64) (model.EntropyEntry, error)
	LoadEntropyRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error)
	AppendEntropyEntries(ctx context.Context, entries []model.EntropyEntry) error
}

// Source resolves peek/load/length/ensure_available against a Store. It
// holds no mutable state of its own beyond the Store handle: two Sources
// over the same Store observe the same stream.
type Source struct {
	store Store
}

// New builds a Source backed by store.
func New(store Store) *Source {
	return &Source{store: store}
}

// Length reports the highest stored index, N.
func (s *Source) Length(ctx context.Context) (int64, error) {
	return s.store.EntropyLength(ctx)
}

// Peek yields the first limit entries, starting at index 1. It is
// restartable and finite: callers past the end of the stream get back
// whatever prefix exists, never an error.
func (s *Source) Peek(ctx context.Context, limit int64) ([]model.EntropyEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	n, err := s.store.EntropyLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("entropy: read length: %w", err)
	}
	to := limit
	if to > n {
		to = n
	}
	if to < 1 {
		return nil, nil
	}
	return s.store.LoadEntropyRange(ctx, 1, to)
}

// Load returns the entry at index, or EntropyMissing if the stream is
// shorter. index is 1-based.
func (s *Source) Load(ctx context.Context, index int64) (model.EntropyEntry, error) {
	if index < 1 {
		return model.EntropyEntry{}, apierr.Newf(apierr.KindEntropyMissing, "entropy index must be >= 1, got %d", index)
	}
	n, err := s.store.EntropyLength(ctx)
	if err != nil {
		return model.EntropyEntry{}, fmt.Errorf("entropy: read length: %w", err)
	}
	if index > n {
		return model.EntropyEntry{}, apierr.Newf(apierr.KindEntropyMissing, "entropy index %d exceeds stream length %d", index, n)
	}
	return s.store.LoadEntropyEntry(ctx, index)
}

// LoadRange returns entries [from, to], failing EntropyMissing if any of
// them has not been generated yet.
func (s *Source) LoadRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error) {
	n, err := s.store.EntropyLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("entropy: read length: %w", err)
	}
	if to > n {
		return nil, apierr.Newf(apierr.KindEntropyMissing, "entropy index %d exceeds stream length %d", to, n)
	}
	return s.store.LoadEntropyRange(ctx, from, to)
}

// EnsureAvailable is a no-op when targetIndex is already within the
// stream; otherwise it fails EntropyExhausted. It never extends the
// stream itself — extension is a distinct operator action (see Extend),
// deliberately kept out of the request path so a turn preview never pays
// for entropy generation.
func (s *Source) EnsureAvailable(ctx context.Context, targetIndex int64) error {
	if targetIndex < 1 {
		return nil
	}
	n, err := s.store.EntropyLength(ctx)
	if err != nil {
		return fmt.Errorf("entropy: read length: %w", err)
	}
	if targetIndex > n {
		return apierr.Newf(apierr.KindEntropyExhausted, "entropy stream has %d entries, need %d", n, targetIndex)
	}
	return nil
}

// Extend deterministically appends count further entries to the stream,
// continuing from its current length. It is the only operation that grows
// the stream, invoked by the operator tool rather than any request-serving
// path. Calling it twice with the same seed and starting length produces
// identical entries both times.
func (s *Source) Extend(ctx context.Context, seed int64, count int) error {
	if count <= 0 {
		return nil
	}
	n, err := s.store.EntropyLength(ctx)
	if err != nil {
		return fmt.Errorf("entropy: read length: %w", err)
	}
	entries := make([]model.EntropyEntry, 0, count)
	for idx := n + 1; idx <= n+int64(count); idx++ {
		entries = append(entries, GenerateEntry(seed, idx))
	}
	return s.store.AppendEntropyEntries(ctx, entries)
}

// GenerateEntry deterministically derives the entry at index from seed.
// The same (seed, index) pair always produces the same pools, so the
// stream can be regenerated verbatim from nothing but the seed and the
// durable record of how far it has been extended.
func GenerateEntry(seed int64, index int64) model.EntropyEntry {
	rng := rand.New(rand.NewSource(entrySeed(seed, index)))

	d20 := make([]int, D20PoolSize)
	for i := range d20 {
		d20[i] = 1 + rng.Intn(20)
	}
	d100 := make([]int, D100PoolSize)
	for i := range d100 {
		d100[i] = 1 + rng.Intn(100)
	}

	raw := make([]byte, D20PoolSize+D100PoolSize)
	for i, v := range d20 {
		raw[i] = byte(v)
	}
	for i, v := range d100 {
		raw[D20PoolSize+i] = byte(v)
	}

	return model.EntropyEntry{Index: index, D20: d20, D100: d100, Raw: raw}
}

// entrySeed combines the stream seed and the entry index into a single
// PRNG seed, using an FNV hash so nearby indices don't produce visibly
// correlated streams under math/rand's linear congruential source.
func entrySeed(seed int64, index int64) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d:%d", seed, index)
	return int64(h.Sum64())
}
