package fsstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

var entropyMu sync.Mutex

// EntropyLength reports how many entries the global stream holds.
func (s *FSStore) EntropyLength(ctx context.Context) (int64, error) {
	lines, err := readNonBlankLines(s.entropyPath())
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, err, "read entropy stream")
	}
	return int64(len(lines)), nil
}

// LoadEntropyEntry returns the entry at a 1-based index.
func (s *FSStore) LoadEntropyEntry(ctx context.Context, index int64) (model.EntropyEntry, error) {
	entries, err := s.LoadEntropyRange(ctx, index, index)
	if err != nil {
		return model.EntropyEntry{}, err
	}
	if len(entries) == 0 {
		return model.EntropyEntry{}, apierr.Newf(apierr.KindEntropyMissing, "entropy index %d not found", index)
	}
	return entries[0], nil
}

// LoadEntropyRange returns entries [from, to] inclusive.
func (s *FSStore) LoadEntropyRange(ctx context.Context, from, to int64) ([]model.EntropyEntry, error) {
	lines, err := readNonBlankLines(s.entropyPath())
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "read entropy stream")
	}
	if from < 1 || to > int64(len(lines)) || from > to {
		return nil, apierr.Newf(apierr.KindEntropyMissing, "entropy range [%d,%d] exceeds stream length %d", from, to, len(lines))
	}
	out := make([]model.EntropyEntry, 0, to-from+1)
	for i := from; i <= to; i++ {
		var entry model.EntropyEntry
		if err := json.Unmarshal([]byte(lines[i-1]), &entry); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, err, "decode entropy entry")
		}
		out = append(out, entry)
	}
	return out, nil
}

// AppendEntropyEntries extends the global stream. It never rewrites a
// previously written line — new entries are strictly appended.
func (s *FSStore) AppendEntropyEntries(ctx context.Context, entries []model.EntropyEntry) error {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	existing, err := readNonBlankLines(s.entropyPath())
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "read entropy stream")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line, err := jsonLine(e)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "encode entropy entry")
		}
		lines = append(lines, line)
	}
	all := append(existing, lines...)
	if err := rewriteLines(s.entropyPath(), all); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "extend entropy stream")
	}
	return nil
}
