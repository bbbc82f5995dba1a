package model

// EntropyEntry is one record in the global, append-only, 1-based dice
// stream. Every turn and every ad-hoc roll draws from entries in strict
// index order; an index is never reused once consumed by a session.
type EntropyEntry struct {
	Index int64  `json:"index"`
	D20   []int  `json:"d20"`
	D100  []int  `json:"d100"`
	Raw   []byte `json:"raw,omitempty"`
}

// RollResult is the outcome of evaluating a single dice expression.
type RollResult struct {
	Expression      string  `json:"expression"`
	Total           int     `json:"total"`
	Breakdown       string  `json:"breakdown"`
	ConsumedIndices []int64 `json:"consumed_indices"`
	Phrase          string  `json:"phrase,omitempty"`
}
