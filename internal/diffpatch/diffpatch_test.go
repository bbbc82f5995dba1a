package diffpatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/diffpatch"
)

func TestStableHashIgnoresNumericType(t *testing.T) {
	a := map[string]any{"turn": int64(5), "hp": 10}
	b := map[string]any{"turn": float64(5), "hp": float64(10)}

	assert.Equal(t, diffpatch.StableHash(a), diffpatch.StableHash(b))
}

func TestStableHashDiffersOnValue(t *testing.T) {
	a := map[string]any{"turn": int64(5)}
	b := map[string]any{"turn": int64(6)}

	assert.NotEqual(t, diffpatch.StableHash(a), diffpatch.StableHash(b))
}

func TestApplyMergesNestedObjects(t *testing.T) {
	base := map[string]any{
		"hp":    10,
		"flags": map[string]any{"seen_intro": true, "met_npc": false},
	}
	patch := map[string]any{
		"hp":    8,
		"flags": map[string]any{"met_npc": true},
	}

	got := diffpatch.Apply(base, patch)

	require.Equal(t, 8, got["hp"])
	flags, ok := got["flags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, flags["seen_intro"])
	assert.Equal(t, true, flags["met_npc"])

	// base must not be mutated by Apply
	baseFlags := base["flags"].(map[string]any)
	assert.Equal(t, false, baseFlags["met_npc"])
}

func TestApplyNullDeletesKey(t *testing.T) {
	base := map[string]any{"scene_id": "tavern", "hp": 10}
	patch := map[string]any{"scene_id": nil}

	got := diffpatch.Apply(base, patch)

	_, exists := got["scene_id"]
	assert.False(t, exists)
	assert.Equal(t, 10, got["hp"])
}

func TestApplyReplacesArraysWholesale(t *testing.T) {
	base := map[string]any{"inventory": []any{"torch", "rope"}}
	patch := map[string]any{"inventory": []any{"sword"}}

	got := diffpatch.Apply(base, patch)

	assert.Equal(t, []any{"sword"}, got["inventory"])
}

func TestDiffReportsLeafChanges(t *testing.T) {
	before := map[string]any{"hp": 10, "location": "tavern", "flags": map[string]any{"met_npc": false}}
	after := map[string]any{"hp": 8, "location": "tavern", "flags": map[string]any{"met_npc": true}}

	entries := diffpatch.Diff(before, after)

	require.Len(t, entries, 2)
	assert.Equal(t, "flags.met_npc", entries[0].Path)
	assert.Equal(t, "false→true", entries[0].Changes)
	assert.Equal(t, "hp", entries[1].Path)
	assert.Equal(t, "10→8", entries[1].Changes)
}

func TestDiffTreatsArraysAsLeaves(t *testing.T) {
	before := map[string]any{"inventory": []any{"torch"}}
	after := map[string]any{"inventory": []any{"torch", "rope"}}

	entries := diffpatch.Diff(before, after)

	require.Len(t, entries, 1)
	assert.Equal(t, "inventory", entries[0].Path)
}

func TestDiffNoChangesWhenNumericTypeDiffers(t *testing.T) {
	before := map[string]any{"hp": int64(10)}
	after := map[string]any{"hp": float64(10)}

	entries := diffpatch.Diff(before, after)

	assert.Empty(t, entries)
}
