// Package diffpatch implements the three pieces of document algebra the
// Turn Engine needs: a stable hash for base-state drift detection, a JSON
// merge-patch apply, and a leaf-path diff summary between two documents.
package diffpatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/zhouzirui/turnkeeper/internal/model"
)

// StableHash serializes doc with sorted keys and a fixed numeric
// representation, then hashes it. Two documents that are semantically
// identical but arrived through different decode paths (int64 5 vs.
// float64 5) hash identically.
func StableHash(doc map[string]any) string {
	canon := canonicalize(doc)
	b, err := json.Marshal(canon)
	if err != nil {
		// canonicalize only ever produces json-safe scalars, maps and
		// slices; a marshal failure here means a caller smuggled in an
		// unsupported type, which is a programming error, not input error.
		panic(fmt.Sprintf("diffpatch: stable hash marshal: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize rewrites v so every number renders through the same
// textual path regardless of its original Go type.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case float64:
		return canonicalizeFloat(t)
	case float32:
		return canonicalizeFloat(float64(t))
	case int:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(t), 10))
	default:
		return v
	}
}

func canonicalizeFloat(f float64) json.Number {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// Apply performs a JSON-merge-patch (RFC 7396) style merge: a nil value
// deletes the key, an object value merges recursively into an existing
// object, and any other value replaces wholesale. base is not mutated.
func Apply(base, patch map[string]any) map[string]any {
	return applyInto(deepCopyMap(base), patch)
}

func applyInto(dst, patch map[string]any) map[string]any {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if patchObj, ok := v.(map[string]any); ok {
			if baseObj, ok := dst[k].(map[string]any); ok {
				dst[k] = applyInto(deepCopyMap(baseObj), patchObj)
				continue
			}
			dst[k] = applyInto(map[string]any{}, patchObj)
			continue
		}
		dst[k] = v
	}
	return dst
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Diff enumerates added/removed/changed leaf paths between before and
// after. A leaf is any value that is not a map[string]any — arrays,
// strings, numbers and bools are all compared wholesale at their path
// rather than element-by-element.
func Diff(before, after map[string]any) []model.DiffEntry {
	flatBefore := map[string]any{}
	flatAfter := map[string]any{}
	flatten("", before, flatBefore)
	flatten("", after, flatAfter)

	paths := make(map[string]struct{}, len(flatBefore)+len(flatAfter))
	for p := range flatBefore {
		paths[p] = struct{}{}
	}
	for p := range flatAfter {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	entries := make([]model.DiffEntry, 0, len(sorted))
	for _, p := range sorted {
		bv, bok := flatBefore[p]
		av, aok := flatAfter[p]
		switch {
		case !bok && aok:
			entries = append(entries, model.DiffEntry{Path: p, Changes: "→" + formatValue(av)})
		case bok && !aok:
			entries = append(entries, model.DiffEntry{Path: p, Changes: formatValue(bv) + "→"})
		case bok && aok && !reflect.DeepEqual(canonicalize(bv), canonicalize(av)):
			entries = append(entries, model.DiffEntry{Path: p, Changes: formatValue(bv) + "→" + formatValue(av)})
		}
	}
	return entries
}

func flatten(prefix string, v any, out map[string]any) {
	obj, ok := v.(map[string]any)
	if !ok {
		out[prefix] = v
		return
	}
	for k, val := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		flatten(path, val, out)
	}
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
	return string(b)
}
