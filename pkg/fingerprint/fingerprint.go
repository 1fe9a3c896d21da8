// Package fingerprint derives stable cache keys from arbitrary structured
// inputs.
//
// Design Notes:
//   - Canonical form: map keys are sorted recursively at every nesting level,
//     so field order never changes the result
//   - Uses FNV-1a 64-bit hash (stdlib, fast, good distribution)
//   - Pure functions, no shared state, safe for concurrent use
//
// Trade-offs:
//   - FNV-1a is not collision-resistant; a collision causes a wrong cache hit.
//     Accepted: this is a cache key, not a security boundary, and keys are
//     namespaced per computation kind which confines any collision.
//   - Inputs go through JSON to normalize Go types (struct vs map, int vs
//     float) the same way they normalize on the wire.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Fingerprint returns a stable cache key for the input under the given
// namespace, formatted as "namespace:hex64". Two structurally equal inputs
// produce the same key regardless of map key order or field order.
//
// Complexity: O(n log n) in the number of keys across all nesting levels.
func Fingerprint(namespace string, input any) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize input: %w", err)
	}

	hasher := fnv.New64a()
	hasher.Write([]byte(canonical))
	return fmt.Sprintf("%s:%016x", namespace, hasher.Sum64()), nil
}

// Canonicalize renders the input as deterministic JSON: object keys sorted
// at every level, no insignificant whitespace.
func Canonicalize(input any) (string, error) {
	// Round-trip through JSON so structs, maps and primitives all land on
	// the same representation before ordering is applied.
	raw, err := json.Marshal(input)
	if err != nil {
		return "", err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}

	var b strings.Builder
	if err := writeCanonical(&b, decoded); err != nil {
		return "", err
	}
	return b.String(), nil
}

// writeCanonical recursively writes a canonical JSON rendering of v.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(encodedKey)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil

	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	default:
		// Scalars (string, float64, bool, nil) already have one rendering.
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(encoded)
		return nil
	}
}
