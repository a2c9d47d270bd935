// Package canonical computes order-invariant content digests over
// entity JSON. The hash is the sole truth for "did the content
// change?" decisions in the watcher and the sync engine.
package canonical

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// defaultExclusions are elided from the top level before hashing so
// that timestamp churn does not register as a content change.
var defaultExclusions = []string{"created_at", "updated_at"}

// Hasher computes canonical SHA-256 digests. The zero value excludes
// only the default timestamp fields.
type Hasher struct {
	exclude map[string]bool
}

// NewHasher creates a hasher that additionally elides the given
// top-level fields.
func NewHasher(exclude ...string) *Hasher {
	m := make(map[string]bool, len(exclude)+len(defaultExclusions))
	for _, f := range defaultExclusions {
		m[f] = true
	}
	for _, f := range exclude {
		m[f] = true
	}
	return &Hasher{exclude: m}
}

// Hash marshals v to JSON, canonicalizes it, and returns the hex
// SHA-256 of the canonical rendering.
func (h *Hasher) Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical: marshal: %w", err)
	}
	return h.HashJSON(data)
}

// HashJSON canonicalizes raw JSON and returns its hex SHA-256.
func (h *Hasher) HashJSON(data []byte) (string, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("canonical: unmarshal: %w", err)
	}
	if obj, ok := decoded.(map[string]any); ok {
		for field := range h.excludeSet() {
			delete(obj, field)
		}
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, decoded); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", sum), nil
}

func (h *Hasher) excludeSet() map[string]bool {
	if h == nil || h.exclude == nil {
		m := make(map[string]bool, len(defaultExclusions))
		for _, f := range defaultExclusions {
			m[f] = true
		}
		return m
	}
	return h.exclude
}

// writeCanonical renders a decoded JSON value deterministically:
// object keys sorted lexicographically at every depth, array elements
// sorted by the lexicographic order of their own canonical rendering.
func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(keyJSON)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		rendered := make([]string, len(val))
		for i, elem := range val {
			var esb strings.Builder
			if err := writeCanonical(&esb, elem); err != nil {
				return err
			}
			rendered[i] = esb.String()
		}
		sort.Strings(rendered)
		sb.WriteByte('[')
		sb.WriteString(strings.Join(rendered, ","))
		sb.WriteByte(']')
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(out)
	}
	return nil
}
