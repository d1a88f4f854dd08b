// Package fingerprint derives stable keys and change-detection hashes for source rows.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// sourceKeyHexLen is the number of hex characters kept for hash-derived source keys
const sourceKeyHexLen = 32

// SourceKey returns the record id when the source supplies one. Otherwise it derives
// "hash:" plus 32 hex characters of a SHA-256 over the stable fields, so a replayed row
// without an id still maps to the same key.
func SourceKey(recordID string, fields map[string]string, stableFields []string) string {
	if id := strings.TrimSpace(recordID); id != "" {
		return id
	}

	var b strings.Builder
	for _, f := range stableFields {
		b.WriteString(strings.ToLower(strings.TrimSpace(fields[f])))
		b.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "hash:" + hex.EncodeToString(sum[:])[:sourceKeyHexLen]
}

// RowHash hashes every non-empty field so an unchanged row can be detected on replay
func RowHash(fields map[string]string) string {
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if v = strings.TrimSpace(v); v != "" {
			data[k] = v
		}
	}
	return Generate(data)
}

// Generate creates a deterministic fingerprint for structured data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// canonicalize creates a deterministic string representation by sorting keys
// and recursively processing nested structures
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			kb, _ := json.Marshal(k)
			parts = append(parts, string(kb)+":"+canonicalize(v[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, canonicalize(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
