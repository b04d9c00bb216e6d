// Package sanitize normalizes identifiers and paths that come from
// configuration or uploads.
//
// Vector store collection names must match ^[a-z0-9_]{1,64}$ to be valid on
// both Qdrant and chromem.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the longest collection name accepted by the backends.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus 8 hex characters.
	hashSuffixLength = 9
)

// Identifier lowercases s, replaces characters outside [a-z0-9_] with
// underscores, collapses runs of underscores and trims them from both ends.
// Results longer than MaxIdentifierLength are cut and given a hash suffix so
// distinct long inputs stay distinct. An empty result yields fallback.
//
//	Identifier("Meeting Notes!", "passages") -> "meeting_notes"
//	Identifier("", "passages")               -> "passages"
func Identifier(s, fallback string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return fallback
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash keeps a prefix of s and appends the first 8 hex digits of
// its sha256, e.g. "very_long_name..._a1b2c3d4".
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	prefix := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return prefix + "_" + hex.EncodeToString(sum[:])[:8]
}
