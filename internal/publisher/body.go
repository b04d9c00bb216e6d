package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

const (
	fingerprintLen = 12

	// MaxExcerptRunes bounds the source excerpt appended to issue bodies.
	MaxExcerptRunes = 400
)

// Fingerprint is the idempotency key for a task. Leading and trailing
// whitespace of title and body does not change it.
func Fingerprint(title, body string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(title) + "\n" + strings.TrimSpace(body)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Marker is the hidden comment that lets later runs find the issue.
func Marker(corpusID, fp string) string {
	return fmt.Sprintf("<!-- minutes:corpus=%s %s -->", corpusID, tracker.FingerprintToken(fp))
}

// Excerpt cuts text to MaxExcerptRunes, ending truncated text with an
// ellipsis.
func Excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= MaxExcerptRunes {
		return text
	}
	return string([]rune(text)[:MaxExcerptRunes]) + "…"
}

// RenderBody builds the issue body: the task body, an optional source
// excerpt and the fingerprint marker, separated by blank lines.
func RenderBody(body, corpusID, fp string, source *corpus.Passage) string {
	var parts []string
	if b := strings.TrimSpace(body); b != "" {
		parts = append(parts, b)
	}
	if source != nil {
		parts = append(parts, fmt.Sprintf("_Source: corpus `%s`, passage #%d_\n\n```\n%s\n```",
			source.CorpusID, source.LocalIndex, Excerpt(source.Text)))
	}
	parts = append(parts, Marker(corpusID, fp))
	return strings.Join(parts, "\n\n")
}
