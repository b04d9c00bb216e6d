package secrets

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scrubber kinds accepted by New.
const (
	KindGitleaks = "gitleaks"
	KindNone     = "none"
)

// Result contains the scrubbing result.
type Result struct {
	// Scrubbed is the content with secrets redacted.
	Scrubbed string `json:"scrubbed"`

	// Findings lists what was redacted. Secret values are never included.
	Findings []Finding `json:"findings,omitempty"`

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int `json:"by_rule,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Finding is one redacted secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line,omitempty"`
}

// HasFindings returns true if anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber detects and redacts secrets from text.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

// New returns the scrubber for kind ("gitleaks" or "none").
func New(kind string) (Scrubber, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindGitleaks:
		return NewGitleaksScrubber()
	case KindNone:
		return NoopScrubber{}, nil
	default:
		return nil, fmt.Errorf("unknown scrubber %q", kind)
	}
}

// Marker returns the replacement text for a secret matched by ruleID.
func Marker(ruleID string) string {
	return "[REDACTED:" + ruleID + "]"
}

// match is a secret value and the rule that found it.
type match struct {
	secret string
	ruleID string
}

// redact replaces every occurrence of each secret. Longer secrets go first so
// a secret that contains another is replaced whole.
func redact(content string, matches []match) string {
	sorted := make([]match, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if m.secret == "" || seen[m.secret] {
			continue
		}
		seen[m.secret] = true
		sorted = append(sorted, m)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].secret) > len(sorted[j].secret)
	})

	for _, m := range sorted {
		content = strings.ReplaceAll(content, m.secret, Marker(m.ruleID))
	}
	return content
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (NoopScrubber) IsEnabled() bool { return false }

var _ Scrubber = NoopScrubber{}
