package secrets

import (
	"fmt"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// GitleaksScrubber redacts using the gitleaks default ruleset.
type GitleaksScrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

var _ Scrubber = (*GitleaksScrubber)(nil)

// NewGitleaksScrubber loads the default ruleset. Loading takes a moment, so
// build one scrubber and share it.
func NewGitleaksScrubber() (*GitleaksScrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	return &GitleaksScrubber{detector: detector}, nil
}

// Scrub redacts every finding from content.
func (g *GitleaksScrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if content == "" {
		return result
	}

	// The detector accumulates findings internally.
	g.mu.Lock()
	found := g.detector.DetectString(content)
	g.mu.Unlock()

	matches := make([]match, 0, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		matches = append(matches, match{secret: secret, ruleID: f.RuleID})
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
		result.ByRule[f.RuleID]++
	}

	result.Scrubbed = redact(content, matches)
	result.Duration = time.Since(start)
	return result
}

func (g *GitleaksScrubber) IsEnabled() bool { return true }
