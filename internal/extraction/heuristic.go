package extraction

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
)

// HeuristicConfidence is the confidence of every pattern-derived task.
const HeuristicConfidence = 0.6

// linePattern is one pattern family. Families are tried in order and the
// first match wins.
type linePattern struct {
	name string
	re   *regexp.Regexp
	// extract returns the task text and an optional assignee.
	extract func(m []string) (text, assignee string)
}

const months = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	markerPattern   = regexp.MustCompile(`(?i)\b(Action|Todo|Task|AI)\s*[:\-]\s*(.+)`)
	checkboxPattern = regexp.MustCompile(`^[-*+]\s*\[[ xX]\]\s*(.+)`)
	personPattern   = regexp.MustCompile(`^([A-Z][a-zA-Z]+)\s+(to|will|should)\s+(.+?)\.?$`)
	modalPattern    = regexp.MustCompile(`(?i)\b(need to|needs to|must|should|please|let's|lets|follow up on)\s+(.+)`)

	ownerPattern = regexp.MustCompile(`(?i)\b(?:owner|assignee)\s*:\s*@?([\w.-]+)`)
	duePattern   = regexp.MustCompile(`(?i)\b(?:due\s+)?by\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|eod|eow|(?:` + months + `)\.?\s+\d{1,2})\b`)
)

// notPeople are capitalised sentence openers that the person pattern would
// otherwise take for a name.
var notPeople = map[string]bool{
	"We": true, "They": true, "You": true, "Someone": true, "Everyone": true,
	"Somebody": true, "Everybody": true, "Team": true, "It": true, "This": true,
	"That": true, "He": true, "She": true, "Nobody": true,
}

var linePatterns = []linePattern{
	{
		name: "marker",
		re:   markerPattern,
		extract: func(m []string) (string, string) {
			return m[2], ""
		},
	},
	{
		name: "checkbox",
		re:   checkboxPattern,
		extract: func(m []string) (string, string) {
			return m[1], ""
		},
	},
	{
		name: "person",
		re:   personPattern,
		extract: func(m []string) (string, string) {
			if notPeople[m[1]] {
				return "", ""
			}
			return m[1] + " " + m[2] + " " + m[3], m[1]
		},
	},
	{
		name: "modal",
		re:   modalPattern,
		extract: func(m []string) (string, string) {
			return m[2], ""
		},
	},
}

// HeuristicExtractor finds tasks with line patterns. It is pure and
// deterministic: the same passages always yield the same tasks.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a heuristic extractor.
func NewHeuristicExtractor() HeuristicExtractor {
	return HeuristicExtractor{}
}

// Extract scans every line of every passage. Each passage contributes tasks
// in line order with SourceIndex set to its local index.
func (HeuristicExtractor) Extract(passages []corpus.Passage) []Task {
	tasks := []Task{}
	for _, p := range passages {
		for _, raw := range strings.Split(p.Text, "\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if t, ok := matchLine(line); ok {
				t.SourceIndex = p.LocalIndex
				tasks = append(tasks, t)
			}
		}
	}
	return tasks
}

func matchLine(line string) (Task, bool) {
	var text, assignee string
	for _, p := range linePatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if text, assignee = p.extract(m); strings.TrimSpace(text) != "" {
			break
		}
	}

	text = strings.TrimSpace(text)
	if strings.TrimRight(text, ". ") == "" {
		return Task{}, false
	}

	if assignee == "" {
		if m := ownerPattern.FindStringSubmatch(line); m != nil {
			assignee = m[1]
		}
	}
	var due string
	if m := duePattern.FindString(line); m != "" {
		due = m
	}

	return Task{
		Title:        titleFrom(text),
		Body:         strings.TrimRight(text, ".") + ".",
		Labels:       []string{DefaultLabel},
		AssigneeHint: assignee,
		DueHint:      due,
		Confidence:   HeuristicConfidence,
	}, true
}
