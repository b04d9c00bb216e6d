package extraction

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// DefaultLabel is applied to tasks that carry no labels.
const DefaultLabel = "meeting-action"

// MaxTitleRunes bounds task titles.
const MaxTitleRunes = 80

// Extraction modes reported in Result.Mode.
const (
	ModeStructured = "structured"
	ModeHeuristic  = "heuristic"
)

// ErrValidation marks bad caller input.
var ErrValidation = errors.New("validation failed")

// Task is one actionable item extracted from a meeting.
type Task struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Labels       []string `json:"labels"`
	AssigneeHint string   `json:"assignee_hint,omitempty"`
	DueHint      string   `json:"due_hint,omitempty"`
	SourceIndex  int      `json:"source_index"`
	Confidence   float64  `json:"confidence"`
}

// UnmarshalJSON accepts source_i as an alias of source_index.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	aux := struct {
		*plain
		SourceIndex *int `json:"source_index"`
		SourceI     *int `json:"source_i"`
	}{plain: (*plain)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.SourceIndex != nil:
		t.SourceIndex = *aux.SourceIndex
	case aux.SourceI != nil:
		t.SourceIndex = *aux.SourceI
	}
	return nil
}

// EffectiveLabels returns the labels, or the default label when there are none.
func (t Task) EffectiveLabels() []string {
	if len(t.Labels) == 0 {
		return []string{DefaultLabel}
	}
	return t.Labels
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// titleFrom trims, truncates and strips trailing periods.
func titleFrom(s string) string {
	s = truncateRunes(strings.TrimSpace(s), MaxTitleRunes)
	return strings.TrimSpace(strings.TrimRight(s, "."))
}
