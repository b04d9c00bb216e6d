// Package stream runs task extraction as a session that reports progress
// events while the oracle reply streams in.
package stream

import (
	"encoding/json"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
)

// Stages in emission order. StageDone and StageError are terminal.
const (
	StageRetrieving    = "retrieving"
	StageExtracting    = "extracting"
	StageParsing       = "parsing"
	StageRulesFallback = "rules_fallback"
	StageDone          = "done"
	StageError         = "error"
)

// Fixed progress values per stage. Extracting progress is computed per
// increment and stays at or below maxExtractingProgress.
const (
	progressRetrieving    = 5
	progressExtractBase   = 10
	maxExtractingProgress = 95
	progressRulesFallback = 96
	progressParsing       = 97
	progressDone          = 100
)

// Event is one progress report.
type Event struct {
	Stage    string            `json:"stage"`
	Progress int               `json:"progress,omitempty"`
	Chunks   int               `json:"chunks,omitempty"`
	Tasks    []extraction.Task `json:"tasks,omitempty"`
	Mode     string            `json:"mode,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// Terminal reports whether no event can follow e.
func (e Event) Terminal() bool {
	return e.Stage == StageDone || e.Stage == StageError
}

// MarshalJSON always writes the tasks array on done events, even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Stage != StageDone {
		return json.Marshal(plain(e))
	}
	tasks := e.Tasks
	if tasks == nil {
		tasks = []extraction.Task{}
	}
	return json.Marshal(struct {
		plain
		Tasks []extraction.Task `json:"tasks"`
	}{plain(e), tasks})
}

func extractingProgress(chunks int) int {
	return min(maxExtractingProgress, progressExtractBase+chunks)
}
