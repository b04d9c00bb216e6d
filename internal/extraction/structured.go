package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/oracle"
	"github.com/fyrsmithlabs/minutes/internal/secrets"
)

// DefaultMaxTasks caps the tasks kept from one oracle reply.
const DefaultMaxTasks = 20

const systemPrompt = "You are a precise project manager. Extract concrete, actionable tasks."

const userPromptTemplate = `Read the meeting snippets and extract ONLY concrete, actionable tasks people must do.
Return ONLY a JSON object of the form {"tasks": [...]} where each task has the keys: title, body, labels (string[]), assignee_hint, due_hint, source_index, confidence (0..1).
- One action per task. Do NOT combine or summarize multiple actions into one item.
- Exclude agenda or status items unless they contain an explicit action.
- Use imperative phrasing in "title" and keep titles at most %d characters.
- If no assignee or due date is clear, use null.
- source_index is the number in brackets of the snippet the task came from.
- Default label: "%s".
- Return at most %d tasks.

Snippets:
%s`

// StructuredExtractor asks an oracle for tasks as JSON.
type StructuredExtractor struct {
	oracle   oracle.Oracle
	scrubber secrets.Scrubber
	maxTasks int
	logger   *zap.Logger
}

// StructuredOption configures a StructuredExtractor.
type StructuredOption func(*StructuredExtractor)

// WithScrubber redacts passage text before it is sent to the oracle.
func WithScrubber(s secrets.Scrubber) StructuredOption {
	return func(e *StructuredExtractor) {
		if s != nil {
			e.scrubber = s
		}
	}
}

// WithMaxTasks caps the number of tasks kept per reply.
func WithMaxTasks(n int) StructuredOption {
	return func(e *StructuredExtractor) {
		if n > 0 {
			e.maxTasks = n
		}
	}
}

// WithStructuredLogger sets the logger.
func WithStructuredLogger(l *zap.Logger) StructuredOption {
	return func(e *StructuredExtractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewStructuredExtractor creates an extractor over o. A nil oracle behaves as
// an unconfigured one.
func NewStructuredExtractor(o oracle.Oracle, opts ...StructuredOption) *StructuredExtractor {
	if o == nil {
		o = oracle.Disabled{}
	}
	e := &StructuredExtractor{
		oracle:   o,
		scrubber: secrets.NoopScrubber{},
		maxTasks: DefaultMaxTasks,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Oracle returns the backing oracle.
func (e *StructuredExtractor) Oracle() oracle.Oracle {
	return e.oracle
}

// Prompt builds the chat messages for passages. Snippets are numbered by
// their position in passages, not by local index.
func (e *StructuredExtractor) Prompt(passages []corpus.Passage) []oracle.Message {
	snippets := make([]string, len(passages))
	redacted := 0
	for i, p := range passages {
		res := e.scrubber.Scrub(p.Text)
		if res.HasFindings() {
			redacted += len(res.Findings)
		}
		snippets[i] = fmt.Sprintf("[%d] %s", i, res.Scrubbed)
	}
	if redacted > 0 {
		e.logger.Info("redacted secrets from prompt", zap.Int("findings", redacted))
	}

	user := fmt.Sprintf(userPromptTemplate, MaxTitleRunes, DefaultLabel, e.maxTasks, strings.Join(snippets, "\n---\n"))
	return []oracle.Message{
		{Role: oracle.RoleSystem, Content: systemPrompt},
		{Role: oracle.RoleUser, Content: user},
	}
}

// Extract returns the oracle's tasks for passages. Oracle failures are
// returned wrapped; an unparseable reply yields an empty list and no error.
func (e *StructuredExtractor) Extract(ctx context.Context, passages []corpus.Passage) ([]Task, error) {
	if len(passages) == 0 {
		return []Task{}, nil
	}
	raw, err := e.oracle.Complete(ctx, oracle.Request{Messages: e.Prompt(passages)})
	if err != nil {
		return []Task{}, fmt.Errorf("structured extraction: %w", err)
	}
	return e.Parse(raw), nil
}

// ExtractStream is Extract over a streamed reply. onIncrement receives the
// running count of increments; an error from it aborts the stream.
func (e *StructuredExtractor) ExtractStream(ctx context.Context, passages []corpus.Passage, onIncrement func(chunks int) error) ([]Task, error) {
	raw, err := e.StreamRaw(ctx, passages, onIncrement)
	if err != nil {
		return []Task{}, err
	}
	return e.Parse(raw), nil
}

// StreamRaw streams the oracle reply without parsing it.
func (e *StructuredExtractor) StreamRaw(ctx context.Context, passages []corpus.Passage, onIncrement func(chunks int) error) (string, error) {
	if len(passages) == 0 {
		return "", nil
	}
	chunks := 0
	raw, err := e.oracle.Stream(ctx, oracle.Request{Messages: e.Prompt(passages)}, func(string) error {
		chunks++
		if onIncrement != nil {
			return onIncrement(chunks)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("structured extraction: %w", err)
	}
	return raw, nil
}

// Parse parses a reply and applies the task cap.
func (e *StructuredExtractor) Parse(raw string) []Task {
	tasks := ParseTasks(raw)
	if len(tasks) > e.maxTasks {
		e.logger.Debug("truncating oracle tasks", zap.Int("returned", len(tasks)), zap.Int("max", e.maxTasks))
		tasks = tasks[:e.maxTasks]
	}
	return tasks
}
