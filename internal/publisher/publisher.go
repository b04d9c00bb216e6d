// Package publisher turns extracted tasks into tracker issues. Every task is
// fingerprinted, and a task whose fingerprint is already on an open issue is
// skipped, so publishing the same batch twice creates each issue once.
//
// Deduplication is best effort: two batches racing on the same fingerprint
// can both create an issue.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

// Item statuses.
const (
	StatusCreated           = "created"
	StatusWouldCreate       = "would-create"
	StatusSkippedEmptyTitle = "skipped-empty-title"
	StatusSkippedDuplicate  = "skipped-duplicate"
	StatusFailed            = "failed"
)

// ErrValidation marks a batch rejected before any tracker call.
var ErrValidation = errors.New("validation failed")

// ValidationError describes a rejected batch field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var tracer = otel.Tracer("minutes.publisher")

// PassageSource loads corpus passages for source excerpts.
type PassageSource interface {
	Passages(ctx context.Context, corpusID string) ([]corpus.Passage, error)
}

// Batch is one publish request.
type Batch struct {
	Target      string            `json:"repo"`
	CorpusID    string            `json:"corpus_id,omitempty"`
	Tasks       []extraction.Task `json:"tasks"`
	AssigneeMap map[string]string `json:"assignee_map,omitempty"`
}

// Item is the outcome for one task, in batch order.
type Item struct {
	Title           string `json:"title"`
	Status          string `json:"status"`
	Fingerprint     string `json:"fingerprint,omitempty"`
	Number          int    `json:"number,omitempty"`
	URL             string `json:"url,omitempty"`
	Assignee        string `json:"assignee,omitempty"`
	AssigneeDropped bool   `json:"assignee_dropped,omitempty"`
	Body            string `json:"body,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Report collects item outcomes.
type Report struct {
	Target string `json:"repo"`
	Items  []Item `json:"items"`
}

// Count returns the number of items with status.
func (r Report) Count(status string) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPassages enables source excerpts.
func WithPassages(src PassageSource) Option {
	return func(p *Publisher) {
		p.passages = src
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// Publisher creates deduplicated issues.
type Publisher struct {
	tracker  tracker.IssueTracker
	passages PassageSource
	logger   *zap.Logger
}

// New creates a Publisher over t.
func New(t tracker.IssueTracker, opts ...Option) *Publisher {
	p := &Publisher{tracker: t, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type prepared struct {
	target  tracker.Target
	sources map[int]corpus.Passage
}

// Publish creates an issue for every task that has a title and no open
// duplicate. Item failures are recorded in the report. A tracker transport
// failure stops the batch and is returned with the partial report.
func (p *Publisher) Publish(ctx context.Context, b Batch) (Report, error) {
	ctx, span := tracer.Start(ctx, "Publisher.Publish")
	defer span.End()

	prep, err := p.prepare(ctx, b)
	if err != nil {
		return Report{}, err
	}
	ctx = logging.WithCorpusID(ctx, b.CorpusID)
	log := logging.For(ctx, p.logger).With(zap.String("target", prep.target.String()))

	if labels := labelUnion(b.Tasks); len(labels) > 0 {
		if err := p.tracker.EnsureLabels(ctx, prep.target, labels); err != nil {
			if tracker.IsTransport(err) {
				BatchErrorsTotal.Inc()
				return Report{Target: prep.target.String(), Items: []Item{}}, err
			}
			log.Warn("ensuring labels failed", zap.Error(err))
		}
	}

	report := Report{Target: prep.target.String(), Items: make([]Item, 0, len(b.Tasks))}
	for _, task := range b.Tasks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item, err := p.publishOne(ctx, prep, b, task)
		if err != nil {
			BatchErrorsTotal.Inc()
			log.Warn("publish stopped by tracker transport failure",
				zap.Int("published", len(report.Items)), zap.Error(err))
			return report, err
		}
		ItemsTotal.WithLabelValues(item.Status).Inc()
		report.Items = append(report.Items, item)
	}

	span.SetAttributes(
		attribute.Int("publisher.created", report.Count(StatusCreated)),
		attribute.Int("publisher.duplicates", report.Count(StatusSkippedDuplicate)),
	)
	log.Info("publish finished",
		zap.Int("tasks", len(b.Tasks)),
		zap.Int("created", report.Count(StatusCreated)),
		zap.Int("duplicates", report.Count(StatusSkippedDuplicate)),
		zap.Int("failed", report.Count(StatusFailed)),
	)
	return report, nil
}

// publishOne returns an error only for transport failures.
func (p *Publisher) publishOne(ctx context.Context, prep prepared, b Batch, task extraction.Task) (Item, error) {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		return Item{Status: StatusSkippedEmptyTitle}, nil
	}

	fp := Fingerprint(title, task.Body)
	item := Item{Title: title, Fingerprint: fp}

	existing, err := p.tracker.FindByFingerprint(ctx, prep.target, fp)
	if err != nil {
		if tracker.IsTransport(err) {
			return item, err
		}
		item.Status, item.Message = StatusFailed, err.Error()
		return item, nil
	}
	if existing != nil {
		item.Status = StatusSkippedDuplicate
		item.Number, item.URL = existing.Number, existing.URL
		return item, nil
	}

	issue := tracker.NewIssue{
		Title:    title,
		Body:     RenderBody(task.Body, b.CorpusID, fp, prep.source(task.SourceIndex)),
		Labels:   task.EffectiveLabels(),
		Assignee: ResolveAssignee(b.AssigneeMap, task.AssigneeHint),
	}
	created, err := p.tracker.CreateIssue(ctx, prep.target, issue)
	if err != nil && issue.Assignee != "" && errors.Is(err, tracker.ErrInvalidAssignee) {
		logging.For(ctx, p.logger).Info("assignee rejected, retrying unassigned",
			zap.String("assignee", issue.Assignee), zap.String("fingerprint", fp))
		item.AssigneeDropped = true
		issue.Assignee = ""
		created, err = p.tracker.CreateIssue(ctx, prep.target, issue)
	}
	if err != nil {
		if tracker.IsTransport(err) {
			return item, err
		}
		item.Status, item.Message = StatusFailed, err.Error()
		return item, nil
	}

	item.Status = StatusCreated
	item.Number, item.URL = created.Number, created.URL
	item.Assignee = issue.Assignee
	return item, nil
}

// Preview reports what Publish would do without creating labels or issues.
// Duplicate lookups still run.
func (p *Publisher) Preview(ctx context.Context, b Batch) (Report, error) {
	prep, err := p.prepare(ctx, b)
	if err != nil {
		return Report{}, err
	}

	report := Report{Target: prep.target.String(), Items: make([]Item, 0, len(b.Tasks))}
	for _, task := range b.Tasks {
		title := strings.TrimSpace(task.Title)
		if title == "" {
			report.Items = append(report.Items, Item{Status: StatusSkippedEmptyTitle})
			continue
		}
		fp := Fingerprint(title, task.Body)
		item := Item{
			Title:       title,
			Fingerprint: fp,
			Assignee:    ResolveAssignee(b.AssigneeMap, task.AssigneeHint),
			Body:        RenderBody(task.Body, b.CorpusID, fp, prep.source(task.SourceIndex)),
		}
		existing, err := p.tracker.FindByFingerprint(ctx, prep.target, fp)
		switch {
		case err != nil && tracker.IsTransport(err):
			return report, err
		case err != nil:
			item.Status, item.Message = StatusFailed, err.Error()
		case existing != nil:
			item.Status = StatusSkippedDuplicate
			item.Number, item.URL = existing.Number, existing.URL
		default:
			item.Status = StatusWouldCreate
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

func (p *Publisher) prepare(ctx context.Context, b Batch) (prepared, error) {
	if p.tracker == nil {
		return prepared{}, tracker.ErrNotConfigured
	}
	target, err := tracker.ParseTarget(b.Target)
	if err != nil {
		return prepared{}, &ValidationError{Field: "repo", Reason: err.Error()}
	}
	if b.Tasks == nil {
		return prepared{}, &ValidationError{Field: "tasks", Reason: "required"}
	}

	prep := prepared{target: target}
	if b.CorpusID == "" || p.passages == nil {
		return prep, nil
	}
	passages, err := p.passages.Passages(ctx, b.CorpusID)
	if err != nil {
		logging.For(ctx, p.logger).Warn("loading source passages failed, publishing without excerpts",
			zap.String("corpus_id", b.CorpusID), zap.Error(err))
		return prep, nil
	}
	prep.sources = make(map[int]corpus.Passage, len(passages))
	for _, ps := range passages {
		prep.sources[ps.LocalIndex] = ps
	}
	return prep, nil
}

func (pr prepared) source(i int) *corpus.Passage {
	ps, ok := pr.sources[i]
	if !ok {
		return nil
	}
	return &ps
}

// ResolveAssignee maps a hint to a tracker login, trying an exact key before
// a case-insensitive one. Unknown hints resolve to "".
func ResolveAssignee(m map[string]string, hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" || len(m) == 0 {
		return ""
	}
	if login, ok := m[hint]; ok {
		return login
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, hint) {
			return m[k]
		}
	}
	return ""
}

// labelUnion collects the effective labels of tasks with titles, in first
// seen order.
func labelUnion(tasks []extraction.Task) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tasks {
		if strings.TrimSpace(t.Title) == "" {
			continue
		}
		for _, l := range t.EffectiveLabels() {
			l = strings.TrimSpace(l)
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}
