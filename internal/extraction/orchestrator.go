package extraction

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
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/oracle"
)

// DefaultK is the number of candidate passages retrieved when k is unset.
const DefaultK = 5

// DefaultQuery is used when the caller gives no query.
const DefaultQuery = "action items from this meeting"

var tracer = otel.Tracer("minutes.extraction")

// Retriever supplies corpus passages and ranks them against a query.
// corpus.Service implements it.
type Retriever interface {
	Passages(ctx context.Context, corpusID string) ([]corpus.Passage, error)
	Search(ctx context.Context, corpusID, q string, k int) ([]corpus.SearchResult, error)
}

// Plan is the retrieval outcome an extraction runs against.
type Plan struct {
	CorpusID string
	// Candidates are local indexes in rank order, duplicates removed.
	Candidates []int
	// Prompt holds the candidate passages in Candidates order.
	Prompt []corpus.Passage
	// Retrieved is false when Candidates came from the first-k fallback.
	Retrieved bool
}

// Result is a completed extraction.
type Result struct {
	Tasks      []Task `json:"tasks"`
	Mode       string `json:"mode"`
	Candidates []int  `json:"candidates"`
}

// Orchestrator runs retrieval, structured extraction and the heuristic
// fallback for one corpus at a time.
type Orchestrator struct {
	retriever  Retriever
	structured *StructuredExtractor
	heuristic  HeuristicExtractor
	logger     *zap.Logger
}

// NewOrchestrator wires the extraction chain. A nil structured extractor
// disables the oracle stage.
func NewOrchestrator(retriever Retriever, structured *StructuredExtractor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if structured == nil {
		structured = NewStructuredExtractor(nil)
	}
	return &Orchestrator{
		retriever:  retriever,
		structured: structured,
		heuristic:  NewHeuristicExtractor(),
		logger:     logger,
	}
}

// Structured returns the structured extractor.
func (o *Orchestrator) Structured() *StructuredExtractor {
	return o.structured
}

// Extract runs the full chain.
func (o *Orchestrator) Extract(ctx context.Context, corpusID, query string, k int) (Result, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Extract")
	defer span.End()

	plan, err := o.Plan(ctx, corpusID, query, k)
	if err != nil {
		return Result{}, err
	}

	structured, err := o.structured.Extract(ctx, plan.Prompt)
	if err != nil {
		o.logStructuredFailure(ctx, err)
	}

	res := o.Finish(ctx, plan, structured)
	span.SetAttributes(
		attribute.String("extraction.mode", res.Mode),
		attribute.Int("extraction.tasks", len(res.Tasks)),
	)
	return res, nil
}

// Plan validates the request and resolves the candidate passages. Retrieval
// failures fall back to the first k passages; only validation and passage
// store errors are returned.
func (o *Orchestrator) Plan(ctx context.Context, corpusID, query string, k int) (Plan, error) {
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return Plan{}, fmt.Errorf("%w: corpus_id is required", ErrValidation)
	}
	if k == 0 {
		k = DefaultK
	}
	if k < 1 {
		return Plan{}, fmt.Errorf("%w: k must be positive, got %d", ErrValidation, k)
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}

	ctx = logging.WithCorpusID(ctx, corpusID)
	log := logging.For(ctx, o.logger)

	passages, err := o.retriever.Passages(ctx, corpusID)
	if err != nil {
		return Plan{}, fmt.Errorf("loading passages: %w", err)
	}
	plan := Plan{CorpusID: corpusID, Candidates: []int{}, Prompt: []corpus.Passage{}}
	if len(passages) == 0 {
		return plan, nil
	}

	byIndex := make(map[int]corpus.Passage, len(passages))
	for _, p := range passages {
		byIndex[p.LocalIndex] = p
	}

	results, err := o.retriever.Search(ctx, corpusID, query, k)
	if err != nil {
		log.Warn("retrieval failed, using leading passages", zap.Error(err))
	}
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		p, ok := byIndex[r.LocalIndex]
		if !ok || seen[r.LocalIndex] {
			continue
		}
		seen[r.LocalIndex] = true
		plan.Candidates = append(plan.Candidates, r.LocalIndex)
		plan.Prompt = append(plan.Prompt, p)
	}

	if len(plan.Candidates) > 0 {
		plan.Retrieved = true
		return plan, nil
	}

	RetrievalFallbacksTotal.Inc()
	sorted := append([]corpus.Passage(nil), passages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LocalIndex < sorted[j].LocalIndex })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	for _, p := range sorted {
		plan.Candidates = append(plan.Candidates, p.LocalIndex)
		plan.Prompt = append(plan.Prompt, p)
	}
	return plan, nil
}

// Finish turns structured output into a Result. Non-empty output is
// normalized; empty output falls back to the heuristic extractor.
func (o *Orchestrator) Finish(ctx context.Context, plan Plan, structured []Task) Result {
	res := Result{Candidates: plan.Candidates}
	if len(structured) > 0 {
		res.Mode = ModeStructured
		res.Tasks = make([]Task, len(structured))
		for i, t := range structured {
			t.SourceIndex = NormalizeSourceIndex(t.SourceIndex, plan.Candidates)
			res.Tasks[i] = t
		}
	} else {
		res.Mode = ModeHeuristic
		res.Tasks = o.Heuristic(plan)
	}

	RunsTotal.WithLabelValues(res.Mode).Inc()
	logging.For(logging.WithCorpusID(ctx, plan.CorpusID), o.logger).Info("extraction finished",
		zap.String("mode", res.Mode),
		zap.Int("tasks", len(res.Tasks)),
		zap.Int("candidates", len(plan.Candidates)),
		zap.Bool("retrieved", plan.Retrieved),
	)
	return res
}

// Heuristic runs the pattern extractor over the plan's passages.
func (o *Orchestrator) Heuristic(plan Plan) []Task {
	return o.heuristic.Extract(plan.Prompt)
}

func (o *Orchestrator) logStructuredFailure(ctx context.Context, err error) {
	log := logging.For(ctx, o.logger)
	if errors.Is(err, oracle.ErrNotConfigured) {
		log.Debug("oracle not configured, using heuristics")
		return
	}
	log.Warn("structured extraction failed, using heuristics", zap.Error(err))
}

// NormalizeSourceIndex maps an oracle-reported source index onto a candidate
// local index. A value already in candidates is kept; a value in
// [0, len(candidates)) is read as a prompt position; anything else resolves
// to the first candidate, or 0 when there are none. The mapping is idempotent.
func NormalizeSourceIndex(v int, candidates []int) int {
	for _, c := range candidates {
		if c == v {
			return v
		}
	}
	if v >= 0 && v < len(candidates) {
		return candidates[v]
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return 0
}
