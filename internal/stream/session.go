package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/logging"
)

// eventBuffer bounds how far a session runs ahead of its consumer.
const eventBuffer = 16

// Request parameters for one session.
type Request struct {
	CorpusID string `json:"corpus_id"`
	Query    string `json:"query"`
	K        int    `json:"k"`
}

// Option configures a Session.
type Option func(*Session)

// WithSink mirrors every event to sink.
func WithSink(sink EventSink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session is one streaming extraction. It is single use: Run may be called
// once.
type Session struct {
	id     string
	orch   *extraction.Orchestrator
	req    Request
	sink   EventSink
	logger *zap.Logger

	once sync.Once
}

// NewSession prepares a session over orch.
func NewSession(orch *extraction.Orchestrator, req Request, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		orch:   orch,
		req:    req,
		sink:   NopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run starts the session and returns its events. The channel is closed after
// the terminal event, or without one when ctx is canceled. A second call
// returns a closed channel.
func (s *Session) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, eventBuffer)
	started := false
	s.once.Do(func() {
		started = true
		go s.run(ctx, out)
	})
	if !started {
		close(out)
	}
	return out
}

func (s *Session) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	ctx = logging.WithSessionID(ctx, s.id)
	log := logging.For(ctx, s.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("stream session panicked", zap.Any("panic", r))
			SessionsTotal.WithLabelValues(outcomeError).Inc()
			s.emit(ctx, out, Event{Stage: StageError, Message: fmt.Sprint(r)})
		}
	}()

	outcome := s.drive(ctx, out, log)
	if ctx.Err() != nil && outcome != outcomeError {
		outcome = outcomeCanceled
	}
	SessionsTotal.WithLabelValues(outcome).Inc()
	log.Info("stream session finished", zap.String("outcome", outcome))
}

// drive walks the stage machine and returns the session outcome.
func (s *Session) drive(ctx context.Context, out chan<- Event, log *zap.Logger) string {
	if !s.emit(ctx, out, Event{Stage: StageRetrieving, Progress: progressRetrieving}) {
		return outcomeCanceled
	}

	plan, err := s.orch.Plan(ctx, s.req.CorpusID, s.req.Query, s.req.K)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		log.Warn("stream retrieval failed", zap.Error(err))
		s.emit(ctx, out, Event{Stage: StageError, Message: err.Error()})
		return outcomeError
	}
	if ctx.Err() != nil {
		return outcomeCanceled
	}

	structured := s.orch.Structured()
	if structured.Oracle().Name() == "disabled" || len(plan.Prompt) == 0 {
		return s.fallback(ctx, out, plan, true)
	}

	raw, err := structured.StreamRaw(ctx, plan.Prompt, func(chunks int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.emit(ctx, out, Event{Stage: StageExtracting, Progress: extractingProgress(chunks), Chunks: chunks}) {
			return context.Canceled
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return outcomeCanceled
		}
		log.Warn("structured stream failed, using heuristics", zap.Error(err))
		return s.fallback(ctx, out, plan, true)
	}

	if !s.emit(ctx, out, Event{Stage: StageParsing, Progress: progressParsing}) {
		return outcomeCanceled
	}
	tasks := structured.Parse(raw)
	if len(tasks) == 0 {
		// Parsing already reported 97; announcing rules_fallback (96) here
		// would move progress backwards.
		log.Debug("oracle reply had no usable tasks")
		return s.fallback(ctx, out, plan, false)
	}

	res := s.orch.Finish(ctx, plan, tasks)
	if !s.emit(ctx, out, Event{Stage: StageDone, Progress: progressDone, Tasks: res.Tasks, Mode: res.Mode}) {
		return outcomeCanceled
	}
	return outcomeStructured
}

func (s *Session) fallback(ctx context.Context, out chan<- Event, plan extraction.Plan, announce bool) string {
	if announce && !s.emit(ctx, out, Event{Stage: StageRulesFallback, Progress: progressRulesFallback}) {
		return outcomeCanceled
	}
	res := s.orch.Finish(ctx, plan, nil)
	if !s.emit(ctx, out, Event{Stage: StageDone, Progress: progressDone, Tasks: res.Tasks, Mode: res.Mode}) {
		return outcomeCanceled
	}
	return outcomeHeuristic
}

// emit delivers ev unless ctx is done. Sink failures are logged only.
func (s *Session) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- ev:
	case <-ctx.Done():
		return false
	}
	if err := s.sink.Publish(ctx, s.id, ev); err != nil {
		logging.For(ctx, s.logger).Warn("mirroring stream event failed",
			zap.String("stage", ev.Stage), zap.Error(err))
	}
	return true
}
