package services

import (
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/secrets"
	"github.com/fyrsmithlabs/minutes/internal/stream"
	"github.com/fyrsmithlabs/minutes/internal/vectorstore"
)

// Registry provides access to the wired services.
type Registry interface {
	Corpus() *corpus.Service
	Orchestrator() *extraction.Orchestrator
	// Publisher is nil when no tracker token is configured.
	Publisher() *publisher.Publisher
	Scrubber() secrets.Scrubber
	Index() vectorstore.Index
	Sink() stream.EventSink
	// Close releases the sink, index, store and embedder.
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Corpus       *corpus.Service
	Orchestrator *extraction.Orchestrator
	Publisher    *publisher.Publisher
	Scrubber     secrets.Scrubber
	Index        vectorstore.Index
	Sink         stream.EventSink

	// Closers are released in order by Close.
	Closers []io.Closer
}

type registry struct {
	corpus       *corpus.Service
	orchestrator *extraction.Orchestrator
	publisher    *publisher.Publisher
	scrubber     secrets.Scrubber
	index        vectorstore.Index
	sink         stream.EventSink
	closers      []io.Closer
}

// NewRegistry creates a registry over opts. A nil Sink becomes a NopSink.
func NewRegistry(opts Options) Registry {
	sink := opts.Sink
	if sink == nil {
		sink = stream.NopSink{}
	}
	return &registry{
		corpus:       opts.Corpus,
		orchestrator: opts.Orchestrator,
		publisher:    opts.Publisher,
		scrubber:     opts.Scrubber,
		index:        opts.Index,
		sink:         sink,
		closers:      opts.Closers,
	}
}

func (r *registry) Corpus() *corpus.Service               { return r.corpus }
func (r *registry) Orchestrator() *extraction.Orchestrator { return r.orchestrator }
func (r *registry) Publisher() *publisher.Publisher        { return r.publisher }
func (r *registry) Scrubber() secrets.Scrubber             { return r.scrubber }
func (r *registry) Index() vectorstore.Index               { return r.index }
func (r *registry) Sink() stream.EventSink                 { return r.sink }

func (r *registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
