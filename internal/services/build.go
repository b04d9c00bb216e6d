package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/config"
	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/embeddings"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/oracle"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/secrets"
	"github.com/fyrsmithlabs/minutes/internal/stream"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
	"github.com/fyrsmithlabs/minutes/internal/vectorstore"
)

// Build wires every component from cfg. Optional collaborators degrade
// instead of failing: an unreachable index backend falls back to memory, a
// missing tracker token leaves Publisher nil and an unreachable NATS server
// leaves progress events unmirrored.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []io.Closer
	fail := func(err error) (Registry, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  expand(cfg.Embeddings.CacheDir),
		Dimension: cfg.VectorStore.Dimension,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create embedder: %w", err))
	}
	closers = append(closers, provider)

	var embedder embeddings.Embedder = provider
	if cfg.Embeddings.QueryCacheTTL > 0 {
		embedder = embeddings.NewCachedEmbedder(provider, cfg.Embeddings.QueryCacheTTL, logger)
	}

	dim := provider.Dimension()
	if dim <= 0 {
		dim = cfg.VectorStore.Dimension
	}
	index := vectorstore.NewIndex(ctx, vectorstore.Config{
		Provider:  cfg.VectorStore.Provider,
		Dimension: dim,
		Chromem: vectorstore.ChromemConfig{
			SnapshotPath: expand(cfg.VectorStore.Chromem.SnapshotPath),
			Compress:     cfg.VectorStore.Chromem.Compress,
			Collection:   cfg.VectorStore.Chromem.Collection,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			Collection: cfg.VectorStore.Qdrant.Collection,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			APIKey:     cfg.VectorStore.Qdrant.APIKey.Value(),
		},
	}, vectorstore.WithLogger(logger))
	if c, ok := index.(io.Closer); ok {
		closers = append(closers, c)
	}

	store, err := corpus.NewSQLiteStore(expand(cfg.Storage.SQLitePath))
	if err != nil {
		return fail(fmt.Errorf("failed to open passage store: %w", err))
	}
	closers = append(closers, store)

	corpusSvc := corpus.NewService(store, index, embedder,
		corpus.WithMaxWords(cfg.Ingest.MaxWords),
		corpus.WithLogger(logger),
	)

	scrubber, err := secrets.New(cfg.Secrets.Scrubber)
	if err != nil {
		return fail(fmt.Errorf("failed to create scrubber: %w", err))
	}

	orc, err := oracle.New(oracle.Config{
		Provider:          cfg.Oracle.Provider,
		Model:             cfg.Oracle.Model,
		BaseURL:           cfg.Oracle.BaseURL,
		APIKey:            cfg.Oracle.APIKey.Value(),
		Timeout:           cfg.Oracle.Timeout,
		MaxTokens:         cfg.Oracle.MaxTokens,
		Temperature:       cfg.Oracle.Temperature,
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create oracle: %w", err))
	}

	structured := extraction.NewStructuredExtractor(orc,
		extraction.WithScrubber(scrubber),
		extraction.WithMaxTasks(cfg.Oracle.MaxTasks),
		extraction.WithStructuredLogger(logger),
	)
	orchestrator := extraction.NewOrchestrator(corpusSvc, structured, logger)

	var pub *publisher.Publisher
	gh, err := tracker.NewGitHubTracker(ctx, cfg.Tracker, logger)
	switch {
	case errors.Is(err, tracker.ErrNotConfigured):
		logger.Warn("tracker token not set, issue publishing disabled")
	case err != nil:
		return fail(fmt.Errorf("failed to create tracker: %w", err))
	default:
		pub = publisher.New(gh, publisher.WithPassages(corpusSvc), publisher.WithLogger(logger))
	}

	var sink stream.EventSink = stream.NopSink{}
	if cfg.NATS.URL != "" {
		ns, err := stream.ConnectNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("NATS unavailable, progress events will not be mirrored",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			sink = ns
			closers = append(closers, ns)
		}
	}

	logger.Info("services initialized",
		zap.String("index", vectorstore.Backend(index)),
		zap.Int("dimension", dim),
		zap.String("oracle", orc.Name()),
		zap.Bool("scrubber", scrubber.IsEnabled()),
		zap.Bool("publisher", pub != nil),
		zap.Bool("nats", cfg.NATS.URL != ""),
	)

	return NewRegistry(Options{
		Corpus:       corpusSvc,
		Orchestrator: orchestrator,
		Publisher:    pub,
		Scrubber:     scrubber,
		Index:        index,
		Sink:         sink,
		Closers:      reverse(closers),
	}), nil
}

// expand resolves a leading ~; unresolvable paths are returned unchanged.
func expand(path string) string {
	p, err := config.ExpandPath(path)
	if err != nil {
		return path
	}
	return p
}

func reverse(cs []io.Closer) []io.Closer {
	out := make([]io.Closer, 0, len(cs))
	for i := len(cs) - 1; i >= 0; i-- {
		out = append(out, cs[i])
	}
	return out
}
