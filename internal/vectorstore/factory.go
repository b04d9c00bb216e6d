package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/sanitize"
)

// Provider names accepted by NewIndex.
const (
	ProviderMemory  = "memory"
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures a backend.
type Config struct {
	Provider  string
	Dimension int
	Chromem   ChromemConfig
	Qdrant    QdrantConfig
}

// Option configures NewIndex.
type Option func(*factoryOptions)

type factoryOptions struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to the backend.
func WithLogger(logger *zap.Logger) Option {
	return func(o *factoryOptions) {
		o.logger = logger
	}
}

// NewIndex builds the configured backend. It never fails: when the requested
// backend cannot be constructed, it logs a warning and returns a MemoryIndex.
func NewIndex(ctx context.Context, cfg Config, opts ...Option) Index {
	o := &factoryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	idx, err := newBackend(ctx, provider, cfg, o.logger)
	if err == nil {
		return idx
	}

	o.logger.Warn("similarity index backend unavailable, falling back to memory",
		zap.String("requested", provider),
		zap.Error(err),
	)
	FallbacksTotal.WithLabelValues(provider).Inc()
	return NewMemoryIndex(cfg.Dimension, o.logger)
}

func newBackend(ctx context.Context, provider string, cfg Config, logger *zap.Logger) (Index, error) {
	switch provider {
	case ProviderMemory, "":
		return NewMemoryIndex(cfg.Dimension, logger), nil
	case ProviderChromem:
		cfg.Chromem.Collection = sanitize.Identifier(cfg.Chromem.Collection, "passages")
		return NewChromemIndex(cfg.Chromem, cfg.Dimension, logger)
	case ProviderQdrant:
		cfg.Qdrant.Collection = sanitize.Identifier(cfg.Qdrant.Collection, "minutes_passages")
		return NewQdrantIndex(ctx, cfg.Qdrant, cfg.Dimension, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrBackendUnavailable, provider)
	}
}
