package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// TEIConfig configures an OpenAI-compatible embeddings endpoint, such as
// Hugging Face text-embeddings-inference.
type TEIConfig struct {
	BaseURL string
	Model   string
	APIKey  string

	// Dimension overrides detection from the model name.
	Dimension int
}

// Validate checks required fields.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider embeds through langchaingo's OpenAI embedder.
type TEIProvider struct {
	embedder  *embeddings.EmbedderImpl
	config    TEIConfig
	dimension int
	metrics   *Metrics
}

// NewTEIProvider creates the provider. No request is made until first use.
func NewTEIProvider(cfg TEIConfig) (*TEIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token even when the server ignores it.
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = detectDimension(cfg.Model)
	}

	return &TEIProvider{
		embedder:  embedder,
		config:    cfg,
		dimension: dim,
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments embeds passages in batches.
func (t *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		t.metrics.RecordGeneration(ctx, t.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err = t.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (t *TEIProvider) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		t.metrics.RecordGeneration(ctx, t.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err = t.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the configured or detected embedding size.
func (t *TEIProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op; the provider holds no connections.
func (t *TEIProvider) Close() error {
	return nil
}
