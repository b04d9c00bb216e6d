// Package embeddings turns passages and queries into vectors.
//
// Providers: FastEmbed (local ONNX models, requires cgo), TEI (any
// OpenAI-compatible /embeddings endpoint) and an offline feature-hashing
// embedder. CachedEmbedder wraps any of them with a TTL cache for queries.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces embeddings for passages and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known dimension and releasable resources.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "fastembed" (default), "tei" or "hash".
	Provider string
	Model    string
	// BaseURL is the TEI endpoint; ignored by fastembed.
	BaseURL string
	// APIKey is sent as a bearer token to TEI when set.
	APIKey string
	// CacheDir holds downloaded fastembed models.
	CacheDir string
	// Dimension sizes the hash provider and overrides TEI detection.
	Dimension int
}

// NewProvider creates the configured provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		})
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// knownDimensions lists output sizes of the supported local models.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// detectDimension guesses the embedding size from a model name.
func detectDimension(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return 384
	}
}
