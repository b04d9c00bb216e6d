// Package oracle wraps text-generation backends behind a single interface.
//
// The extraction pipeline treats every oracle as best effort: an unconfigured
// or failing oracle degrades extraction to heuristics rather than failing it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured indicates no provider or model was configured.
	ErrNotConfigured = errors.New("oracle not configured")

	// ErrUnavailable indicates the backend rejected or failed the request.
	ErrUnavailable = errors.New("oracle unavailable")
)

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. Zero MaxTokens and Temperature use
// the oracle's configured values.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// ChunkFunc receives each streamed increment. Returning an error aborts the
// stream and the error is returned from Stream unchanged.
type ChunkFunc func(delta string) error

// Oracle generates text from chat messages.
type Oracle interface {
	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream delivers the response incrementally and returns the full text.
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)

	// Name identifies the backend ("ollama", "openai", "disabled").
	Name() string
}

// Config selects and configures an oracle.
type Config struct {
	// Provider is "ollama", "openai", or "" / "none" to disable.
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// Timeout bounds one request including streaming. Default: 3m.
	Timeout time.Duration

	// MaxTokens and Temperature are request defaults.
	MaxTokens   int
	Temperature float64

	// RequestsPerMinute throttles outbound calls. Default: 30.
	RequestsPerMinute int

	// MaxRetries bounds retries of transient failures. Default: 2.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 1s.
	RetryBackoff time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// New builds the configured oracle. A missing provider or model yields a
// disabled oracle, not an error.
func New(cfg Config, logger *zap.Logger) (Oracle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == "none" || cfg.Model == "" {
		logger.Info("oracle disabled, extraction will use heuristics", zap.String("provider", provider))
		return Disabled{}, nil
	}

	switch provider {
	case "ollama":
		return NewOllama(cfg, logger), nil
	case "openai":
		o, err := NewOpenAI(cfg, logger)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

// Disabled is the oracle used when none is configured.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Stream(context.Context, Request, ChunkFunc) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Name() string { return "disabled" }

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// limiter converts a per-minute budget into a token bucket.
func newLimiter(perMinute int) *rate.Limiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
}

// withRetries runs op with exponential backoff while it fails transiently.
// retryAllowed is consulted before each retry; streaming callers use it to
// stop once output has been delivered.
func withRetries(ctx context.Context, cfg Config, logger *zap.Logger, op string, retryAllowed func() bool, fn func() error) error {
	backoff := cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil || (retryAllowed != nil && !retryAllowed()) {
			return err
		}
		logger.Debug("retrying oracle request", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
