package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAI uses the Chat Completions API of OpenAI or any compatible server.
type OpenAI struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Oracle = (*OpenAI)(nil)

// NewOpenAI creates the client. An API key is required unless BaseURL points
// at a compatible server.
func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAI, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai api key required", ErrNotConfigured)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

// Complete sends a chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (text string, err error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Complete")
	defer span.End()
	defer observe("openai", "complete", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	err = withRetries(ctx, o.config, o.logger, "complete", nil, func() error {
		resp, err := o.client.CreateChatCompletion(ctx, o.request(req, false))
		if err != nil {
			return classifyOpenAIError(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: no choices in response", ErrUnavailable)
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("response.length", len(text)))
	return text, nil
}

// Stream sends a streaming chat completion request.
func (o *OpenAI) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (text string, err error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Stream")
	defer span.End()
	defer observe("openai", "stream", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var (
		sb        strings.Builder
		delivered bool
	)
	err = withRetries(ctx, o.config, o.logger, "stream", func() bool { return !delivered }, func() error {
		stream, err := o.client.CreateChatCompletionStream(ctx, o.request(req, true))
		if err != nil {
			return classifyOpenAIError(ctx, err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return classifyOpenAIError(ctx, err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			delivered = true
			sb.WriteString(delta)
			if onChunk != nil {
				if err := onChunk(delta); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("response.length", sb.Len()))
	return sb.String(), nil
}

func (o *OpenAI) request(req Request, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		Stream:      stream,
	}
}

// classifyOpenAIError wraps err in ErrUnavailable, marking rate limits,
// server errors and network failures as retryable.
func classifyOpenAIError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	wrapped := fmt.Errorf("%w: %v", ErrUnavailable, err)
	if status == 0 || status == http.StatusTooManyRequests || status >= 500 {
		return &retryableError{err: wrapped}
	}
	return wrapped
}
