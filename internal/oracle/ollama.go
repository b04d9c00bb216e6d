package oracle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultOllamaURL is the local Ollama daemon address.
const DefaultOllamaURL = "http://127.0.0.1:11434"

var tracer = otel.Tracer("minutes.oracle")

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Options  ollamaOptions `json:"options"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaChatResponse is both the non-streaming body and one NDJSON stream line.
type ollamaChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Ollama talks to a local Ollama daemon through /api/chat.
type Ollama struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ Oracle = (*Ollama)(nil)

// NewOllama creates the client. No request is made until first use.
func NewOllama(cfg Config, logger *zap.Logger) *Ollama {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}

	return &Ollama{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Timeout is applied per request through the context so streams are
		// not cut off by a client-wide deadline.
		httpClient: &http.Client{},
		limiter:    newLimiter(cfg.RequestsPerMinute),
		logger:     logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Complete sends a non-streaming chat request.
func (o *Ollama) Complete(ctx context.Context, req Request) (text string, err error) {
	ctx, span := tracer.Start(ctx, "Ollama.Complete")
	defer span.End()
	defer observe("ollama", "complete", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	err = withRetries(ctx, o.config, o.logger, "complete", nil, func() error {
		resp, err := o.post(ctx, o.payload(req, false))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
		if out.Error != "" {
			return fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
		}
		text = out.Message.Content
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

// Stream sends a streaming chat request and reads NDJSON increments.
// Retries stop once any increment has been delivered.
func (o *Ollama) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (text string, err error) {
	ctx, span := tracer.Start(ctx, "Ollama.Stream")
	defer span.End()
	defer observe("ollama", "stream", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var (
		sb        strings.Builder
		delivered bool
		chunks    int
	)
	err = withRetries(ctx, o.config, o.logger, "stream", func() bool { return !delivered }, func() error {
		resp, err := o.post(ctx, o.payload(req, true))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				return fmt.Errorf("%w: decoding stream line: %v", ErrUnavailable, err)
			}
			if part.Error != "" {
				return fmt.Errorf("%w: %s", ErrUnavailable, part.Error)
			}
			if part.Message.Content != "" {
				delivered = true
				chunks++
				sb.WriteString(part.Message.Content)
				if onChunk != nil {
					if err := onChunk(part.Message.Content); err != nil {
						return err
					}
				}
			}
			if part.Done {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &retryableError{err: fmt.Errorf("%w: reading stream: %v", ErrUnavailable, err)}
		}
		// EOF without done: treat what arrived as the full response.
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("chunks", chunks), attribute.Int("response.length", sb.Len()))
	return sb.String(), nil
}

func (o *Ollama) payload(req Request, stream bool) ollamaChatRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}
	return ollamaChatRequest{
		Model:    o.config.Model,
		Messages: req.Messages,
		Options:  ollamaOptions{Temperature: temperature, NumPredict: maxTokens},
		Stream:   stream,
		Format:   "json",
	}
}

// post sends the request and classifies HTTP failures. The caller closes the body.
func (o *Ollama) post(ctx context.Context, payload ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &retryableError{err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr ollamaChatResponse
	if json.Unmarshal(msg, &apiErr) == nil && apiErr.Error != "" {
		msg = []byte(apiErr.Error)
	}
	err = fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: err}
	}
	return nil, err
}
