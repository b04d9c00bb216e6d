package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/secrets"
)

// Server is an MCP server that calls the minutes services directly.
type Server struct {
	mcp          *mcp.Server
	corpusSvc    *corpus.Service
	orchestrator *extraction.Orchestrator
	publisher    *publisher.Publisher
	scrubber     secrets.Scrubber
	metrics      *Metrics
	logger       *zap.Logger
}

// Services are the components the tools call into. Publisher may be nil
// when no tracker is configured; publish_issues then fails.
type Services struct {
	Corpus       *corpus.Service
	Orchestrator *extraction.Orchestrator
	Publisher    *publisher.Publisher
	Scrubber     secrets.Scrubber
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "minutes")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "minutes",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over svc and registers its tools.
func NewServer(cfg *Config, svc Services) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if svc.Corpus == nil {
		return nil, fmt.Errorf("corpus service is required")
	}
	if svc.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if svc.Scrubber == nil {
		svc.Scrubber = secrets.NoopScrubber{}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		corpusSvc:    svc.Corpus,
		orchestrator: svc.Orchestrator,
		publisher:    svc.Publisher,
		scrubber:     svc.Scrubber,
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
