package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/config"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	minutesmcp "github.com/fyrsmithlabs/minutes/internal/mcp"
	"github.com/fyrsmithlabs/minutes/internal/services"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpCmd serves the MCP tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the minutes tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout. The tools call the same services as
minutesd in process, using the same configuration file and environment.
Logs go to stderr.

Tools:
  ingest_notes     index meeting notes as a corpus
  search_passages  similarity search within a corpus
  extract_tasks    extract action items
  publish_issues   create or preview GitHub issues

Example client configuration:
  {"command": "minutes", "args": ["mcp"]}`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lc := logging.NewDefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	logger, err := logging.New(lc, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	reg, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("closing services", zap.Error(err))
		}
	}()

	srv, err := minutesmcp.NewServer(&minutesmcp.Config{
		Name:    "minutes",
		Version: version,
		Logger:  logger,
	}, minutesmcp.Services{
		Corpus:       reg.Corpus(),
		Orchestrator: reg.Orchestrator(),
		Publisher:    reg.Publisher(),
		Scrubber:     reg.Scrubber(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	logger.Info("serving mcp over stdio", zap.String("version", version))
	return srv.Run(ctx)
}
