// Minutesd serves the minutes HTTP API.
//
// It ingests meeting notes into per-document corpora, extracts action items
// through the retrieval and extraction chain, and publishes them as
// deduplicated GitHub issues.
//
// Configuration is loaded from ~/.config/minutes/config.yaml (or the file
// named by MINUTES_CONFIG) and MINUTES_* environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	minutesd
//
//	# Configure via environment
//	MINUTES_SERVER_HTTP_PORT=9000 MINUTES_ORACLE_PROVIDER=ollama MINUTES_ORACLE_MODEL=llama3.1 minutesd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/config"
	httpserver "github.com/fyrsmithlabs/minutes/internal/http"
	"github.com/fyrsmithlabs/minutes/internal/ingest"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/services"
	"github.com/fyrsmithlabs/minutes/internal/telemetry"
	"github.com/fyrsmithlabs/minutes/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  minutesd           Start the minutes daemon\n")
			fmt.Fprintf(os.Stderr, "  minutesd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("minutesd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is canceled.
//
//  1. Initializes telemetry and the logger
//  2. Wires services (embedder, index, store, oracle, tracker, sink)
//  3. Starts the drop-folder watcher when ingest.watch_dir is set
//  4. Serves HTTP until ctx is canceled, then shuts down gracefully
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Observability.EnableTelemetry,
		Endpoint:       cfg.Observability.Endpoint,
		Protocol:       cfg.Observability.Protocol,
		Insecure:       cfg.Observability.Insecure,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		SampleRate:     cfg.Observability.SampleRate,
		ExportInterval: 15 * time.Second,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting minutesd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("telemetry", tel.Enabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	reg, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("closing services", zap.Error(err))
		}
	}()

	watchDone := make(chan struct{})
	if cfg.Ingest.WatchDir != "" {
		dir, err := config.ExpandPath(cfg.Ingest.WatchDir)
		if err != nil {
			return fmt.Errorf("invalid ingest.watch_dir: %w", err)
		}
		w, err := ingest.NewWatcher(dir, reg.Corpus(),
			ingest.WithDebounce(cfg.Ingest.Debounce),
			ingest.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		go func() {
			defer close(watchDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	srv, err := httpserver.NewServer(httpserver.Services{
		Corpus:       reg.Corpus(),
		Orchestrator: reg.Orchestrator(),
		Publisher:    reg.Publisher(),
		Sink:         reg.Sink(),
		IndexBackend: vectorstore.Backend(reg.Index()),
	}, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-watchDone
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// initLogger builds the process logger. Records are mirrored to the global
// OpenTelemetry log provider when logging.otel is set.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	lc.OTEL = cfg.Logging.OTEL
	lc.Fields["version"] = version
	return logging.New(lc, global.GetLoggerProvider())
}
