// Package config provides configuration loading for minutes.
//
// Configuration is read from an optional YAML file and overridden by
// MINUTES_* environment variables. Each subsystem owns its runtime config
// type; this package only holds the file/env representation and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the complete minutes configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Oracle        OracleConfig        `koanf:"oracle"`
	Tracker       TrackerConfig       `koanf:"tracker"`
	Storage       StorageConfig       `koanf:"storage"`
	NATS          NATSConfig          `koanf:"nats"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Ingest        IngestConfig        `koanf:"ingest"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	BodyLimit       string        `koanf:"body_limit"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
	OTEL   bool   `koanf:"otel"`
}

// VectorStoreConfig selects and configures the similarity index backend.
type VectorStoreConfig struct {
	// Provider is one of "memory", "chromem", "qdrant".
	Provider  string        `koanf:"provider"`
	Dimension int           `koanf:"dimension"`
	Chromem   ChromemConfig `koanf:"chromem"`
	Qdrant    QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	SnapshotPath string `koanf:"snapshot_path"`
	Compress     bool   `koanf:"compress"`
	Collection   string `koanf:"collection"`
}

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX), "tei" (OpenAI-compatible HTTP)
	// or "hash" (deterministic, offline).
	Provider      string        `koanf:"provider"`
	Model         string        `koanf:"model"`
	BaseURL       string        `koanf:"base_url"`
	APIKey        Secret        `koanf:"api_key"`
	CacheDir      string        `koanf:"cache_dir"`
	QueryCacheTTL time.Duration `koanf:"query_cache_ttl"`
}

// OracleConfig configures the structured extraction oracle.
// An empty Provider disables structured extraction.
type OracleConfig struct {
	Provider          string        `koanf:"provider"` // "", ollama, openai
	Model             string        `koanf:"model"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            Secret        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxTasks          int           `koanf:"max_tasks"`
	MaxTokens         int           `koanf:"max_tokens"`
	Temperature       float64       `koanf:"temperature"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
}

// TrackerConfig configures the GitHub issue tracker.
type TrackerConfig struct {
	Token      Secret        `koanf:"token"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	LabelColor string        `koanf:"label_color"`
}

// StorageConfig configures passage persistence.
type StorageConfig struct {
	DataDir    string `koanf:"data_dir"`
	SQLitePath string `koanf:"sqlite_path"`
}

// NATSConfig configures progress event mirroring.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig configures scrubbing of passages before they reach an oracle.
type SecretsConfig struct {
	Scrubber string `koanf:"scrubber"` // gitleaks | none
}

// IngestConfig configures document segmentation and the drop-folder watcher.
type IngestConfig struct {
	MaxWords int           `koanf:"max_words"`
	WatchDir string        `koanf:"watch_dir"`
	Debounce time.Duration `koanf:"debounce"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{
			"http://127.0.0.1:8081", "http://localhost:8081",
			"http://localhost:5173", "http://127.0.0.1:5173",
		}
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "10M"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "minutes"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "~/.local/share/minutes"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "minutes.db")
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Dimension == 0 {
		cfg.VectorStore.Dimension = 384 // all-MiniLM-L6-v2
	}
	if cfg.VectorStore.Chromem.SnapshotPath == "" {
		cfg.VectorStore.Chromem.SnapshotPath = filepath.Join(cfg.Storage.DataDir, "index.gob")
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "passages"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "minutes_passages"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = filepath.Join(cfg.Storage.DataDir, "models")
	}
	if cfg.Embeddings.QueryCacheTTL == 0 {
		cfg.Embeddings.QueryCacheTTL = 10 * time.Minute
	}

	if cfg.Oracle.BaseURL == "" && cfg.Oracle.Provider == "ollama" {
		cfg.Oracle.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 3 * time.Minute
	}
	if cfg.Oracle.MaxTasks == 0 {
		cfg.Oracle.MaxTasks = 20
	}
	if cfg.Oracle.MaxTokens == 0 {
		cfg.Oracle.MaxTokens = 1024
	}
	if cfg.Oracle.Temperature == 0 {
		cfg.Oracle.Temperature = 0.2
	}
	if cfg.Oracle.RequestsPerMinute == 0 {
		cfg.Oracle.RequestsPerMinute = 30
	}

	if cfg.Tracker.Timeout == 0 {
		cfg.Tracker.Timeout = 30 * time.Second
	}
	if cfg.Tracker.LabelColor == "" {
		cfg.Tracker.LabelColor = "ededed"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "minutes"
	}

	if cfg.Secrets.Scrubber == "" {
		cfg.Secrets.Scrubber = "gitleaks"
	}

	if cfg.Ingest.MaxWords == 0 {
		cfg.Ingest.MaxWords = 400
	}
	if cfg.Ingest.Debounce == 0 {
		cfg.Ingest.Debounce = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %f", c.Observability.SampleRate)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	switch c.VectorStore.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Dimension <= 0 {
		return fmt.Errorf("vectorstore.dimension must be positive, got %d", c.VectorStore.Dimension)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei", "hash":
	default:
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}

	switch c.Oracle.Provider {
	case "":
	case "ollama", "openai":
		if c.Oracle.Model == "" {
			return fmt.Errorf("oracle.model is required for provider %q", c.Oracle.Provider)
		}
	default:
		return fmt.Errorf("unsupported oracle provider: %q", c.Oracle.Provider)
	}
	if c.Oracle.MaxTasks < 1 {
		return fmt.Errorf("oracle.max_tasks must be positive, got %d", c.Oracle.MaxTasks)
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature out of range: %f", c.Oracle.Temperature)
	}

	switch c.Secrets.Scrubber {
	case "gitleaks", "none":
	default:
		return fmt.Errorf("unsupported secrets scrubber: %q", c.Secrets.Scrubber)
	}

	if c.Ingest.MaxWords < 1 {
		return fmt.Errorf("ingest.max_words must be positive, got %d", c.Ingest.MaxWords)
	}

	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
