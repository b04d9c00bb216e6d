package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 384, cfg.VectorStore.Dimension)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "", cfg.Oracle.Provider)
	assert.Equal(t, 3*time.Minute, cfg.Oracle.Timeout)
	assert.Equal(t, 20, cfg.Oracle.MaxTasks)
	assert.Equal(t, "ededed", cfg.Tracker.LabelColor)
	assert.Equal(t, "gitleaks", cfg.Secrets.Scrubber)
	assert.Equal(t, 400, cfg.Ingest.MaxWords)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9191
  shutdown_timeout: 3s
vectorstore:
  provider: qdrant
  dimension: 768
  qdrant:
    host: qdrant.internal
    port: 6335
oracle:
  provider: ollama
  model: llama3.1
  timeout: 90s
tracker:
  token: ghp_example
`, 0o600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, 768, cfg.VectorStore.Dimension)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6335, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "ollama", cfg.Oracle.Provider)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Oracle.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "ghp_example", cfg.Tracker.Token.Value())
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0o600)

	t.Setenv("MINUTES_SERVER_HTTP_PORT", "7070")
	t.Setenv("MINUTES_VECTORSTORE_CHROMEM_COLLECTION", "notes")
	t.Setenv("MINUTES_ORACLE_PROVIDER", "openai")
	t.Setenv("MINUTES_ORACLE_MODEL", "gpt-4o-mini")
	t.Setenv("MINUTES_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "notes", cfg.VectorStore.Chromem.Collection)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadWithFile_RejectsWritableFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0o600)
	require.NoError(t, os.Chmod(path, 0o666))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad provider", "vectorstore:\n  provider: faiss\n", "unsupported vectorstore provider"},
		{"oracle without model", "oracle:\n  provider: ollama\n", "oracle.model is required"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"bad scrubber", "secrets:\n  scrubber: regex\n", "unsupported secrets scrubber"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithFile(writeConfig(t, tt.yaml, 0o600))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("MINUTES_SERVER_HTTP_PORT"))
	assert.Equal(t, "vectorstore.qdrant.api_key", envKey("MINUTES_VECTORSTORE_QDRANT_API_KEY"))
	assert.Equal(t, "vectorstore.provider", envKey("MINUTES_VECTORSTORE_PROVIDER"))
	assert.Equal(t, "", envKey("MINUTES_CONFIG"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "hunter2", s.Value())

	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(out))

	assert.False(t, Secret("").IsSet())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/data/minutes.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "minutes.db"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
