package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/minutes/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Storage.DataDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "minutes.db")
	cfg.VectorStore.Provider = "memory"
	cfg.VectorStore.Dimension = 64
	cfg.Embeddings.Provider = "hash"
	cfg.Secrets.Scrubber = "none"
	cfg.Logging.Level = "error"
	cfg.Ingest.WatchDir = filepath.Join(dir, "inbox")
	cfg.Ingest.Debounce = 50 * time.Millisecond
	return cfg
}

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg)
	}()

	base := "http://" + cfg.Server.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// Notes dropped into the watch dir become a corpus.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Ingest.WatchDir, "standup.md"),
		[]byte("Action: Alice to send the report by Friday."), 0o644))

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/corpora")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Corpora []struct {
				ID string `json:"corpus_id"`
			} `json:"corpora"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return len(body.Corpora) == 1 && body.Corpora[0].ID == "standup"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
