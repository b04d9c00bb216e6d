package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/config"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/stream"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)

	reg := NewRegistry(Options{})
	assert.Nil(t, reg.Corpus())
	assert.Nil(t, reg.Orchestrator())
	assert.Nil(t, reg.Publisher())
	assert.Nil(t, reg.Scrubber())
	assert.Nil(t, reg.Index())
	assert.Equal(t, stream.NopSink{}, reg.Sink())
	assert.NoError(t, reg.Close())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRegistry_CloseOrderAndErrors(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	reg := NewRegistry(Options{
		Closers: []io.Closer{
			closerFunc(func() error { order = append(order, "sink"); return nil }),
			closerFunc(func() error { order = append(order, "store"); return boom }),
			closerFunc(func() error { order = append(order, "embedder"); return nil }),
		},
	})

	err := reg.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"sink", "store", "embedder"}, order)

	// Closers run once.
	assert.NoError(t, reg.Close())
	assert.Len(t, order, 3)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.DataDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "minutes.db")
	cfg.VectorStore.Provider = "memory"
	cfg.VectorStore.Dimension = 64
	cfg.Embeddings.Provider = "hash"
	cfg.Secrets.Scrubber = "none"
	return cfg
}

func TestBuild_Offline(t *testing.T) {
	ctx := context.Background()
	reg, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.NotNil(t, reg.Corpus())
	assert.NotNil(t, reg.Orchestrator())
	assert.Nil(t, reg.Publisher(), "no tracker token configured")
	assert.False(t, reg.Scrubber().IsEnabled())
	assert.Equal(t, stream.NopSink{}, reg.Sink())
	assert.Equal(t, "disabled", reg.Orchestrator().Structured().Oracle().Name())

	res, err := reg.Corpus().Ingest(ctx, "weekly", "Weekly", "Action: Alice to send the report by Friday.")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Passages)

	out, err := reg.Orchestrator().Extract(ctx, "weekly", "", 0)
	require.NoError(t, err)
	assert.Equal(t, extraction.ModeHeuristic, out.Mode)
	assert.Len(t, out.Tasks, 1)
}

func TestBuild_WithTracker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracker.Token = config.Secret("ghp_test")
	cfg.Tracker.BaseURL = "http://127.0.0.1:1/"

	reg, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	assert.NotNil(t, reg.Publisher())
}

func TestBuild_UnreachableNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATS.URL = "nats://127.0.0.1:1"

	reg, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	assert.Equal(t, stream.NopSink{}, reg.Sink())
}

func TestBuild_BadScrubber(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets.Scrubber = "rot13"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
