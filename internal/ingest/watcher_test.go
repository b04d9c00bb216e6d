package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/sanitize"
)

type ingestCall struct {
	corpusID string
	title    string
	raw      string
}

type recordingIngester struct {
	mu    sync.Mutex
	calls []ingestCall
	done  chan ingestCall
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{done: make(chan ingestCall, 16)}
}

func (r *recordingIngester) Ingest(_ context.Context, corpusID, title, raw string) (corpus.IngestResult, error) {
	call := ingestCall{corpusID: corpusID, title: title, raw: raw}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.done <- call
	return corpus.IngestResult{CorpusID: corpusID, Passages: 1}, nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func startWatcher(t *testing.T, dir string, ing Ingester) {
	t.Helper()
	w, err := NewWatcher(dir, ing, WithDebounce(50*time.Millisecond), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
}

func waitCall(t *testing.T, ing *recordingIngester) ingestCall {
	t.Helper()
	select {
	case c := <-ing.done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("file was not ingested")
		return ingestCall{}
	}
}

func TestWatcher_IngestsDroppedNotes(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngester()
	startWatcher(t, dir, ing)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "standup-0412.md"), []byte("Action: ship it"), 0o644))

	call := waitCall(t, ing)
	assert.Equal(t, "standup-0412", call.corpusID)
	assert.Equal(t, "standup-0412.md", call.title)
	assert.Equal(t, "Action: ship it", call.raw)
}

func TestWatcher_DebouncesBurstOfWrites(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngester()
	startWatcher(t, dir, ing)

	path := filepath.Join(dir, "retro.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	for _, line := range []string{"first\n", "second\n", "Action: final\n"} {
		_, err := f.WriteString(line)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	call := waitCall(t, ing)
	assert.Equal(t, "retro", call.corpusID)
	assert.Equal(t, "first\nsecond\nAction: final\n", call.raw)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ing.count())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngester()
	startWatcher(t, dir, ing)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".draft.md"), []byte("hidden"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("  \n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("Action: x"), 0o644))

	call := waitCall(t, ing)
	assert.Equal(t, "notes", call.corpusID)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ing.count())
}

func TestNewWatcher_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop", "inbox")
	w, err := NewWatcher(dir, newRecordingIngester())
	require.NoError(t, err)
	w.stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewWatcher_RequiresIngester(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestNewWatcher_RejectsTraversal(t *testing.T) {
	_, err := NewWatcher(t.TempDir()+"/../inbox", newRecordingIngester())
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)
}

func TestCorpusID(t *testing.T) {
	assert.Equal(t, "standup-0412", CorpusID("/tmp/drop/standup-0412.md"))
	assert.Equal(t, "notes.v2", CorpusID("notes.v2.txt"))
	assert.Equal(t, "README", CorpusID("README"))
}
