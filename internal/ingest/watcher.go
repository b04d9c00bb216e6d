// Package ingest watches a drop folder and ingests meeting notes written
// into it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/sanitize"
)

// DefaultDebounce is the quiet period before a changed file is ingested.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultExtensions are the file types picked up from the drop folder.
var DefaultExtensions = []string{".txt", ".md"}

// Ingester stores a document as a corpus. corpus.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, corpusID, title, raw string) (corpus.IngestResult, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Values <= 0 keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher ingests .txt and .md files created or modified in a directory.
// The corpus id is the file name without its extension.
type Watcher struct {
	dir        string
	ingester   Ingester
	debounce   time.Duration
	extensions []string
	ignore     []string
	logger     *zap.Logger
	watcher    *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// NewWatcher creates a watcher over dir. The directory is created if it
// does not exist.
func NewWatcher(dir string, ing Ingester, opts ...Option) (*Watcher, error) {
	if ing == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	dir, err := sanitize.ValidatePath(dir, "")
	if err != nil {
		return nil, fmt.Errorf("invalid watch dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating watch dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:        dir,
		ingester:   ing,
		debounce:   DefaultDebounce,
		extensions: DefaultExtensions,
		logger:     zap.NewNop(),
		watcher:    fw,
		pending:    make(map[string]*time.Timer),
		ready:      make(chan string, 64),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.reloadIgnore()
	return w, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	w.logger.Info("watching drop folder", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) == IgnoreFile {
				w.reloadIgnore()
				continue
			}
			if !w.watched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case path := <-w.ready:
			w.ingestFile(ctx, path)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		default:
			w.logger.Warn("ingest queue full, dropping file", zap.String("path", path))
		}
	})
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	log := w.logger.With(zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("reading dropped file failed", zap.Error(err))
		return
	}
	if strings.TrimSpace(string(data)) == "" {
		log.Debug("skipping empty file")
		return
	}

	base := filepath.Base(path)
	corpusID := CorpusID(path)
	res, err := w.ingester.Ingest(ctx, corpusID, base, strings.ToValidUTF8(string(data), ""))
	if err != nil {
		log.Warn("ingesting dropped file failed", zap.String("corpus_id", corpusID), zap.Error(err))
		return
	}
	log.Info("ingested dropped file", zap.String("corpus_id", res.CorpusID), zap.Int("passages", res.Passages))
}

func (w *Watcher) watched(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if ignored(w.ignore, path) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (w *Watcher) reloadIgnore() {
	patterns, err := loadIgnore(w.dir)
	if err != nil {
		w.logger.Warn("reading ignore file failed", zap.String("file", IgnoreFile), zap.Error(err))
		return
	}
	w.ignore = patterns
	if len(patterns) > 0 {
		w.logger.Debug("loaded ignore patterns", zap.Strings("patterns", patterns))
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

// CorpusID derives a corpus id from a file path.
func CorpusID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
