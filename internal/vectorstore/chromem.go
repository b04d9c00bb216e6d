package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("minutes.vectorstore.chromem")

// errEmbeddingRequired is returned if chromem ever tries to embed content
// itself; every document and query carries a precomputed vector.
var errEmbeddingRequired = errors.New("chromem: precomputed embedding required")

// ChromemConfig holds configuration for the chromem-go backend.
type ChromemConfig struct {
	// SnapshotPath is the file Persist exports to and construction imports from.
	// Empty disables persistence.
	SnapshotPath string

	// Compress gzips the snapshot. The path gets a .gz suffix when missing.
	Compress bool

	// Collection is the chromem collection name. Default: "passages".
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "passages"
	}
	if c.Compress && c.SnapshotPath != "" && !strings.HasSuffix(c.SnapshotPath, ".gz") {
		c.SnapshotPath += ".gz"
	}
}

// ChromemIndex is the accelerated embedded backend built on chromem-go.
//
// chromem performs exact, concurrent cosine search over normalized vectors.
// Documents are keyed by an insertion sequence so re-upserted ids append,
// and results are re-ranked by (score, sequence) to match MemoryIndex.
type ChromemIndex struct {
	// mu makes each upsert batch visible to queries atomically.
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	dim        int
	nextSeq    uint64
	logger     *zap.Logger
}

var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex creates the backend, importing the snapshot when one exists.
func NewChromemIndex(config ChromemConfig, dim int, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	db := chromem.NewDB()

	if config.SnapshotPath != "" {
		path, err := expandPath(config.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		config.SnapshotPath = path

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating snapshot directory: %v", ErrBackendUnavailable, err)
		}
		if _, err := os.Stat(path); err == nil {
			if err := db.ImportFromFile(path, ""); err != nil {
				return nil, fmt.Errorf("%w: importing snapshot %s: %v", ErrBackendUnavailable, path, err)
			}
		}
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: opening collection %s: %v", ErrBackendUnavailable, config.Collection, err)
	}

	idx := &ChromemIndex{
		db:         db,
		collection: collection,
		config:     config,
		dim:        dim,
		nextSeq:    uint64(collection.Count()),
		logger:     logger,
	}

	logger.Info("chromem index initialized",
		zap.String("collection", config.Collection),
		zap.String("snapshot", config.SnapshotPath),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", idx.dim),
		zap.Uint64("entries", idx.nextSeq),
	)
	return idx, nil
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errEmbeddingRequired
}

// Backend returns "chromem".
func (c *ChromemIndex) Backend() string { return "chromem" }

// Upsert appends entries to the collection.
func (c *ChromemIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []Metadata) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	defer observe("chromem", "upsert", time.Now(), &err)

	span.SetAttributes(attribute.Int("count", len(ids)))

	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.dim
	if dim <= 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	normalized, err := validateUpsert(dim, ids, vectors, metadatas)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c.dim = dim

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		seq := c.nextSeq + uint64(i)
		md := encodeMetadata(metadatas[i])
		md[reservedIDKey] = id
		md[reservedSeqKey] = strconv.FormatUint(seq, 10)
		docs[i] = chromem.Document{
			ID:        docID(seq),
			Metadata:  md,
			Embedding: normalized[i],
			Content:   id,
		}
	}

	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// Partial batches stay in the collection; keep the sequence aligned with them.
		c.nextSeq = uint64(c.collection.Count())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	c.nextSeq += uint64(len(ids))

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query runs an exact search and re-ranks ties by insertion order.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filters Metadata) (hits []Hit, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	defer observe("chromem", "query", time.Now(), &err)

	span.SetAttributes(attribute.Int("k", k), attribute.Int("filters", len(filters)))

	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	q, err := validateQuery(c.dim, vector)
	if err != nil {
		return nil, err
	}

	where, ok := encodeFilters(filters)
	if !ok {
		// A non-scalar filter value can never match.
		return nil, nil
	}

	hits, err = collectTopK(ctx, k, count, func(ctx context.Context, n int) ([]candidate, error) {
		results, err := c.collection.QueryEmbedding(ctx, q, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		cands := make([]candidate, 0, len(results))
		for _, r := range results {
			seq, _ := strconv.ParseUint(r.Metadata[reservedSeqKey], 10, 64)
			cands = append(cands, candidate{
				hit: Hit{
					ID:       r.Metadata[reservedIDKey],
					Score:    r.Similarity,
					Metadata: decodeMetadata(r.Metadata),
				},
				seq: seq,
			})
		}
		return cands, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

// Persist exports the database to the snapshot file.
func (c *ChromemIndex) Persist(ctx context.Context) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Persist")
	defer span.End()
	defer observe("chromem", "persist", time.Now(), &err)

	if c.config.SnapshotPath == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.db.ExportToFile(c.config.SnapshotPath, c.config.Compress, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("exporting snapshot %s: %w", c.config.SnapshotPath, err)
	}
	c.logger.Debug("chromem snapshot written", zap.String("path", c.config.SnapshotPath), zap.Uint64("entries", c.nextSeq))
	return nil
}

func docID(seq uint64) string {
	return fmt.Sprintf("%016d", seq)
}

// encodeScalar renders a scalar with a type tag so chromem's string equality
// filter behaves like scalarEqual.
func encodeScalar(v any) (string, bool) {
	c, ok := canonical(v)
	if !ok {
		return "", false
	}
	switch x := c.(type) {
	case string:
		return "s:" + x, true
	case bool:
		return "b:" + strconv.FormatBool(x), true
	case float64:
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}

func decodeScalar(s string) any {
	switch {
	case strings.HasPrefix(s, "s:"):
		return s[2:]
	case strings.HasPrefix(s, "b:"):
		return s[2:] == "true"
	case strings.HasPrefix(s, "n:"):
		f, err := strconv.ParseFloat(s[2:], 64)
		if err != nil {
			return s
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	}
	return s
}

func encodeMetadata(md Metadata) map[string]string {
	out := make(map[string]string, len(md)+2)
	for k, v := range md {
		if s, ok := encodeScalar(v); ok {
			out[k] = s
		}
	}
	return out
}

func decodeMetadata(md map[string]string) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		if k == reservedIDKey || k == reservedSeqKey {
			continue
		}
		out[k] = decodeScalar(v)
	}
	return out
}

func encodeFilters(filters Metadata) (map[string]string, bool) {
	if len(filters) == 0 {
		return nil, true
	}
	where := make(map[string]string, len(filters))
	for k, v := range filters {
		s, ok := encodeScalar(v)
		if !ok {
			return nil, false
		}
		where[k] = s
	}
	return where, true
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
