package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultQueryCacheTTL is how long a query embedding is reused.
const DefaultQueryCacheTTL = 10 * time.Minute

// CachedEmbedder memoizes EmbedQuery results. Document embeddings pass
// through uncached since each passage is embedded once at ingestion.
type CachedEmbedder struct {
	next    Embedder
	cache   *gocache.Cache
	metrics *Metrics
}

// NewCachedEmbedder wraps next. ttl <= 0 uses DefaultQueryCacheTTL.
func NewCachedEmbedder(next Embedder, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		next:    next,
		cache:   gocache.New(ttl, 2*ttl),
		metrics: NewMetrics(logger),
	}
}

// EmbedDocuments delegates to the wrapped embedder.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedDocuments(ctx, texts)
}

// EmbedQuery returns a cached vector when the same text was embedded recently.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, found := c.cache.Get(key); found {
		c.metrics.RecordCacheLookup(ctx, true)
		return copyVector(v.([]float32)), nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	vec, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, copyVector(vec))
	return vec, nil
}

// Len returns the number of cached queries.
func (c *CachedEmbedder) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
