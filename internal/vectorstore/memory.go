package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryEntry struct {
	id       string
	vector   []float32
	metadata Metadata
}

// MemoryIndex is the brute-force backend. Every query scans all entries.
//
// Entries are appended under a write lock, so concurrent queries observe a
// batch either fully or not at all.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
	dim     int
	logger  *zap.Logger
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty brute-force index. dim <= 0 lets the first
// upsert fix the dimension.
func NewMemoryIndex(dim int, logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{dim: dim, logger: logger}
}

// Backend returns "memory".
func (m *MemoryIndex) Backend() string { return "memory" }

// Len returns the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Upsert appends entries.
func (m *MemoryIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []Metadata) (err error) {
	defer observe("memory", "upsert", time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	if dim <= 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	normalized, err := validateUpsert(dim, ids, vectors, metadatas)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	m.dim = dim

	for i, id := range ids {
		m.entries = append(m.entries, memoryEntry{
			id:       id,
			vector:   normalized[i],
			metadata: copyMetadata(metadatas[i]),
		})
	}
	m.logger.Debug("memory index upsert", zap.Int("count", len(ids)), zap.Int("total", len(m.entries)))
	return nil
}

// Query scans every entry, filters, and returns the top k by score.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, filters Metadata) (hits []Hit, err error) {
	defer observe("memory", "query", time.Now(), &err)

	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	q, err := validateQuery(m.dim, vector)
	if err != nil {
		return nil, err
	}

	hits = make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if !matches(e.metadata, filters) {
			continue
		}
		hits = append(hits, Hit{ID: e.id, Score: dot(q, e.vector), Metadata: copyMetadata(e.metadata)})
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Persist is a no-op; the memory backend is transient.
func (m *MemoryIndex) Persist(ctx context.Context) error {
	return nil
}
