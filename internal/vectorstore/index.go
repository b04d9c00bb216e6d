// Package vectorstore provides the similarity index over passage embeddings.
//
// All backends share one contract: vectors are L2-normalized on upsert and
// on query, scores are inner products of unit vectors (cosine similarity),
// filters are exact-match conjunctions over metadata, and ties are broken by
// insertion order.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidInput indicates malformed upsert or query arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrBackendUnavailable indicates an accelerated backend could not be initialized.
	ErrBackendUnavailable = errors.New("vector backend unavailable")
)

// Reserved metadata keys used internally by accelerated backends.
const (
	reservedIDKey  = "__id"
	reservedSeqKey = "__seq"
)

// Metadata is a flat map of scalar values (string, bool, integer or float kinds).
type Metadata map[string]any

// Hit is a single ranked retrieval result.
type Hit struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Index stores (id, vector, metadata) triples and answers top-k queries.
type Index interface {
	// Upsert appends entries. Re-upserting an id adds a second entry.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []Metadata) error

	// Query returns up to k hits ordered by descending score, restricted to
	// entries whose metadata matches every key in filters.
	Query(ctx context.Context, vector []float32, k int, filters Metadata) ([]Hit, error)

	// Persist flushes to durable storage. Transient backends treat it as a no-op.
	Persist(ctx context.Context) error
}

// Backend returns the backend name of idx, or "unknown".
func Backend(idx Index) string {
	if b, ok := idx.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "unknown"
}

// Int reads an integer-valued metadata key regardless of its numeric kind.
func (m Metadata) Int(key string) (int, bool) {
	v, ok := canonical(m[key])
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// String reads a string-valued metadata key.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Normalize returns a unit-length copy of v. A zero vector is returned as zeros.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// canonical maps a scalar onto string, bool or float64 so that numeric
// kinds compare equal by value.
func canonical(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return x, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return nil, false
}

func scalarEqual(a, b any) bool {
	ca, ok := canonical(a)
	if !ok {
		return false
	}
	cb, ok := canonical(b)
	if !ok {
		return false
	}
	return ca == cb
}

// matches reports whether md satisfies every filter key exactly.
func matches(md Metadata, filters Metadata) bool {
	for k, want := range filters {
		got, ok := md[k]
		if !ok || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

// validateUpsert checks argument shapes and returns normalized copies of the vectors.
func validateUpsert(dim int, ids []string, vectors [][]float32, metadatas []Metadata) ([][]float32, error) {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return nil, fmt.Errorf("%w: got %d ids, %d vectors, %d metadatas", ErrInvalidInput, len(ids), len(vectors), len(metadatas))
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) == 0 || isZero(v) {
			return nil, fmt.Errorf("%w: vector %d is empty or zero", ErrInvalidInput, i)
		}
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, index has %d", ErrDimensionMismatch, i, len(v), dim)
		}
		for k, val := range metadatas[i] {
			if k == reservedIDKey || k == reservedSeqKey {
				return nil, fmt.Errorf("%w: metadata key %q is reserved", ErrInvalidInput, k)
			}
			if _, ok := canonical(val); !ok {
				return nil, fmt.Errorf("%w: metadata %q has non-scalar type %T", ErrInvalidInput, k, val)
			}
		}
		normalized[i] = Normalize(v)
	}
	return normalized, nil
}

func validateQuery(dim int, vector []float32) ([]float32, error) {
	if len(vector) == 0 || isZero(vector) {
		return nil, fmt.Errorf("%w: query vector is empty or zero", ErrInvalidInput)
	}
	if dim > 0 && len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vector), dim)
	}
	return Normalize(vector), nil
}

func copyMetadata(md Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// candidate is a hit annotated with its insertion sequence.
type candidate struct {
	hit Hit
	seq uint64
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hit.Score != cands[j].hit.Score {
			return cands[i].hit.Score > cands[j].hit.Score
		}
		return cands[i].seq < cands[j].seq
	})
}

// collectTopK asks fetch for growing result windows until the k-th ranked
// candidate scores strictly above everything outside the window, so ties at
// the boundary resolve by insertion order exactly as the brute-force scan does.
// limit caps the window size; limit <= 0 means unbounded.
func collectTopK(ctx context.Context, k, limit int, fetch func(ctx context.Context, n int) ([]candidate, error)) ([]Hit, error) {
	n := 2 * k
	if limit > 0 && n > limit {
		n = limit
	}
	for {
		cands, err := fetch(ctx, n)
		if err != nil {
			return nil, err
		}
		sortCandidates(cands)

		exhausted := len(cands) < n || (limit > 0 && n >= limit)
		if exhausted || len(cands) <= k || cands[k-1].hit.Score > cands[len(cands)-1].hit.Score {
			if len(cands) > k {
				cands = cands[:k]
			}
			hits := make([]Hit, len(cands))
			for i, c := range cands {
				hits[i] = c.hit
			}
			return hits, nil
		}

		n *= 2
		if limit > 0 && n > limit {
			n = limit
		}
	}
}
