package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is an offline bag-of-words embedder using feature hashing.
// It needs no model files, which makes it suitable for development and tests.
// Texts sharing words get positive similarity; unrelated texts score near 0.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder with dim buckets. dim < 2 uses 384.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 2 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Close() error { return nil }

// embed never returns a zero vector: a bias bucket is always set so that
// texts without words remain valid index entries.
func (h *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, h.dim)
	v[0] = 0.01
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum32()
		idx := 1 + int(sum%uint32(h.dim-1))
		if sum&(1<<31) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	return v
}
