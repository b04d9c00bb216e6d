package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingEmbedder struct {
	queries atomic.Int32
	err     error
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 0}
	}
	return out, c.err
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder_ReusesQueryVectors(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 0, zap.NewNop())
	ctx := context.Background()

	v1, err := cached.EmbedQuery(ctx, "action items")
	require.NoError(t, err)
	v2, err := cached.EmbedQuery(ctx, "action items")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.queries.Load())
	assert.Equal(t, 1, cached.Len())

	// Mutating a returned vector does not corrupt the cache.
	v2[0] = -1
	v3, err := cached.EmbedQuery(ctx, "action items")
	require.NoError(t, err)
	assert.Equal(t, float32(12), v3[0])

	_, err = cached.EmbedQuery(ctx, "decisions")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.queries.Load())
}

func TestCachedEmbedder_DoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	cached := NewCachedEmbedder(inner, 0, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := cached.EmbedQuery(context.Background(), "q")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), inner.queries.Load())
	assert.Zero(t, cached.Len())
}

func TestCachedEmbedder_PassesDocumentsThrough(t *testing.T) {
	cached := NewCachedEmbedder(&countingEmbedder{}, 0, zap.NewNop())
	vecs, err := cached.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Zero(t, cached.Len())
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	q, err := h.EmbedQuery(ctx, "Deploy the billing service")
	require.NoError(t, err)
	docs, err := h.EmbedDocuments(ctx, []string{
		"We will deploy the billing service on Friday.",
		"Lunch options were discussed at length.",
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Len(t, q, 256)

	assert.Greater(t, cosine(q, docs[0]), cosine(q, docs[1]))

	again, err := h.EmbedQuery(ctx, "deploy THE billing, service")
	require.NoError(t, err)
	assert.Equal(t, q, again)

	empty, err := h.EmbedDocuments(ctx, []string{"..."})
	require.NoError(t, err)
	assert.NotZero(t, empty[0][0])

	_, err = h.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = h.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantDim int
		wantErr bool
	}{
		{"hash", ProviderConfig{Provider: "hash", Dimension: 64}, 64, false},
		{"tei detects dimension", ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"}, 768, false},
		{"tei explicit dimension", ProviderConfig{Provider: "TEI", BaseURL: "http://localhost:8080", Model: "custom", Dimension: 1536}, 1536, false},
		{"tei without base url", ProviderConfig{Provider: "tei", Model: "m"}, 0, true},
		{"tei without model", ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080"}, 0, true},
		{"unknown", ProviderConfig{Provider: "word2vec"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestDetectDimension(t *testing.T) {
	assert.Equal(t, 384, detectDimension("sentence-transformers/all-MiniLM-L6-v2"))
	assert.Equal(t, 768, detectDimension("BAAI/bge-base-en-v1.5"))
	assert.Equal(t, 1024, detectDimension("intfloat/e5-large"))
	assert.Equal(t, 384, detectDimension("something-else"))
}

func TestTEIProvider_Embeds(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "minilm", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(in)), 1, 0}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Model: "minilm", Dimension: 3})
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{2, 1, 0}, vecs[0])
	assert.Equal(t, []float32{4, 1, 0}, vecs[1])

	q, err := p.EmbedQuery(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1, 0}, q)
	assert.Equal(t, int32(2), requests.Load())

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Model: "minilm"})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}
