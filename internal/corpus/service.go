package corpus

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/embeddings"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/vectorstore"
)

// IngestResult reports a completed ingest.
type IngestResult struct {
	CorpusID string `json:"corpus_id"`
	Passages int    `json:"passages_indexed"`
}

// SearchResult is a retrieval hit joined with its passage text.
type SearchResult struct {
	ID         string               `json:"id"`
	Score      float32              `json:"score"`
	Metadata   vectorstore.Metadata `json:"metadata"`
	LocalIndex int                  `json:"local_index"`
	Text       string               `json:"text"`
}

// Service ingests documents and searches their passages.
type Service struct {
	store    Store
	index    vectorstore.Index
	embedder embeddings.Embedder
	maxWords int
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxWords sets the passage size used by Segment.
func WithMaxWords(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxWords = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the passage store, index and embedder.
func NewService(store Store, index vectorstore.Index, embedder embeddings.Embedder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		index:    index,
		embedder: embedder,
		maxWords: DefaultMaxWords,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest segments raw, embeds the passages, replaces the stored passages of
// the corpus and appends the vectors to the index.
func (s *Service) Ingest(ctx context.Context, corpusID, title, raw string) (IngestResult, error) {
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return IngestResult{}, fmt.Errorf("%w: corpus_id is required", ErrValidation)
	}
	segments := Segment(raw, s.maxWords)
	if len(segments) == 0 {
		return IngestResult{}, fmt.Errorf("%w: document is empty", ErrValidation)
	}

	ctx = logging.WithCorpusID(ctx, corpusID)
	log := logging.For(ctx, s.logger)

	vectors, err := s.embedder.EmbedDocuments(ctx, segments)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embedding passages: %w", err)
	}

	passages := make([]Passage, len(segments))
	ids := make([]string, len(segments))
	metas := make([]vectorstore.Metadata, len(segments))
	for i, text := range segments {
		passages[i] = Passage{CorpusID: corpusID, LocalIndex: i, Text: text}
		metas[i] = PassageMetadata(corpusID, title, i)
		ids[i] = PassageID(text, metas[i])
	}

	if err := s.store.SavePassages(ctx, Corpus{ID: corpusID, Title: title, Raw: raw}, passages); err != nil {
		return IngestResult{}, fmt.Errorf("saving passages: %w", err)
	}
	if err := s.index.Upsert(ctx, ids, vectors, metas); err != nil {
		return IngestResult{}, fmt.Errorf("indexing passages: %w", err)
	}
	if err := s.index.Persist(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("persisting index: %w", err)
	}

	log.Info("corpus ingested", zap.Int("passages", len(passages)), zap.String("backend", vectorstore.Backend(s.index)))
	return IngestResult{CorpusID: corpusID, Passages: len(passages)}, nil
}

// Passages returns the stored passages of a corpus ordered by local index.
func (s *Service) Passages(ctx context.Context, corpusID string) ([]Passage, error) {
	return s.store.Passages(ctx, corpusID)
}

// Corpora lists the stored corpora.
func (s *Service) Corpora(ctx context.Context) ([]Corpus, error) {
	return s.store.Corpora(ctx)
}

// Search returns up to k passages of the corpus ranked by similarity to q.
// Index entries left behind by an earlier ingest of the same corpus are
// skipped, as are repeated hits on one passage.
func (s *Service) Search(ctx context.Context, corpusID, q string, k int) ([]SearchResult, error) {
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return nil, fmt.Errorf("%w: corpus_id is required", ErrValidation)
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	passages, err := s.store.Passages(ctx, corpusID)
	if err != nil {
		return nil, fmt.Errorf("loading passages: %w", err)
	}
	if len(passages) == 0 {
		return []SearchResult{}, nil
	}
	byIndex := make(map[int]Passage, len(passages))
	for _, p := range passages {
		byIndex[p.LocalIndex] = p
	}

	vector, err := s.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Re-ingesting appends entries, so stale and duplicate hits can crowd the
	// window. Widen it until k live passages are found or the index runs out.
	filter := vectorstore.Metadata{MetaCorpusID: corpusID}
	var results []SearchResult
	for n := 2 * k; ; n *= 2 {
		hits, err := s.index.Query(ctx, vector, n, filter)
		if err != nil {
			return nil, fmt.Errorf("querying index: %w", err)
		}
		results = liveResults(corpusID, hits, byIndex, k)
		if len(results) == k || len(results) == len(byIndex) || len(hits) < n {
			break
		}
	}
	return results, nil
}

// liveResults keeps the first hit for each passage that still matches the
// stored text, up to k.
func liveResults(corpusID string, hits []vectorstore.Hit, byIndex map[int]Passage, k int) []SearchResult {
	results := make([]SearchResult, 0, k)
	seen := make(map[int]bool, len(hits))
	for _, h := range hits {
		li, ok := h.Metadata.Int(MetaLocalIndex)
		if !ok || seen[li] {
			continue
		}
		p, ok := byIndex[li]
		if !ok || h.ID != PassageID(p.Text, PassageMetadata(corpusID, h.Metadata.String(MetaTitle), li)) {
			continue
		}
		seen[li] = true
		results = append(results, SearchResult{
			ID:         h.ID,
			Score:      h.Score,
			Metadata:   h.Metadata,
			LocalIndex: li,
			Text:       p.Text,
		})
		if len(results) == k {
			break
		}
	}
	return results
}
