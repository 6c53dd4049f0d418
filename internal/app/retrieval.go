package app

import (
	"context"
	"strings"
	"time"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

type RetrievalOptions struct {
	TopK         int
	MaxTopK      int
	Threshold    float64
	EmbedTimeout time.Duration
}

type SearchInput struct {
	Collection string
	Query      string
	TopK       int
	// Threshold is a minimum cosine similarity in [0, 1]; nil uses the default.
	Threshold *float64
	Filter    *vectorstore.Filter
}

type SearchHit struct {
	ID         string               `json:"id"`
	DocumentID string               `json:"document_id"`
	ChunkIndex int                  `json:"chunk_index"`
	Text       string               `json:"text"`
	Score      float32              `json:"score"`
	Similarity float64              `json:"similarity_percent"`
	Metadata   vectorstore.Metadata `json:"metadata"`
}

type SearchResult struct {
	Collection     string      `json:"collection"`
	EmbeddingModel string      `json:"embedding_model"`
	Hits           []SearchHit `json:"hits"`
}

// Retriever embeds a query with the collection's bound model and returns the
// closest chunks. It is shared by semantic search and chat turns.
type Retriever struct {
	collections *CollectionService
	store       vectorstore.Store
	embedder    ai.Embedder
	opts        RetrievalOptions
}

func NewRetriever(collections *CollectionService, store vectorstore.Store, embedder ai.Embedder, opts RetrievalOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxTopK < opts.TopK {
		opts.MaxTopK = opts.TopK
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	return &Retriever{collections: collections, store: store, embedder: embedder, opts: opts}
}

func (r *Retriever) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errs.Validation("query is empty")
	}
	topK, threshold, err := r.bounds(in.TopK, in.Threshold)
	if err != nil {
		return nil, err
	}
	c, err := r.collections.Get(ctx, in.Collection)
	if err != nil {
		return nil, err
	}
	vector, err := r.embedQuery(ctx, c.EmbeddingModel, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.query(ctx, c, vector, topK, threshold, in.Filter)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Collection: c.Name, EmbeddingModel: c.EmbeddingModel, Hits: hits}, nil
}

func (r *Retriever) bounds(topK int, threshold *float64) (int, float64, error) {
	if topK == 0 {
		topK = r.opts.TopK
	}
	if topK < 1 || topK > r.opts.MaxTopK {
		return 0, 0, errs.Validation("top_k must be within [1, %d]", r.opts.MaxTopK).With("top_k", topK)
	}
	t := r.opts.Threshold
	if threshold != nil {
		t = *threshold
	}
	if t < 0 || t > 1 {
		return 0, 0, errs.Validation("similarity threshold must be within [0, 1]").With("threshold", t)
	}
	return topK, t, nil
}

func (r *Retriever) embedQuery(ctx context.Context, modelID, query string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.EmbedTimeout)
	defer cancel()
	vectors, err := r.embedder.Embed(callCtx, modelID, []string{query})
	if err != nil {
		return nil, errs.Capability("embed", err)
	}
	if len(vectors) != 1 {
		return nil, errs.Newf(errs.KindCapabilityError, "embedder returned %d vectors for 1 query", len(vectors))
	}
	return vectors[0], nil
}

func (r *Retriever) query(ctx context.Context, c *model.Collection, vector []float32, topK int, threshold float64, filter *vectorstore.Filter) ([]SearchHit, error) {
	points, err := r.store.Query(ctx, c.Name, vector, topK, filter)
	if err != nil {
		return nil, wrapStoreError("query vector store", err)
	}
	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		if float64(p.Score) < threshold {
			continue
		}
		hits = append(hits, SearchHit{
			ID:         p.ID,
			DocumentID: p.Payload.DocumentID,
			ChunkIndex: p.Payload.ChunkIndex,
			Text:       p.Payload.Text,
			Score:      p.Score,
			Similarity: similarityPercent(p.Score),
			Metadata:   p.Payload.Metadata,
		})
	}
	return hits, nil
}

func similarityPercent(score float32) float64 {
	pct := float64(score) * 100
	if pct < 0 {
		return 0
	}
	return float64(int(pct*100+0.5)) / 100
}
