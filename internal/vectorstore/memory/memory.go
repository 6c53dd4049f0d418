package memory

import (
	"context"
	"sort"
	"sync"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

type collection struct {
	dimension int
	points    map[string]vectorstore.Point
}

// Store keeps points in process memory. Points are replaced whole under
// the write lock, so readers never see a partially written vector.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errs.Validation("dimension must be positive").With("dimension", dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dimension != dimension {
			return errs.DimensionMismatch(name, c.dimension, dimension)
		}
		return nil
	}
	s.collections[name] = &collection{dimension: dimension, points: make(map[string]vectorstore.Point)}
	return nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return errs.CollectionNotFound(name)
	}
	delete(s.collections, name)
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return errs.CollectionNotFound(name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return errs.DimensionMismatch(name, c.dimension, len(p.Vector))
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		c.points[p.ID] = p
	}
	return nil
}

func (s *Store) Query(_ context.Context, name string, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, errs.CollectionNotFound(name)
	}
	if len(vector) != c.dimension {
		return nil, errs.DimensionMismatch(name, c.dimension, len(vector))
	}

	results := make([]vectorstore.ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		if !filter.Matches(p.Payload) {
			continue
		}
		results = append(results, vectorstore.ScoredPoint{
			ID:      p.ID,
			Score:   vectorstore.CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	vectorstore.SortResults(results)
	return vectorstore.Truncate(results, topK), nil
}

func (s *Store) DeleteDocument(_ context.Context, name, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return errs.CollectionNotFound(name)
	}
	for id, p := range c.points {
		if p.Payload.DocumentID == documentID {
			delete(c.points, id)
		}
	}
	return nil
}

func (s *Store) DeletePoints(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return errs.CollectionNotFound(name)
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (s *Store) DocumentPoints(_ context.Context, name, documentID string) ([]vectorstore.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, errs.CollectionNotFound(name)
	}
	var out []vectorstore.Point
	for _, p := range c.points {
		if p.Payload.DocumentID != documentID {
			continue
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payload.ChunkIndex < out[j].Payload.ChunkIndex })
	return out, nil
}

func (s *Store) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, errs.CollectionNotFound(name)
	}
	return len(c.points), nil
}

func (s *Store) ListDocuments(_ context.Context, name string) ([]vectorstore.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, errs.CollectionNotFound(name)
	}
	docs := make(map[string]*vectorstore.DocumentInfo)
	for _, p := range c.points {
		d, ok := docs[p.Payload.DocumentID]
		if !ok {
			d = &vectorstore.DocumentInfo{
				DocumentID: p.Payload.DocumentID,
				FileName:   p.Payload.Metadata.FileName,
				Type:       p.Payload.Metadata.Type,
				CreatedAt:  p.Payload.Metadata.CreatedAt,
			}
			docs[p.Payload.DocumentID] = d
		}
		d.Chunks++
	}
	out := make([]vectorstore.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}
