package app

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/keylock"
	"gopherai-rag/internal/pkg/logutil"
	"gopherai-rag/internal/repository"
	"gopherai-rag/internal/vectorstore"
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type CollectionInfo struct {
	model.Collection
	Documents int `json:"documents"`
	Points    int `json:"points"`
}

// CollectionService owns collection metadata and the one-model-per-collection
// rule. Creation is serialized per name; reads of a known collection are
// served from an in-process snapshot and never wait on other names.
type CollectionService struct {
	repo   *repository.CollectionRepository
	store  vectorstore.Store
	models *ai.ModelRegistry
	locks  *keylock.KeyedMutex
	known  sync.Map
}

func NewCollectionService(repo *repository.CollectionRepository, store vectorstore.Store, models *ai.ModelRegistry) *CollectionService {
	return &CollectionService{
		repo:   repo,
		store:  store,
		models: models,
		locks:  keylock.New(),
	}
}

// Ensure returns the collection named name, creating it bound to modelID if
// it does not exist. The first writer wins: a later call with a different
// model fails with ModelMismatch and the binding is left unchanged.
func (s *CollectionService) Ensure(ctx context.Context, name, modelID, description string) (*model.Collection, error) {
	name = strings.TrimSpace(name)
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	m, err := s.models.Get(modelID)
	if err != nil {
		return nil, err
	}
	if c, ok := s.cached(name); ok {
		return bound(c, m.ID)
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	if c, ok := s.cached(name); ok {
		return bound(c, m.ID)
	}

	existing, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		candidate := &model.Collection{
			Name:           name,
			EmbeddingModel: m.ID,
			Provider:       m.Provider,
			Dimension:      m.Dimension,
			Description:    strings.TrimSpace(description),
		}
		created, err := s.repo.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if created {
			existing = candidate
			logutil.GetLogger(ctx).Info("collection created",
				zap.String("collection", name),
				zap.String("embedding_model", m.ID),
				zap.Int("dimension", m.Dimension),
			)
		} else {
			if existing, err = s.repo.GetByName(ctx, name); err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, errs.CollectionNotFound(name)
			}
		}
	}
	if err := checkBinding(existing, m.ID); err != nil {
		return nil, err
	}

	if err := s.store.CreateCollection(ctx, name, existing.Dimension); err != nil {
		return nil, err
	}
	s.known.Store(name, *existing)
	return existing, nil
}

// Check validates that modelID may write into name without creating
// anything. A missing collection passes.
func (s *CollectionService) Check(ctx context.Context, name, modelID string) (*model.Collection, error) {
	name = strings.TrimSpace(name)
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	m, err := s.models.Get(modelID)
	if err != nil {
		return nil, err
	}
	c, err := s.lookup(ctx, name)
	if err != nil || c == nil {
		return nil, err
	}
	return bound(c, m.ID)
}

func (s *CollectionService) Get(ctx context.Context, name string) (*model.Collection, error) {
	c, err := s.lookup(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errs.CollectionNotFound(name)
	}
	return c, nil
}

func (s *CollectionService) Describe(ctx context.Context, name string) (*CollectionInfo, error) {
	c, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, *c)
}

// List returns collections in name order with their document and point counts.
func (s *CollectionService) List(ctx context.Context) ([]CollectionInfo, error) {
	collections, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionInfo, 0, len(collections))
	for _, c := range collections {
		info, err := s.describe(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

// Delete removes the collection's points, then its metadata.
func (s *CollectionService) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	unlock := s.locks.Lock(name)
	defer unlock()

	c, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if c == nil {
		return errs.CollectionNotFound(name)
	}
	s.known.Delete(name)
	if err := s.store.DeleteCollection(ctx, name); err != nil && !errors.Is(err, errs.ErrCollectionNotFound) {
		return err
	}
	if err := s.repo.Delete(ctx, name); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("collection deleted", zap.String("collection", name))
	return nil
}

func (s *CollectionService) describe(ctx context.Context, c model.Collection) (*CollectionInfo, error) {
	info := &CollectionInfo{Collection: c}
	docs, err := s.store.ListDocuments(ctx, c.Name)
	if err != nil {
		if errors.Is(err, errs.ErrCollectionNotFound) {
			return info, nil
		}
		return nil, err
	}
	info.Documents = len(docs)
	for _, d := range docs {
		info.Points += d.Chunks
	}
	return info, nil
}

func (s *CollectionService) lookup(ctx context.Context, name string) (*model.Collection, error) {
	if c, ok := s.cached(name); ok {
		return c, nil
	}
	return s.repo.GetByName(ctx, name)
}

func (s *CollectionService) cached(name string) (*model.Collection, bool) {
	v, ok := s.known.Load(name)
	if !ok {
		return nil, false
	}
	c := v.(model.Collection)
	return &c, true
}

func bound(c *model.Collection, modelID string) (*model.Collection, error) {
	if err := checkBinding(c, modelID); err != nil {
		return nil, err
	}
	return c, nil
}

func checkBinding(c *model.Collection, modelID string) error {
	if c.EmbeddingModel != modelID {
		return errs.ModelMismatch(c.Name, c.EmbeddingModel, modelID)
	}
	return nil
}

func validateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return errs.Validation("collection name must be 1-128 characters of letters, digits, '.', '_' or '-'").
			With("collection", name)
	}
	return nil
}
