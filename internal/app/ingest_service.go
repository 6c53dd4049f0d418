package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
	"gopherai-rag/internal/pkg/textsplit"
	"gopherai-rag/internal/vectorstore"
)

type IngestJobPublisher interface {
	PublishIngest(ctx context.Context, job model.IngestJob) error
}

type IngestOptions struct {
	DefaultModel string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	EmbedTimeout time.Duration
}

type IngestInput struct {
	DocumentID     string
	Collection     string
	EmbeddingModel string
	Text           string
	FileName       string
	ChunkSize      int
	ChunkOverlap   int
	Source         string
	Type           string
	Extra          map[string]string
}

type IngestResult struct {
	DocumentID     string `json:"document_id"`
	Collection     string `json:"collection"`
	EmbeddingModel string `json:"embedding_model"`
	Chunks         int    `json:"chunks"`
	Points         int    `json:"points"`
}

type EnqueueResult struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Collection string `json:"collection"`
}

// IngestService turns extracted text into embedded chunks of one collection.
// A call writes all of a document's chunks or none of them.
type IngestService struct {
	collections *CollectionService
	store       vectorstore.Store
	embedder    ai.Embedder
	publisher   IngestJobPublisher
	opts        IngestOptions
	now         func() time.Time
}

func NewIngestService(
	collections *CollectionService,
	store vectorstore.Store,
	embedder ai.Embedder,
	publisher IngestJobPublisher,
	opts IngestOptions,
) *IngestService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	return &IngestService{
		collections: collections,
		store:       store,
		embedder:    embedder,
		publisher:   publisher,
		opts:        opts,
		now:         time.Now,
	}
}

func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("collection", in.Collection),
		zap.String("document_id", in.DocumentID),
		zap.String("embedding_model", in.EmbeddingModel),
	)

	// Reject a model mismatch before any capability call or write.
	if _, err := s.collections.Check(ctx, in.Collection, in.EmbeddingModel); err != nil {
		return nil, err
	}

	chunks, err := textsplit.Split(in.Text, in.ChunkSize, in.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	result := &IngestResult{
		DocumentID:     in.DocumentID,
		Collection:     in.Collection,
		EmbeddingModel: in.EmbeddingModel,
	}
	if len(chunks) == 0 {
		logger.Info("document has no text, nothing ingested")
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedAll(ctx, in.EmbeddingModel, texts)
	if err != nil {
		return nil, err
	}

	collection, err := s.collections.Ensure(ctx, in.Collection, in.EmbeddingModel, "")
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	points := make([]vectorstore.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = vectorstore.PointID(collection.Name, in.DocumentID, c.Index)
		points[i] = vectorstore.Point{
			ID:     ids[i],
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				DocumentID: in.DocumentID,
				ChunkIndex: c.Index,
				Text:       c.Text,
				Metadata: vectorstore.Metadata{
					Version:   vectorstore.MetadataVersion,
					Source:    in.Source,
					Type:      in.Type,
					FileName:  in.FileName,
					CreatedAt: createdAt,
					Extra:     in.Extra,
				},
			},
		}
	}

	previous, err := s.store.DocumentPoints(ctx, collection.Name, in.DocumentID)
	if err != nil {
		return nil, wrapStoreError("read previous chunks", err)
	}
	if err := s.store.Upsert(ctx, collection.Name, points); err != nil {
		s.restore(ctx, logger, collection.Name, ids, previous)
		return nil, wrapStoreError("upsert chunks", err)
	}
	if stale := staleIDs(previous, ids); len(stale) > 0 {
		if err := s.store.DeletePoints(ctx, collection.Name, stale); err != nil {
			s.restore(ctx, logger, collection.Name, ids, previous)
			return nil, wrapStoreError("remove stale chunks", err)
		}
	}

	result.Chunks = len(chunks)
	if n, err := s.store.Count(ctx, collection.Name); err == nil {
		result.Points = n
	}
	logger.Info("document ingested", zap.Int("chunks", result.Chunks), zap.Int("points", result.Points))
	return result, nil
}

// restore puts a document back to its state before a failed write: the
// chunks written by this call go and the previous version is rewritten.
func (s *IngestService) restore(ctx context.Context, logger *zap.Logger, collection string, written []string, previous []vectorstore.Point) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.DeletePoints(ctx, collection, written); err != nil {
		logger.Error("remove partially written chunks failed", zap.Error(err))
		return
	}
	if len(previous) == 0 {
		return
	}
	if err := s.store.Upsert(ctx, collection, previous); err != nil {
		logger.Error("restore previous chunks failed", zap.Int("chunks", len(previous)), zap.Error(err))
	}
}

// staleIDs lists the previous chunks the new version no longer covers.
func staleIDs(previous []vectorstore.Point, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, p := range previous {
		if _, ok := keep[p.ID]; !ok {
			stale = append(stale, p.ID)
		}
	}
	return stale
}

// Enqueue validates the request and hands it to the ingestion queue.
func (s *IngestService) Enqueue(ctx context.Context, in IngestInput) (*EnqueueResult, error) {
	if s.publisher == nil {
		return nil, errs.Validation("asynchronous ingestion is not enabled")
	}
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.collections.Check(ctx, in.Collection, in.EmbeddingModel); err != nil {
		return nil, err
	}
	job := model.IngestJob{
		JobID:          uuid.NewString(),
		DocumentID:     in.DocumentID,
		Collection:     in.Collection,
		EmbeddingModel: in.EmbeddingModel,
		Text:           in.Text,
		FileName:       in.FileName,
		ChunkSize:      in.ChunkSize,
		ChunkOverlap:   in.ChunkOverlap,
		Extra:          in.Extra,
	}
	if err := s.publisher.PublishIngest(ctx, job); err != nil {
		return nil, wrapStoreError("publish ingest job", err)
	}
	return &EnqueueResult{JobID: job.JobID, DocumentID: job.DocumentID, Collection: job.Collection}, nil
}

func (s *IngestService) ListDocuments(ctx context.Context, collection string) ([]vectorstore.DocumentInfo, error) {
	c, err := s.collections.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, c.Name)
	if err != nil {
		return nil, wrapStoreError("list documents", err)
	}
	return docs, nil
}

func (s *IngestService) DeleteDocument(ctx context.Context, collection, documentID string) error {
	c, err := s.collections.Get(ctx, collection)
	if err != nil {
		return err
	}
	documentID = strings.TrimSpace(documentID)
	docs, err := s.store.ListDocuments(ctx, c.Name)
	if err != nil {
		return wrapStoreError("list documents", err)
	}
	found := false
	for _, d := range docs {
		if d.DocumentID == documentID {
			found = true
			break
		}
	}
	if !found {
		return errs.NotFound("document", documentID).With("collection", c.Name)
	}
	if err := s.store.DeleteDocument(ctx, c.Name, documentID); err != nil {
		return wrapStoreError("delete document", err)
	}
	return nil
}

func (s *IngestService) normalize(in IngestInput) (IngestInput, error) {
	in.Collection = strings.TrimSpace(in.Collection)
	in.DocumentID = strings.TrimSpace(in.DocumentID)
	in.EmbeddingModel = strings.TrimSpace(in.EmbeddingModel)
	if in.EmbeddingModel == "" {
		in.EmbeddingModel = s.opts.DefaultModel
	}
	if in.DocumentID == "" {
		return in, errs.Validation("document_id is required")
	}
	if in.ChunkSize == 0 {
		in.ChunkSize = s.opts.ChunkSize
		if in.ChunkOverlap == 0 {
			in.ChunkOverlap = s.opts.ChunkOverlap
		}
	}
	if err := textsplit.Validate(in.ChunkSize, in.ChunkOverlap); err != nil {
		return in, err
	}
	if in.Source == "" {
		in.Source = vectorstore.SourceUpload
	}
	if in.Type == "" {
		in.Type = vectorstore.TypeDocument
	}
	return in, nil
}

func (s *IngestService) embedAll(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedBatch(ctx, modelID, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *IngestService) embedBatch(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()
	vectors, err := s.embedder.Embed(callCtx, modelID, texts)
	if err != nil {
		return nil, errs.Capability("embed", err)
	}
	return vectors, nil
}

func wrapStoreError(op string, err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	return errs.Wrap(errs.KindStore, op+" failed", err)
}
