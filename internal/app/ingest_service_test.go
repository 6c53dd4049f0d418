package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
	"gopherai-rag/internal/vectorstore/memory"
)

// halfWriteStore persists the first point of its first batch and then
// fails. Later upserts pass through.
type halfWriteStore struct {
	*memory.Store
	failed bool
}

func (s *halfWriteStore) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	if s.failed {
		return s.Store.Upsert(ctx, name, points)
	}
	s.failed = true
	if err := s.Store.Upsert(ctx, name, points[:1]); err != nil {
		return err
	}
	return errors.New("connection reset by peer")
}

// staleDeleteStore fails the first point deletion it sees.
type staleDeleteStore struct {
	*memory.Store
	failed bool
}

func (s *staleDeleteStore) DeletePoints(ctx context.Context, name string, ids []string) error {
	if s.failed {
		return s.Store.DeletePoints(ctx, name, ids)
	}
	s.failed = true
	return errors.New("connection reset by peer")
}

func chunkTexts(t *testing.T, store vectorstore.Store, collection, docID string) []string {
	t.Helper()
	pts, err := store.DocumentPoints(context.Background(), collection, docID)
	require.NoError(t, err)
	texts := make([]string, len(pts))
	for i, p := range pts {
		texts[i] = p.Payload.Text
	}
	return texts
}

type recordingPublisher struct {
	jobs []model.IngestJob
}

func (p *recordingPublisher) PublishIngest(_ context.Context, job model.IngestJob) error {
	p.jobs = append(p.jobs, job)
	return nil
}

func TestIngestSplitsIntoOverlappingChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.ingestText(t, "docs-a", "handbook", repeatWords("retrieval", 3000))
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 4, res.Points)
	assert.Equal(t, smallModel, res.EmbeddingModel)

	docs, err := env.ingest.ListDocuments(ctx, "docs-a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "handbook", docs[0].DocumentID)
	assert.Equal(t, 4, docs[0].Chunks)
	assert.Equal(t, vectorstore.TypeDocument, docs[0].Type)

	c, err := env.collections.Get(ctx, "docs-a")
	require.NoError(t, err)
	assert.Equal(t, smallModel, c.EmbeddingModel)
	assert.Equal(t, 1536, c.Dimension)
}

func TestIngestIsIdempotentPerDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	text := repeatWords("alpha", 2500)

	env.ingestText(t, "docs", "doc-1", text)
	first, err := env.store.Count(ctx, "docs")
	require.NoError(t, err)

	env.ingestText(t, "docs", "doc-1", text)
	again, err := env.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	env.ingestText(t, "docs", "doc-2", text)
	more, err := env.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Greater(t, more, again)
}

func TestIngestRejectsModelMismatchBeforeEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs-a", "doc-1", "alpha beta")
	calls := env.embedder.Calls

	_, err := env.ingest.Ingest(ctx, IngestInput{
		DocumentID:     "doc-2",
		Collection:     "docs-a",
		EmbeddingModel: largeModel,
		Text:           "gamma delta",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrModelMismatch)
	assert.Equal(t, calls, env.embedder.Calls)

	c, err := env.collections.Get(ctx, "docs-a")
	require.NoError(t, err)
	assert.Equal(t, smallModel, c.EmbeddingModel)
	n, err := env.store.Count(ctx, "docs-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestEmptyTextIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.ingest.Ingest(ctx, IngestInput{DocumentID: "blank", Collection: "docs", Text: ""})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, 0, env.embedder.Calls)

	_, err = env.collections.Get(ctx, "docs")
	assert.ErrorIs(t, err, errs.ErrCollectionNotFound)
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   IngestInput
	}{
		{"missing document id", IngestInput{Collection: "docs", Text: "x"}},
		{"bad collection", IngestInput{DocumentID: "d", Collection: "", Text: "x"}},
		{"overlap too large", IngestInput{DocumentID: "d", Collection: "docs", Text: "x", ChunkSize: 100, ChunkOverlap: 100}},
		{"negative size", IngestInput{DocumentID: "d", Collection: "docs", Text: "x", ChunkSize: -5}},
		{"unknown model", IngestInput{DocumentID: "d", Collection: "docs", Text: "x", EmbeddingModel: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.ingest.Ingest(ctx, tc.in)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
	assert.Equal(t, 0, env.embedder.Calls)
}

func TestIngestEmbeddingFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.embedder.Err = errors.New("rate limited")

	_, err := env.ingest.Ingest(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: "alpha"})
	assert.Equal(t, errs.KindCapabilityError, errs.KindOf(err))
	_, err = env.collections.Get(ctx, "docs")
	assert.ErrorIs(t, err, errs.ErrCollectionNotFound)
}

func TestIngestRemovesPartialWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &halfWriteStore{Store: env.store}
	ingest := NewIngestService(env.collections, store, env.embedder, nil, IngestOptions{
		DefaultModel: smallModel,
		ChunkSize:    100,
		ChunkOverlap: 10,
		EmbedTimeout: time.Second,
	})

	_, err := ingest.Ingest(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: repeatWords("alpha", 500)})
	assert.Equal(t, errs.KindStore, errs.KindOf(err))

	n, err := env.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFailedReingestKeepsPreviousVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs", "d", repeatWords("alpha", 3000))
	env.ingestText(t, "docs", "other", "beta gamma")
	before := chunkTexts(t, env.store, "docs", "d")
	require.Len(t, before, 4)

	store := &halfWriteStore{Store: env.store}
	ingest := NewIngestService(env.collections, store, env.embedder, nil, IngestOptions{
		DefaultModel: smallModel,
		EmbedTimeout: time.Second,
	})
	_, err := ingest.Ingest(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: repeatWords("omega", 3000)})
	assert.Equal(t, errs.KindStore, errs.KindOf(err))

	assert.Equal(t, before, chunkTexts(t, env.store, "docs", "d"))
	n, err := env.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReingestDropsChunksBeyondNewLength(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs", "d", repeatWords("alpha", 3000))

	res := env.ingestText(t, "docs", "d", "short replacement")
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, res.Points)
	assert.Equal(t, []string{"short replacement"}, chunkTexts(t, env.store, "docs", "d"))

	docs, err := env.ingest.ListDocuments(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Chunks)
}

func TestFailedStaleCleanupRestoresPreviousVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs", "d", repeatWords("alpha", 3000))
	before := chunkTexts(t, env.store, "docs", "d")

	store := &staleDeleteStore{Store: env.store}
	ingest := NewIngestService(env.collections, store, env.embedder, nil, IngestOptions{
		DefaultModel: smallModel,
		EmbedTimeout: time.Second,
	})
	_, err := ingest.Ingest(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: "short replacement"})
	assert.Equal(t, errs.KindStore, errs.KindOf(err))
	assert.Equal(t, before, chunkTexts(t, env.store, "docs", "d"))
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs", "keep", "alpha beta")
	env.ingestText(t, "docs", "drop", "gamma delta")

	require.NoError(t, env.ingest.DeleteDocument(ctx, "docs", "drop"))
	docs, err := env.ingest.ListDocuments(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep", docs[0].DocumentID)

	assert.ErrorIs(t, env.ingest.DeleteDocument(ctx, "docs", "drop"), errs.ErrNotFound)
	assert.ErrorIs(t, env.ingest.DeleteDocument(ctx, "nope", "keep"), errs.ErrCollectionNotFound)
}

func TestEnqueuePublishesValidatedJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ingest.Enqueue(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: "x"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err), "no publisher configured")

	pub := &recordingPublisher{}
	ingest := NewIngestService(env.collections, env.store, env.embedder, pub, IngestOptions{DefaultModel: smallModel})
	res, err := ingest.Enqueue(ctx, IngestInput{DocumentID: "d", Collection: "docs", Text: "alpha", FileName: "a.txt"})
	require.NoError(t, err)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, res.JobID, pub.jobs[0].JobID)
	assert.Equal(t, smallModel, pub.jobs[0].EmbeddingModel)
	assert.Equal(t, 1000, pub.jobs[0].ChunkSize)
	assert.Equal(t, "a.txt", pub.jobs[0].FileName)
	assert.Equal(t, 0, env.embedder.Calls)
}
