package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/pkg/errs"
)

type flakyStore struct {
	Store
	failures int
	err      error
	calls    int
}

func (f *flakyStore) Name() string { return "flaky" }

func (f *flakyStore) Upsert(context.Context, string, []Point) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	inner := &flakyStore{failures: 2, err: errors.New("connection reset")}
	s := WithRetry(inner, 3, time.Millisecond)

	require.NoError(t, s.Upsert(context.Background(), "c", nil))
	assert.Equal(t, 3, inner.calls)
}

func TestRetrySkipsTypedErrors(t *testing.T) {
	inner := &flakyStore{failures: 5, err: errs.CollectionNotFound("c")}
	s := WithRetry(inner, 3, time.Millisecond)

	err := s.Upsert(context.Background(), "c", nil)
	assert.True(t, errors.Is(err, errs.ErrCollectionNotFound))
	assert.Equal(t, 1, inner.calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	inner := &flakyStore{failures: 5, err: errors.New("timeout")}
	s := WithRetry(inner, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Upsert(ctx, "c", nil))
	assert.Equal(t, 1, inner.calls)
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, PointID("c", "d", 1), PointID("c", "d", 1))
	assert.NotEqual(t, PointID("c", "d", 1), PointID("c", "d", 2))
	assert.NotEqual(t, PointID("c", "d", 1), PointID("c2", "d", 1))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestFetchTopKWidensPastTiedCutoff(t *testing.T) {
	// Ten tied candidates that a remote index hands back in arbitrary order.
	pool := make([]ScoredPoint, 0, 11)
	for i := 9; i >= 0; i-- {
		pool = append(pool, ScoredPoint{ID: PointID("c", "a", i), Score: 0.8, Payload: Payload{DocumentID: "a", ChunkIndex: i}})
	}
	pool = append(pool, ScoredPoint{ID: "low", Score: 0.1, Payload: Payload{DocumentID: "z"}})

	var limits []int
	res, err := FetchTopK(2, func(limit int) ([]ScoredPoint, error) {
		limits = append(limits, limit)
		page := make([]ScoredPoint, min(limit, len(pool)))
		copy(page, pool)
		return page, nil
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 0, res[0].Payload.ChunkIndex)
	assert.Equal(t, 1, res[1].Payload.ChunkIndex)
	assert.Equal(t, []int{4, 16}, limits)
}

func TestFetchTopKStopsWithoutTie(t *testing.T) {
	calls := 0
	res, err := FetchTopK(1, func(limit int) ([]ScoredPoint, error) {
		calls++
		return []ScoredPoint{{ID: "b", Score: 0.5}, {ID: "a", Score: 0.9}}, nil
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, 1, calls)

	_, err = FetchTopK(1, func(int) ([]ScoredPoint, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
}
