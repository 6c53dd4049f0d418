package vectorstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
)

// WithRetry retries the idempotent data-path calls (upsert, query, point
// reads and deletion, count) on transient I/O failures. Typed errors and
// cancelled contexts are returned immediately.
func WithRetry(next Store, attempts int, backoff time.Duration) Store {
	if attempts <= 1 {
		return next
	}
	return &retryStore{Store: next, attempts: attempts, backoff: backoff}
}

type retryStore struct {
	Store
	attempts int
	backoff  time.Duration
}

func (r *retryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	return r.do(ctx, "upsert", func() error {
		return r.Store.Upsert(ctx, collection, points)
	})
}

func (r *retryStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]ScoredPoint, error) {
	var out []ScoredPoint
	err := r.do(ctx, "query", func() error {
		var err error
		out, err = r.Store.Query(ctx, collection, vector, topK, filter)
		return err
	})
	return out, err
}

func (r *retryStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	return r.do(ctx, "delete_points", func() error {
		return r.Store.DeletePoints(ctx, collection, ids)
	})
}

func (r *retryStore) DocumentPoints(ctx context.Context, collection, documentID string) ([]Point, error) {
	var out []Point
	err := r.do(ctx, "document_points", func() error {
		var err error
		out, err = r.Store.DocumentPoints(ctx, collection, documentID)
		return err
	})
	return out, err
}

func (r *retryStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := r.do(ctx, "count", func() error {
		var err error
		n, err = r.Store.Count(ctx, collection)
		return err
	})
	return n, err
}

func (r *retryStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	wait := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !retryable(ctx, err) || attempt == r.attempts {
			return err
		}
		logutil.GetLogger(ctx).Warn("vector store call failed, retrying",
			zap.String("backend", r.Store.Name()),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var typed *errs.Error
	return !errors.As(err, &typed)
}
