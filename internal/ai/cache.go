package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"gopherai-rag/internal/pkg/logutil"
)

// WrapLRU caches vectors per (model, text). Only misses reach next.
func WrapLRU(next Embedder, size int, ttl time.Duration) Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = cacheKey(model, text)
		if cached, ok := l.cache.Get(keys[i]); ok {
			out[i] = cloneVector(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("model", model), zap.Int("count", len(texts)))
		return out, nil
	}

	vectors, err := l.next.Embed(ctx, model, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j >= len(vectors) {
			break
		}
		out[i] = vectors[j]
		l.cache.Add(keys[i], cloneVector(vectors[j]))
	}
	return out, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
