package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/pkg/errs"
)

type countingEmbedder struct {
	dim   int
	calls int
	seen  []string
}

func (c *countingEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	c.calls++
	c.seen = append(c.seen, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dim)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

type stubCompleter struct{ name string }

func (s stubCompleter) Complete(context.Context, CompletionRequest) (string, error) {
	return s.name, nil
}

func TestRegistryDefaultsAndExtras(t *testing.T) {
	reg, err := NewModelRegistry(EmbeddingModel{ID: "local-mini", Provider: "OpenAI", Dimension: 4})
	require.NoError(t, err)

	m, err := reg.Get("text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 1536, m.Dimension)

	m, err = reg.Get("local-mini")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, m.Provider)

	_, err = reg.Get("nope")
	assert.True(t, errors.Is(err, errs.ErrValidation))

	err = reg.Register(EmbeddingModel{ID: "local-mini", Provider: "openai", Dimension: 8})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	list := reg.List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestGatewayChecksDimension(t *testing.T) {
	reg, err := NewModelRegistry(
		EmbeddingModel{ID: "tiny", Provider: "openai", Dimension: 3},
		EmbeddingModel{ID: "wrong", Provider: "openai", Dimension: 5},
	)
	require.NoError(t, err)
	gw := NewGateway(reg, "openai")
	gw.RegisterEmbedder(ProviderOpenAI, &countingEmbedder{dim: 3})

	vecs, err := gw.Embed(context.Background(), "tiny", []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = gw.Embed(context.Background(), "wrong", []string{"a"})
	assert.True(t, errors.Is(err, errs.ErrDimensionMismatch))

	_, err = gw.Embed(context.Background(), "gemini-embedding-001", []string{"a"})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestGatewayRoutesCompletion(t *testing.T) {
	reg, err := NewModelRegistry()
	require.NoError(t, err)
	gw := NewGateway(reg, "openai")
	gw.RegisterCompleter(ProviderOpenAI, stubCompleter{name: "openai"})
	gw.RegisterCompleter(ProviderGemini, stubCompleter{name: "gemini"})

	out, err := gw.Complete(context.Background(), CompletionRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "openai", out)

	out, err = gw.Complete(context.Background(), CompletionRequest{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", out)
}

func TestLRUEmbedderOnlyForwardsMisses(t *testing.T) {
	next := &countingEmbedder{dim: 2}
	cached := WrapLRU(next, 16, time.Minute)

	first, err := cached.Embed(context.Background(), "m", []string{"a", "bb"})
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "m", []string{"bb", "ccc", "a"})
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
	assert.Equal(t, []string{"a", "bb", "ccc"}, next.seen)
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, float32(3), second[1][0])

	_, err = cached.Embed(context.Background(), "other", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestWrapLRUDisabled(t *testing.T) {
	next := &countingEmbedder{dim: 2}
	assert.Same(t, next, WrapLRU(next, 0, time.Minute))
}
