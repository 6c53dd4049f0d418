package ai

import (
	"context"
	"fmt"
	"strings"

	"gopherai-rag/internal/pkg/errs"
)

// Gateway routes embedding calls by the registry's provider for the model and
// completion calls by model name prefix, falling back to a default provider.
type Gateway struct {
	registry        *ModelRegistry
	embedders       map[string]Embedder
	completers      map[string]Completer
	defaultProvider string
}

func NewGateway(registry *ModelRegistry, defaultProvider string) *Gateway {
	if defaultProvider == "" {
		defaultProvider = ProviderOpenAI
	}
	return &Gateway{
		registry:        registry,
		embedders:       make(map[string]Embedder),
		completers:      make(map[string]Completer),
		defaultProvider: strings.ToLower(defaultProvider),
	}
}

func (g *Gateway) RegisterEmbedder(provider string, e Embedder) {
	g.embedders[strings.ToLower(provider)] = e
}

func (g *Gateway) RegisterCompleter(provider string, c Completer) {
	g.completers[strings.ToLower(provider)] = c
}

// Embed also verifies every returned vector has the model's registered dimension.
func (g *Gateway) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m, err := g.registry.Get(model)
	if err != nil {
		return nil, err
	}
	embedder, ok := g.embedders[m.Provider]
	if !ok {
		return nil, fmt.Errorf("no embedder for provider %s: %w", m.Provider, ErrUnavailable)
	}
	vectors, err := embedder.Embed(ctx, m.ID, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != m.Dimension {
			return nil, errs.DimensionMismatch("", m.Dimension, len(v)).With("model", m.ID)
		}
	}
	return vectors, nil
}

func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	provider := g.defaultProvider
	if strings.HasPrefix(strings.ToLower(req.Model), "gemini") {
		provider = ProviderGemini
	}
	completer, ok := g.completers[provider]
	if !ok {
		return "", fmt.Errorf("no completer for provider %s: %w", provider, ErrUnavailable)
	}
	return completer.Complete(ctx, req)
}
