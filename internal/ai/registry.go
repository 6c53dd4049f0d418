package ai

import (
	"sort"
	"strings"
	"sync"

	"gopherai-rag/internal/pkg/errs"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type EmbeddingModel struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Dimension int    `json:"dimension"`
}

var builtinModels = []EmbeddingModel{
	{ID: "text-embedding-3-small", Provider: ProviderOpenAI, Dimension: 1536},
	{ID: "text-embedding-3-large", Provider: ProviderOpenAI, Dimension: 3072},
	{ID: "text-embedding-ada-002", Provider: ProviderOpenAI, Dimension: 1536},
	{ID: "gemini-embedding-001", Provider: ProviderGemini, Dimension: 3072},
	{ID: "text-embedding-004", Provider: ProviderGemini, Dimension: 768},
}

// ModelRegistry maps embedding model ids to their provider and dimension.
// Entries are immutable once registered.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]EmbeddingModel
}

func NewModelRegistry(extra ...EmbeddingModel) (*ModelRegistry, error) {
	r := &ModelRegistry{models: make(map[string]EmbeddingModel, len(builtinModels)+len(extra))}
	for _, m := range builtinModels {
		r.models[m.ID] = m
	}
	for _, m := range extra {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *ModelRegistry) Register(m EmbeddingModel) error {
	m.ID = strings.TrimSpace(m.ID)
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.ID == "" || m.Dimension <= 0 {
		return errs.Validation("embedding model needs an id and a positive dimension").With("model", m.ID)
	}
	if m.Provider == "" {
		m.Provider = ProviderOpenAI
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.models[m.ID]; ok {
		if existing != m {
			return errs.Validation("embedding model is already registered with different settings").
				With("model", m.ID).
				With("dimension", existing.Dimension)
		}
		return nil
	}
	r.models[m.ID] = m
	return nil
}

func (r *ModelRegistry) Get(id string) (EmbeddingModel, error) {
	r.mu.RLock()
	m, ok := r.models[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return EmbeddingModel{}, errs.Validation("unknown embedding model").With("model", id)
	}
	return m, nil
}

func (r *ModelRegistry) List() []EmbeddingModel {
	r.mu.RLock()
	out := make([]EmbeddingModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
