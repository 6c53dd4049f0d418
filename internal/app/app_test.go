package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/repository"
	"gopherai-rag/internal/testutil"
	"gopherai-rag/internal/vectorstore"
	"gopherai-rag/internal/vectorstore/memory"
)

const (
	smallModel = "text-embedding-3-small"
	largeModel = "text-embedding-3-large"
)

type testEnv struct {
	store       *memory.Store
	embedder    *testutil.FakeEmbedder
	completer   *testutil.FakeCompleter
	history     *fakeHistory
	collections *CollectionService
	ingest      *IngestService
	sessions    *SessionService
	retriever   *Retriever
	chat        *ChatService
	qa          *QAService
	messages    *repository.MessageRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.OpenTestDB(t)
	registry, err := ai.NewModelRegistry()
	require.NoError(t, err)

	env := &testEnv{
		store:     memory.New(),
		embedder:  &testutil.FakeEmbedder{Dim: 1536},
		completer: &testutil.FakeCompleter{Reply: "grounded answer"},
		history:   newFakeHistory(),
		messages:  repository.NewMessageRepository(db),
	}
	env.collections = NewCollectionService(repository.NewCollectionRepository(db), env.store, registry)
	env.ingest = NewIngestService(env.collections, env.store, env.embedder, nil, IngestOptions{
		DefaultModel: smallModel,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		BatchSize:    3,
		EmbedTimeout: time.Second,
	})
	env.sessions = NewSessionService(repository.NewSessionRepository(db), env.messages, env.history, SessionDefaults{
		Model:         "gpt-4o-mini",
		Temperature:   0.7,
		ContextWindow: 10,
	})
	env.retriever = NewRetriever(env.collections, env.store, env.embedder, RetrievalOptions{
		TopK:         5,
		MaxTopK:      50,
		EmbedTimeout: time.Second,
	})
	env.chat = NewChatService(env.sessions, env.retriever, env.completer, ChatOptions{
		ChatModel:       "gpt-4o-mini",
		MaxContextChars: 12000,
		CompleteTimeout: time.Second,
	})
	env.qa = NewQAService(env.completer, env.ingest, QAOptions{MaxPairs: 20, MaxCharsPerCall: 15000, Model: "gpt-4o-mini"})
	return env
}

func (e *testEnv) ingestText(t *testing.T, collection, docID, text string) *IngestResult {
	t.Helper()
	res, err := e.ingest.Ingest(context.Background(), IngestInput{
		DocumentID: docID,
		Collection: collection,
		Text:       text,
	})
	require.NoError(t, err)
	return res
}

// fakeHistory mimics the redis history cache in memory.
type fakeHistory struct {
	mu          sync.Mutex
	windows     map[string]map[int][]model.Message
	dirty       map[string]bool
	invalidated int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{windows: map[string]map[int][]model.Message{}, dirty: map[string]bool{}}
}

func (f *fakeHistory) GetHistory(_ context.Context, id string, window int) ([]model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.windows[id][window]
	return msgs, ok, nil
}

func (f *fakeHistory) SetHistory(_ context.Context, id string, window int, msgs []model.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirty[id] {
		return false, nil
	}
	if f.windows[id] == nil {
		f.windows[id] = map[int][]model.Message{}
	}
	f.windows[id][window] = msgs
	return true, nil
}

func (f *fakeHistory) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	delete(f.windows, id)
	return nil
}

func (f *fakeHistory) DeleteHistory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, id)
	delete(f.dirty, id)
	return nil
}

func (f *fakeHistory) IsDirty(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty[id], nil
}

// brokenQueryStore fails every query as an unreachable backend would.
type brokenQueryStore struct {
	*memory.Store
}

func (brokenQueryStore) Query(context.Context, string, []float32, int, *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	return nil, errors.New("connection refused")
}

func repeatWords(word string, runes int) string {
	s := strings.Repeat(word+" ", runes/(len(word)+1)+1)
	return s[:runes]
}
