package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"gopherai-rag/internal/ai"
)

// FakeEmbedder produces deterministic bag-of-words vectors of a fixed
// dimension so texts sharing words score higher.
type FakeEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	Calls int
}

func (f *FakeEmbedder) Embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.Dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			v[int(h.Sum32())%f.Dim]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

// FakeCompleter returns Reply (or Err) and records the requests it saw.
type FakeCompleter struct {
	Reply   string
	Replies []string
	Err     error
	Block   bool

	mu       sync.Mutex
	Requests []ai.CompletionRequest
}

func (f *FakeCompleter) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	n := len(f.Requests)
	f.mu.Unlock()
	if f.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.Err != nil {
		return "", f.Err
	}
	if n <= len(f.Replies) {
		return f.Replies[n-1], nil
	}
	return f.Reply, nil
}

func (f *FakeCompleter) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}
