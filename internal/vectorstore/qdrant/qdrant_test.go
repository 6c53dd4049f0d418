package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int
	upserts     int
	lastSearch  map[string]any
	lastScroll  map[string]any
	// tied makes search return that many equally scored points, highest
	// chunk index first.
	tied     int
	searches []int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string]int)}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")
	name := parts[0]
	rest := strings.Join(parts[1:], "/")

	if name == "broken" {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.Method == http.MethodGet && rest == "":
		dim, ok := f.collections[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeResult(w, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": dim}}}})
	case r.Method == http.MethodPut && rest == "":
		vectors := body["vectors"].(map[string]any)
		f.collections[name] = int(vectors["size"].(float64))
		writeResult(w, true)
	case r.Method == http.MethodPut && rest == "index":
		writeResult(w, map[string]any{"status": "acknowledged"})
	case r.Method == http.MethodPut && rest == "points":
		f.upserts++
		writeResult(w, map[string]any{"status": "completed"})
	case r.Method == http.MethodPost && rest == "points/search" && f.tied > 0:
		limit := int(body["limit"].(float64))
		f.searches = append(f.searches, limit)
		out := []map[string]any{}
		for i := f.tied - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, map[string]any{"id": fmt.Sprintf("t%d", i), "score": 0.7, "payload": map[string]any{"document_id": "a", "chunk_index": i}})
		}
		writeResult(w, out)
	case r.Method == http.MethodPost && rest == "points/scroll":
		f.lastScroll = body
		writeResult(w, map[string]any{
			"points": []map[string]any{
				{"id": "p1", "vector": []float32{0, 1, 0}, "payload": map[string]any{"document_id": "a", "chunk_index": 1, "text": "ay"}},
				{"id": "p0", "vector": []float32{1, 0, 0}, "payload": map[string]any{"document_id": "a", "chunk_index": 0, "text": "ay0"}},
			},
			"next_page_offset": nil,
		})
	case r.Method == http.MethodPost && rest == "points/search":
		f.lastSearch = body
		writeResult(w, []map[string]any{
			{"id": "p2", "score": 0.5, "payload": map[string]any{"document_id": "b", "chunk_index": 0, "text": "bee"}},
			{"id": "p1", "score": 0.9, "payload": map[string]any{"document_id": "a", "chunk_index": 1, "text": "ay"}},
			{"id": "p3", "score": 0.9, "payload": map[string]any{"document_id": "a", "chunk_index": 0, "text": "ay0"}},
		})
	case r.Method == http.MethodPost && rest == "points/count":
		if _, ok := f.collections[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeResult(w, map[string]any{"count": 3})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func TestQdrantStoreRoundTrip(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s := New(Config{URL: srv.URL})

	require.NoError(t, s.CreateCollection(ctx, "docs", 3))
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))
	assert.True(t, errors.Is(s.CreateCollection(ctx, "docs", 4), errs.ErrDimensionMismatch))

	err := s.Upsert(ctx, "docs", []vectorstore.Point{{ID: "x", Vector: []float32{1, 2}}})
	assert.True(t, errors.Is(err, errs.ErrDimensionMismatch))
	assert.Equal(t, 0, fake.upserts)

	require.NoError(t, s.Upsert(ctx, "docs", []vectorstore.Point{{ID: "x", Vector: []float32{1, 2, 3}}}))
	assert.Equal(t, 1, fake.upserts)

	res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 2, &vectorstore.Filter{DocumentIDs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "p3", res[0].ID)
	assert.Equal(t, "p1", res[1].ID)
	assert.Equal(t, float64(4), fake.lastSearch["limit"])
	assert.NotNil(t, fake.lastSearch["filter"])

	n, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQdrantErrors(t *testing.T) {
	srv := httptest.NewServer(newFakeQdrant())
	defer srv.Close()
	ctx := context.Background()
	s := New(Config{URL: srv.URL})

	_, err := s.Count(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrCollectionNotFound))

	_, err = s.Query(ctx, "missing", []float32{1}, 1, nil)
	assert.True(t, errors.Is(err, errs.ErrCollectionNotFound))

	_, err = s.Count(ctx, "broken")
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err), "server errors stay untyped so they can be retried")
}

func TestQdrantQueryWidensOnTiedCutoff(t *testing.T) {
	fake := newFakeQdrant()
	fake.tied = 12
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()
	s := New(Config{URL: srv.URL})
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 0, res[0].Payload.ChunkIndex)
	assert.Equal(t, 1, res[1].Payload.ChunkIndex)
	assert.Equal(t, []int{4, 16}, fake.searches)
}

func TestQdrantDocumentPoints(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()
	s := New(Config{URL: srv.URL})

	pts, err := s.DocumentPoints(ctx, "docs", "a")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, "p0", pts[0].ID)
	assert.Equal(t, []float32{1, 0, 0}, pts[0].Vector)
	assert.Equal(t, 1, pts[1].Payload.ChunkIndex)
	assert.Equal(t, true, fake.lastScroll["with_vector"])
	assert.NotNil(t, fake.lastScroll["filter"])
}
