package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

const scrollPageSize = 256

var errNotFound = errors.New("qdrant resource not found")

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Store is a REST client to Qdrant. Collections are created with cosine
// distance, and point ids are the UUIDs produced by vectorstore.PointID.
type Store struct {
	url    string
	apiKey string
	client *http.Client
	dims   sync.Map
}

func New(cfg Config) *Store {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Store{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: client,
	}
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/collections", nil, nil)
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errs.Validation("dimension must be positive").With("dimension", dimension)
	}
	existing, err := s.dimension(ctx, name)
	switch {
	case err == nil:
		if existing != dimension {
			return errs.DimensionMismatch(name, existing, dimension)
		}
		return nil
	case !errors.Is(err, errs.ErrCollectionNotFound):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": "document_id", "field_schema": "keyword"}
	if err := s.do(ctx, http.MethodPut, collectionPath(name)+"/index?wait=true", index, nil); err != nil {
		return err
	}
	s.dims.Store(name, dimension)
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	err := s.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
	s.dims.Delete(name)
	if errors.Is(err, errNotFound) {
		return errs.CollectionNotFound(name)
	}
	return err
}

func (s *Store) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	items := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dim {
			return errs.DimensionMismatch(name, dim, len(p.Vector))
		}
		items = append(items, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return s.collectionCall(ctx, http.MethodPut, name, "/points?wait=true", map[string]any{"points": items}, nil)
}

func (s *Store) Query(ctx context.Context, name string, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, errs.DimensionMismatch(name, dim, len(vector))
	}
	if topK <= 0 {
		topK = 5
	}
	return vectorstore.FetchTopK(topK, func(limit int) ([]vectorstore.ScoredPoint, error) {
		return s.search(ctx, name, vector, limit, filter)
	})
}

func (s *Store) search(ctx context.Context, name string, vector []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			ID      any                 `json:"id"`
			Score   float32             `json:"score"`
			Payload vectorstore.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.collectionCall(ctx, http.MethodPost, name, "/points/search", req, &resp); err != nil {
		return nil, err
	}

	results := make([]vectorstore.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.ScoredPoint{
			ID:      fmt.Sprint(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}

func (s *Store) DeleteDocument(ctx context.Context, name, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{matchValue("document_id", documentID)},
		},
	}
	return s.collectionCall(ctx, http.MethodPost, name, "/points/delete?wait=true", body, nil)
}

func (s *Store) DeletePoints(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.collectionCall(ctx, http.MethodPost, name, "/points/delete?wait=true", map[string]any{"points": ids}, nil)
}

func (s *Store) DocumentPoints(ctx context.Context, name, documentID string) ([]vectorstore.Point, error) {
	var out []vectorstore.Point
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  true,
			"filter": map[string]any{
				"must": []any{matchValue("document_id", documentID)},
			},
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID      any                 `json:"id"`
					Vector  []float32           `json:"vector"`
					Payload vectorstore.Payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.collectionCall(ctx, http.MethodPost, name, "/points/scroll", req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			out = append(out, vectorstore.Point{ID: fmt.Sprint(p.ID), Vector: p.Vector, Payload: p.Payload})
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payload.ChunkIndex < out[j].Payload.ChunkIndex })
	return out, nil
}

func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.collectionCall(ctx, http.MethodPost, name, "/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Store) ListDocuments(ctx context.Context, name string) ([]vectorstore.DocumentInfo, error) {
	docs := make(map[string]*vectorstore.DocumentInfo)
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{"document_id", "metadata"},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload vectorstore.Payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.collectionCall(ctx, http.MethodPost, name, "/points/scroll", req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			d, ok := docs[p.Payload.DocumentID]
			if !ok {
				d = &vectorstore.DocumentInfo{
					DocumentID: p.Payload.DocumentID,
					FileName:   p.Payload.Metadata.FileName,
					Type:       p.Payload.Metadata.Type,
					CreatedAt:  p.Payload.Metadata.CreatedAt,
				}
				docs[p.Payload.DocumentID] = d
			}
			d.Chunks++
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	out := make([]vectorstore.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *Store) dimension(ctx context.Context, name string) (int, error) {
	if v, ok := s.dims.Load(name); ok {
		return v.(int), nil
	}
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.collectionCall(ctx, http.MethodGet, name, "", nil, &resp); err != nil {
		return 0, err
	}
	dim := resp.Result.Config.Params.Vectors.Size
	s.dims.Store(name, dim)
	return dim, nil
}

func (s *Store) collectionCall(ctx context.Context, method, name, suffix string, body, out any) error {
	err := s.do(ctx, method, collectionPath(name)+suffix, body, out)
	if errors.Is(err, errNotFound) {
		s.dims.Delete(name)
		return errs.CollectionNotFound(name)
	}
	return err
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read qdrant response failed: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("qdrant %s %s status %d: %s", method, path, resp.StatusCode, string(raw))
	case resp.StatusCode >= 300:
		return errs.Newf(errs.KindStore, "qdrant %s %s status %d", method, path, resp.StatusCode).
			With("response", string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode qdrant response failed: %w", err)
		}
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func matchValue(key string, value any) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func buildFilter(f *vectorstore.Filter) map[string]any {
	if f == nil {
		return nil
	}
	var must []any
	if len(f.DocumentIDs) > 0 {
		must = append(must, map[string]any{"key": "document_id", "match": map[string]any{"any": f.DocumentIDs}})
	}
	if f.Type != "" {
		must = append(must, matchValue("metadata.type", f.Type))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}
