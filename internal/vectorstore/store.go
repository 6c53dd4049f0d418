// Package vectorstore defines the collection-scoped similarity search
// contract shared by the memory, Qdrant and pgvector backends.
//
// Similarity is cosine similarity in every backend. Results are ordered by
// score descending, then chunk index, document id and point id ascending.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

const MetadataVersion = 1

const (
	SourceUpload      = "upload"
	SourceQAGenerator = "qa_generator"

	TypeDocument = "document"
	TypeQAPair   = "qa_pair"
)

// Metadata is the versioned payload attached to every chunk.
type Metadata struct {
	Version   int               `json:"version"`
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	FileName  string            `json:"file_name,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type Payload struct {
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
}

type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

type ScoredPoint struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

type Filter struct {
	DocumentIDs []string
	Type        string
}

type DocumentInfo struct {
	DocumentID string    `json:"document_id"`
	FileName   string    `json:"file_name,omitempty"`
	Type       string    `json:"type"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store fails with errs.CollectionNotFound for unknown collections and
// errs.DimensionMismatch for vectors of the wrong length.
type Store interface {
	Name() string
	Ping(ctx context.Context) error
	// CreateCollection is idempotent for an identical dimension.
	CreateCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error
	// Upsert replaces points with the same id.
	Upsert(ctx context.Context, collection string, points []Point) error
	Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]ScoredPoint, error)
	DeleteDocument(ctx context.Context, collection, documentID string) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
	// DocumentPoints returns every point of a document, vectors included,
	// ordered by chunk index.
	DocumentPoints(ctx context.Context, collection, documentID string) ([]Point, error)
	Count(ctx context.Context, collection string) (int, error)
	ListDocuments(ctx context.Context, collection string) ([]DocumentInfo, error)
}

var pointNamespace = uuid.MustParse("6f1c6d2e-8a3b-4b7e-9d55-2f0a4c1e9b10")

// PointID is deterministic so re-ingesting a document overwrites its chunks.
func PointID(collection, documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s/%s/%d", collection, documentID, chunkIndex))).String()
}

func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func SortResults(results []ScoredPoint) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Payload.ChunkIndex != b.Payload.ChunkIndex {
			return a.Payload.ChunkIndex < b.Payload.ChunkIndex
		}
		if a.Payload.DocumentID != b.Payload.DocumentID {
			return a.Payload.DocumentID < b.Payload.DocumentID
		}
		return a.ID < b.ID
	})
}

// Matches reports whether a payload passes filter. A nil filter matches all.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && p.Metadata.Type != f.Type {
		return false
	}
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == p.DocumentID {
			return true
		}
	}
	return false
}

// Overfetch is how many candidates remote backends request so tie-breaking
// stays deterministic after the final sort.
func Overfetch(topK int) int {
	return topK * 2
}

// MaxOverfetch bounds how far FetchTopK widens a page while chasing a tie
// at the cutoff.
const MaxOverfetch = 4096

// FetchTopK runs search with a page of Overfetch(topK) candidates and widens
// the page while its last candidate ties with the topK-th one, since more
// points sharing that score may sit beyond the page and the lowest chunk
// indexes must win.
func FetchTopK(topK int, search func(limit int) ([]ScoredPoint, error)) ([]ScoredPoint, error) {
	limit := Overfetch(topK)
	for {
		results, err := search(limit)
		if err != nil {
			return nil, err
		}
		SortResults(results)
		if !tieAtCutoff(results, limit, topK) || limit >= MaxOverfetch {
			return Truncate(results, topK), nil
		}
		limit = min(limit*4, MaxOverfetch)
	}
}

func tieAtCutoff(sorted []ScoredPoint, limit, topK int) bool {
	if topK <= 0 || len(sorted) < limit || len(sorted) <= topK {
		return false
	}
	return sorted[len(sorted)-1].Score == sorted[topK-1].Score
}

func Truncate(results []ScoredPoint, topK int) []ScoredPoint {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
