package pgvector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	pgv "github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

type collectionRow struct {
	Name      string `gorm:"primaryKey;size:128"`
	Dimension int    `gorm:"not null"`
	CreatedAt time.Time
}

func (collectionRow) TableName() string { return "vector_collections" }

type pointRow struct {
	ID         string                                   `gorm:"primaryKey;size:36"`
	Collection string                                   `gorm:"size:128;not null;index:idx_vector_points_doc,priority:1"`
	DocumentID string                                   `gorm:"size:255;not null;index:idx_vector_points_doc,priority:2"`
	ChunkIndex int                                      `gorm:"not null"`
	Text       string                                   `gorm:"type:text;not null"`
	Metadata   datatypes.JSONType[vectorstore.Metadata] `gorm:"type:jsonb"`
	Embedding  pgv.Vector                               `gorm:"type:vector"`
}

func (pointRow) TableName() string { return "vector_points" }

func (r pointRow) payload() vectorstore.Payload {
	return vectorstore.Payload{
		DocumentID: r.DocumentID,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Metadata:   r.Metadata.Data(),
	}
}

type scoredRow struct {
	pointRow
	Score float32
}

// Store keeps points in PostgreSQL using the pgvector extension. The
// embedding column is untyped so collections of different dimensions share
// one table; dimensions are enforced through vector_collections.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension failed: %w", err)
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&collectionRow{}, &pointRow{}); err != nil {
		return fmt.Errorf("migrate vector tables failed: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errs.Validation("dimension must be positive").With("dimension", dimension)
	}
	row := collectionRow{Name: name, Dimension: dimension}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("create vector collection failed: %w", err)
	}
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if dim != dimension {
		return errs.DimensionMismatch(name, dim, dimension)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&collectionRow{})
		if res.Error != nil {
			return fmt.Errorf("delete vector collection failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.CollectionNotFound(name)
		}
		if err := tx.Where("collection = ?", name).Delete(&pointRow{}).Error; err != nil {
			return fmt.Errorf("delete vector points failed: %w", err)
		}
		return nil
	})
}

func (s *Store) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	rows := make([]pointRow, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dim {
			return errs.DimensionMismatch(name, dim, len(p.Vector))
		}
		rows = append(rows, pointRow{
			ID:         p.ID,
			Collection: name,
			DocumentID: p.Payload.DocumentID,
			ChunkIndex: p.Payload.ChunkIndex,
			Text:       p.Payload.Text,
			Metadata:   datatypes.NewJSONType(p.Payload.Metadata),
			Embedding:  pgv.NewVector(p.Vector),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		CreateInBatches(rows, 200).Error
	if err != nil {
		return fmt.Errorf("upsert vector points failed: %w", err)
	}
	return nil
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
	query := pgv.NewVector(vector)
	tx := s.db.WithContext(ctx).
		Model(&pointRow{}).
		Select("*, 1 - (embedding <=> ?) AS score", query).
		Where("collection = ?", name)
	if filter != nil {
		if len(filter.DocumentIDs) > 0 {
			tx = tx.Where("document_id IN ?", filter.DocumentIDs)
		}
		if filter.Type != "" {
			tx = tx.Where("metadata->>'type' = ?", filter.Type)
		}
	}
	var rows []scoredRow
	err := tx.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{query}}}).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query vector points failed: %w", err)
	}

	results := make([]vectorstore.ScoredPoint, 0, len(rows))
	for _, r := range rows {
		results = append(results, vectorstore.ScoredPoint{
			ID:      r.ID,
			Score:   r.Score,
			Payload: r.payload(),
		})
	}
	return results, nil
}

func (s *Store) DeleteDocument(ctx context.Context, name, documentID string) error {
	if _, err := s.dimension(ctx, name); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("collection = ? AND document_id = ?", name, documentID).Delete(&pointRow{}).Error; err != nil {
		return fmt.Errorf("delete document points failed: %w", err)
	}
	return nil
}

func (s *Store) DeletePoints(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("collection = ? AND id IN ?", name, ids).Delete(&pointRow{}).Error; err != nil {
		return fmt.Errorf("delete vector points failed: %w", err)
	}
	return nil
}

func (s *Store) DocumentPoints(ctx context.Context, name, documentID string) ([]vectorstore.Point, error) {
	if _, err := s.dimension(ctx, name); err != nil {
		return nil, err
	}
	var rows []pointRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND document_id = ?", name, documentID).
		Order("chunk_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load document points failed: %w", err)
	}
	out := make([]vectorstore.Point, 0, len(rows))
	for _, r := range rows {
		out = append(out, vectorstore.Point{ID: r.ID, Vector: r.Embedding.Slice(), Payload: r.payload()})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, name string) (int, error) {
	if _, err := s.dimension(ctx, name); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&pointRow{}).Where("collection = ?", name).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count vector points failed: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListDocuments(ctx context.Context, name string) ([]vectorstore.DocumentInfo, error) {
	if _, err := s.dimension(ctx, name); err != nil {
		return nil, err
	}
	var rows []struct {
		DocumentID string
		Chunks     int
		Metadata   datatypes.JSONType[vectorstore.Metadata]
	}
	err := s.db.WithContext(ctx).
		Model(&pointRow{}).
		Select("document_id, COUNT(*) AS chunks, (array_agg(metadata ORDER BY chunk_index))[1] AS metadata").
		Where("collection = ?", name).
		Group("document_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	out := make([]vectorstore.DocumentInfo, 0, len(rows))
	for _, r := range rows {
		meta := r.Metadata.Data()
		out = append(out, vectorstore.DocumentInfo{
			DocumentID: r.DocumentID,
			FileName:   meta.FileName,
			Type:       meta.Type,
			Chunks:     r.Chunks,
			CreatedAt:  meta.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *Store) dimension(ctx context.Context, name string) (int, error) {
	var row collectionRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errs.CollectionNotFound(name)
		}
		return 0, fmt.Errorf("get vector collection failed: %w", err)
	}
	return row.Dimension, nil
}
