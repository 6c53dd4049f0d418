package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-rag/internal/model"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// CreateIfAbsent inserts the collection unless the name is taken. The primary
// key makes this a database-level compare-and-set: created is false when
// another writer got there first.
func (r *CollectionRepository) CreateIfAbsent(ctx context.Context, collection *model.Collection) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(collection)
	if res.Error != nil {
		return false, fmt.Errorf("create collection failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *CollectionRepository) GetByName(ctx context.Context, name string) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection failed: %w", err)
	}
	return &collection, nil
}

func (r *CollectionRepository) List(ctx context.Context) ([]model.Collection, error) {
	var collections []model.Collection
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return collections, nil
}

func (r *CollectionRepository) Delete(ctx context.Context, name string) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).Delete(&model.Collection{}).Error; err != nil {
		return fmt.Errorf("delete collection failed: %w", err)
	}
	return nil
}
