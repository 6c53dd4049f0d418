package model

import "time"

// Collection binds a name to exactly one embedding model for its lifetime.
type Collection struct {
	Name           string    `gorm:"primaryKey;size:128" json:"name"`
	EmbeddingModel string    `gorm:"size:128;not null" json:"embedding_model"`
	Provider       string    `gorm:"size:32;not null" json:"provider"`
	Dimension      int       `gorm:"not null" json:"dimension"`
	Description    string    `gorm:"size:512" json:"description"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Collection) TableName() string { return "rag_collections" }
