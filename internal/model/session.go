package model

import "time"

type Session struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Name            string    `gorm:"size:128;not null" json:"name"`
	ModelPreference string    `gorm:"size:128" json:"model_preference"`
	EmbeddingModel  string    `gorm:"size:128" json:"embedding_model,omitempty"`
	Temperature     float32   `gorm:"not null" json:"temperature"`
	ContextWindow   int       `gorm:"not null" json:"context_window_length"`
	IsActive        bool      `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	// LastActivity only moves when messages are appended.
	LastActivity time.Time `gorm:"not null;index" json:"last_activity"`
	MessageCount int64     `gorm:"-" json:"message_count"`
}

func (Session) TableName() string { return "chat_sessions" }
