package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is append-only. Seq is strictly increasing within a session and
// defines the canonical order.
type Message struct {
	ID        string                         `gorm:"primaryKey;size:36" json:"id"`
	SessionID string                         `gorm:"size:36;not null;uniqueIndex:idx_message_session_seq,priority:1;index:idx_message_session_created,priority:1" json:"session_id"`
	Seq       int64                          `gorm:"not null;uniqueIndex:idx_message_session_seq,priority:2" json:"seq"`
	Role      string                         `gorm:"size:16;not null" json:"role"`
	Content   string                         `gorm:"type:text;not null" json:"content"`
	Sources   datatypes.JSONType[SourceList] `json:"sources"`
	CreatedAt time.Time                      `gorm:"not null;index:idx_message_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
