package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage is one line of a document's room transcript. SenderID is nil
// for assistant messages. Rows are insert-only and ordered by the room
// sequencer, so CreatedAt plus insertion order is the canonical history.
type ChatMessage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	SenderID *uuid.UUID `gorm:"type:uuid;column:sender_id;index" json:"sender_id,omitempty"`
	Text     string     `gorm:"column:text;type:text;not null" json:"text"`
	IsAI     bool       `gorm:"column:is_ai;not null;default:false" json:"is_ai"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_message" }

func (m *ChatMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
