package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Document processing states. Only the ingestion pipeline moves a document
// past DocumentUnprocessed.
const (
	DocumentUnprocessed = "unprocessed"
	DocumentProcessing  = "processing"
	DocumentProcessed   = "processed"
	DocumentFailed      = "failed"
)

type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`

	Title        string `gorm:"column:title;not null" json:"title"`
	OriginalName string `gorm:"column:original_name" json:"original_name"`
	MimeType     string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64  `gorm:"column:size_bytes" json:"size_bytes"`
	StorageKey   string `gorm:"column:storage_key" json:"storage_key"`
	// RawData backs the database blob store when no bucket is configured.
	RawData []byte `gorm:"column:raw_data;type:bytea" json:"-"`

	Status  string         `gorm:"column:status;not null;default:'unprocessed';index" json:"status"`
	Summary *string        `gorm:"column:summary;type:text" json:"summary,omitempty"`
	Topics  datatypes.JSON `gorm:"column:topics;type:jsonb" json:"topics"`
	Views   int64          `gorm:"column:views;not null;default:0" json:"views"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
