package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job lifecycle states. A job ends in done or dead; failed jobs are
// re-claimed until the attempt bound is hit.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobFailed  = "failed"
	JobDone    = "done"
	JobDead    = "dead"
)

const JobTypeDocumentIngest = "document_ingest"

type JobRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobType    string     `gorm:"column:job_type;not null;index" json:"job_type"`
	DocumentID *uuid.UUID `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`

	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

// IDs are generated client side so every supported driver gets one.
func (j *JobRun) BeforeCreate(*gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
