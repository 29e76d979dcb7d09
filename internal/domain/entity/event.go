package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Stage codes appended by submission and the pipeline.
const (
	StageSubmitted       = "submitted"
	StageAudioIngest     = "audio_ingest"
	StageTranscribeStart = "transcribe_start"
	StageRenderStart     = "render_start"
	StagePublished       = "published"
	StageFailed          = "failed"
)

// Event is one immutable entry of a job's timeline.
type Event struct {
	ID        uuid.UUID         `gorm:"primaryKey;type:uuid" json:"id"`
	JobID     uuid.UUID         `gorm:"not null;type:uuid;index:ix_job_events_job_id_created_at,priority:1" json:"jobId"`
	Stage     string            `gorm:"not null" json:"stage"`
	Message   *string           `json:"message,omitempty"`
	Payload   datatypes.JSONMap `json:"payload,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index:ix_job_events_job_id_created_at,priority:2" json:"createdAt"`
}

func (Event) TableName() string { return "job_events" }

func (e *Event) Cursor() Cursor {
	return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Cursor is a position in a job's event history.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Before reports whether c sorts strictly before o in (created_at, id) order.
func (c Cursor) Before(o Cursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.ID.String() < o.ID.String()
}

// NewEvent is the input of an append.
type NewEvent struct {
	JobID   uuid.UUID
	Stage   string
	Message string
	Payload map[string]any
}
