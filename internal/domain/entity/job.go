package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SourceKind string

const (
	SourceLocal     SourceKind = "local"
	SourceRemoteURL SourceKind = "remote-url"
)

const DefaultProfile = "balanced"

type Job struct {
	ID             uuid.UUID                   `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID        uuid.UUID                   `gorm:"not null;type:uuid;index" json:"-"`
	SourceKind     SourceKind                  `gorm:"not null;type:text" json:"sourceType"`
	SourceLocation string                      `gorm:"not null" json:"sourceUri"`
	Modes          datatypes.JSONSlice[string] `gorm:"not null" json:"instrumentModes"`
	Profile        string                      `gorm:"not null;default:balanced" json:"modelProfile"`
	Status         JobStatus                   `gorm:"not null;type:text;index" json:"status"`
	Progress       float64                     `gorm:"not null;default:0" json:"progress"`
	ErrorMessage   *string                     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time                   `gorm:"not null;index" json:"createdAt"`
	UpdatedAt      time.Time                   `gorm:"not null" json:"updatedAt"`
}

func (Job) TableName() string { return "transcription_jobs" }

// Snapshot captures the submission parameters handed to the pipeline.
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		Source:  Source{Kind: j.SourceKind, Location: j.SourceLocation},
		Modes:   append([]string(nil), j.Modes...),
		Profile: j.Profile,
	}
}

type Source struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location"`
}

type JobSnapshot struct {
	Source  Source   `json:"source"`
	Modes   []string `json:"modes"`
	Profile string   `json:"profile"`
}

type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// Transition is a requested move of a job into To.
type Transition struct {
	To           JobStatus
	Progress     *float64
	ErrorMessage string
}

// StatusSnapshot is the cached view served by the status endpoint.
type StatusSnapshot struct {
	JobID     uuid.UUID `json:"jobId"`
	OwnerID   uuid.UUID `json:"-"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (j *Job) StatusSnapshot() StatusSnapshot {
	return StatusSnapshot{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		Status:    j.Status,
		Progress:  j.Progress,
		UpdatedAt: j.UpdatedAt,
	}
}
