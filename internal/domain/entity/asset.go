package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	FormatMIDI     = "midi"
	FormatMusicXML = "musicxml"
	FormatPDF      = "pdf"
)

// Asset is a published output. At most one exists per (job, category, format).
type Asset struct {
	ID              uuid.UUID `gorm:"primaryKey;type:uuid" json:"id"`
	JobID           uuid.UUID `gorm:"not null;type:uuid;uniqueIndex:uq_score_assets_job_instrument_format,priority:1" json:"jobId"`
	Category        string    `gorm:"column:instrument;not null;uniqueIndex:uq_score_assets_job_instrument_format,priority:2" json:"instrument"`
	Format          string    `gorm:"not null;type:text;uniqueIndex:uq_score_assets_job_instrument_format,priority:3" json:"format"`
	Location        string    `gorm:"column:storage_object_path;not null" json:"storageObjectPath"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
	PageCount       *int      `json:"pageCount,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"createdAt"`
	DownloadURL     string    `gorm:"-" json:"downloadUrl,omitempty"`
}

func (Asset) TableName() string { return "score_assets" }
