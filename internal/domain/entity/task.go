package entity

import "github.com/google/uuid"

type TaskName string

const (
	TaskOrchestrate TaskName = "pipeline.orchestrate"
	TaskIngest      TaskName = "pipeline.ingest"
	TaskTranscribe  TaskName = "pipeline.transcribe"
	TaskPublish     TaskName = "pipeline.publish"
)

// Tasks lists every task the worker consumes, in pipeline order.
var Tasks = []TaskName{TaskOrchestrate, TaskIngest, TaskTranscribe, TaskPublish}

// TaskMessage is the envelope published on the dispatch exchange. Stage
// results travel forward in the message rather than being re-read from the
// job row.
type TaskMessage struct {
	Task     TaskName      `json:"task"`
	JobID    uuid.UUID     `json:"job_id"`
	Attempt  int           `json:"attempt"`
	Snapshot JobSnapshot   `json:"snapshot"`
	Audio    *AudioSource  `json:"audio,omitempty"`
	Outputs  []StageOutput `json:"outputs,omitempty"`
}

// Next builds the message for the following stage, resetting the attempt counter.
func (m TaskMessage) Next(task TaskName) TaskMessage {
	next := m
	next.Task = task
	next.Attempt = 0
	return next
}

// AudioSource is the resolved input produced by the ingest stage.
type AudioSource struct {
	Kind        SourceKind `json:"kind"`
	Location    string     `json:"location"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
}

// StageOutput is one stored transcription output awaiting publication.
type StageOutput struct {
	Category        string `json:"category"`
	Format          string `json:"format"`
	Location        string `json:"location"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	PageCount       *int   `json:"page_count,omitempty"`
}
