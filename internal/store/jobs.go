package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType is the kind of work a job performs.
type JobType string

const (
	JobIngestFiles JobType = "ingest_files"
	JobIngestURL   JobType = "ingest_url"
	JobIngestVideo JobType = "ingest_video"
	JobIngestText  JobType = "ingest_text"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one persisted unit of background work.
type Job struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             string          `json:"user_id"`
	CollectionID       uuid.UUID       `json:"collection_id"`
	Type               JobType         `json:"type"`
	Status             JobStatus       `json:"status"`
	InputData          json.RawMessage `json:"input_data,omitempty"`
	ProcessingOptions  json.RawMessage `json:"processing_options,omitempty"`
	ResultData         json.RawMessage `json:"result_data,omitempty"`
	ProgressPercent    int             `json:"progress_percent"`
	CurrentStep        string          `json:"current_step,omitempty"`
	TotalSteps         *int            `json:"total_steps,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	DocumentsProcessed int             `json:"documents_processed"`
	ChunksCreated      int             `json:"chunks_created"`
	EstimatedSeconds   *int            `json:"estimated_seconds,omitempty"` // UI hint only
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	ProcessingTimeSecs *float64        `json:"processing_time_seconds,omitempty"`
}

// JobListOpts filters a job listing. UserID empty means all users
// (service actors only).
type JobListOpts struct {
	UserID string
	Status *JobStatus
	Limit  int
	Offset int
}

// JobStore persists jobs.
type JobStore interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, opts JobListOpts) ([]Job, int, error)
	// MarkProcessing transitions pending→processing and stamps started_at.
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// UpdateProgress updates current_step and progress_percent.
	UpdateProgress(ctx context.Context, id uuid.UUID, step string, percent int) error
	// Complete writes result_data and counters, transitions to completed.
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, docs, chunks int, completedAt time.Time) error
	// Fail transitions to failed with an error message.
	Fail(ctx context.Context, id uuid.UUID, msg string, completedAt time.Time) error
	// Cancel transitions to cancelled. ok is false if the job was already
	// terminal.
	Cancel(ctx context.Context, id uuid.UUID, completedAt time.Time) (ok bool, err error)
}
