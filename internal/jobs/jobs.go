// Package jobs defines the asynchronous ingestion job model and the queue
// abstractions the API and worker services share.
package jobs

import (
	"context"
	"time"

	"github.com/spendflow/spendflow/internal/pipeline"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// IngestStatementJob is one statement batch queued for ingestion. Source is a
// local path or a gs:// URI.
type IngestStatementJob struct {
	JobID    string `json:"job_id"`
	Source   string `json:"source"`
	Filename string `json:"filename"`

	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Result is the pipeline summary of the last attempt, including partial
	// results of failed runs.
	Result *pipeline.RunResult `json:"result,omitempty"`
}

// Handler processes one job. A returned error marks the attempt failed and
// eligible for retry.
type Handler func(ctx context.Context, job *IngestStatementJob) error

// Publisher enqueues ingestion jobs.
type Publisher interface {
	PublishIngest(ctx context.Context, job *IngestStatementJob) error
	Close() error
}

// Consumer drains ingestion jobs.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Store tracks job state for status queries.
type Store interface {
	SaveJob(ctx context.Context, job *IngestStatementJob) error
	GetJob(ctx context.Context, jobID string) (*IngestStatementJob, error)
	ListJobs(ctx context.Context, filter Filter) ([]*IngestStatementJob, error)
}

// Filter narrows ListJobs results.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}
