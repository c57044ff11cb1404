package crawler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the lifecycle state of an asynchronous run.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// ErrJobNotFound is returned by job stores for unknown IDs.
var ErrJobNotFound = eris.New("job not found")

// ErrQueueClosed is returned by queues that no longer hand out work.
var ErrQueueClosed = eris.New("queue closed")

// Job tracks one asynchronous extraction.
type Job struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profile_id"`
	Provider   string     `json:"provider"`
	ScheduleID string     `json:"schedule_id,omitempty"`
	Status     JobStatus  `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	Submitted  time.Time  `json:"submitted_at"`
	Started    *time.Time `json:"started_at,omitempty"`
	Finished   *time.Time `json:"finished_at,omitempty"`
	Result     *RunResult `json:"result,omitempty"`
}

// QueueItem is the payload placed on the run queue.
type QueueItem struct {
	JobID     string
	ProfileID string
	Provider  string
	Submitted int64
}

// Queue feeds jobs to workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobStore persists job lifecycle metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, detail string, result *RunResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}
