package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

var _ crawler.JobStore = (*JobStore)(nil)

const (
	insertJobSQL = `INSERT INTO jobs (id, profile_id, provider, schedule_id, status, detail, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// started_at is set once; finished_at only for terminal states.
	updateJobSQL = `UPDATE jobs SET
	status = $2,
	detail = $3,
	result = COALESCE($4, result),
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('done', 'error') THEN $5 ELSE finished_at END
WHERE id = $1`

	selectJobSQL = `SELECT id, profile_id, provider, schedule_id, status, detail,
	submitted_at, started_at, finished_at, result
FROM jobs WHERE id = $1`
)

// JobStore persists job lifecycle rows in Postgres.
type JobStore struct {
	pool Pool
	now  func() time.Time
}

// NewJobStore wraps an open pool.
func NewJobStore(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	status := job.Status
	if status == "" {
		status = crawler.JobStatusPending
	}
	_, err := s.pool.Exec(ctx, insertJobSQL,
		job.ID,
		job.ProfileID,
		job.Provider,
		job.ScheduleID,
		string(status),
		job.Detail,
		job.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to status and stores the run outcome.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	detail string,
	result *crawler.RunResult,
) error {
	var payload []byte
	if result != nil {
		var err error
		if payload, err = json.Marshal(result); err != nil {
			return fmt.Errorf("marshal run result: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, updateJobSQL, jobID, string(status), detail, payload, s.now())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrJobNotFound, "job %q", jobID)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var (
		job     crawler.Job
		status  string
		payload []byte
	)
	err := s.pool.QueryRow(ctx, selectJobSQL, jobID).Scan(
		&job.ID,
		&job.ProfileID,
		&job.Provider,
		&job.ScheduleID,
		&status,
		&job.Detail,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, eris.Wrapf(crawler.ErrJobNotFound, "job %q", jobID)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if len(payload) > 0 {
		var result crawler.RunResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return crawler.Job{}, fmt.Errorf("decode run result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
