// Package worker implements the queued extraction execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

// Extractor runs one extraction for a stored profile.
type Extractor interface {
	RunExtraction(ctx context.Context, profileID, providerTag string) crawler.RunResult
}

// Worker consumes queue items and executes extraction runs.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	extractor Extractor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	extractor Extractor,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		extractor: extractor,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(
		zap.String("job_id", item.JobID),
		zap.String("profile_id", item.ProfileID),
		zap.String("provider", item.Provider),
	)
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", nil); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	result := w.extractor.RunExtraction(crawler.WithJobID(ctx, item.JobID), item.ProfileID, item.Provider)
	status := finalStatus(result)

	// The run finalizes even when ctx is canceled; its job row must follow.
	if err := w.jobStore.UpdateJobStatus(
		context.WithoutCancel(ctx),
		item.JobID,
		status,
		result.Message,
		&result,
	); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.String("run_status", string(result.Status)),
		zap.Int("records", result.RecordCount),
	)
}

func finalStatus(result crawler.RunResult) crawler.JobStatus {
	if result.Status == crawler.RunFailed {
		return crawler.JobStatusError
	}
	return crawler.JobStatusDone
}
