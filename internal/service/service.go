// Package service is the job-facing facade over the extraction engine:
// synchronous runs, queued jobs, cron schedules, records and aliases.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/clock/system"
	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/id/uuid"
	"github.com/JakeFAU/scholar-crawler/internal/scheduler"
)

// ErrInvalidInput marks caller mistakes: unknown provider, bad collection,
// empty identifiers.
var ErrInvalidInput = eris.New("invalid input")

// Enqueuer accepts queued jobs. Both the run queue and the dispatcher satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Deps bundles the Service collaborators.
type Deps struct {
	Store    crawler.Store
	Jobs     crawler.JobStore
	Runner   crawler.Runner
	Queue    Enqueuer
	Registry *crawler.Registry
	Clock    crawler.Clock
}

// Service implements the public operations of the crawler.
type Service struct {
	deps            Deps
	defaultProvider string
	scheduler       *scheduler.Scheduler
	ids             *uuid.Generator
	logger          *zap.Logger
}

// New validates deps. defaultProvider is used when callers omit a tag.
func New(defaultProvider string, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("runner is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("provider registry is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		deps:            deps,
		defaultProvider: defaultProvider,
		ids:             uuid.New(),
		logger:          logger.Named("service"),
	}
	s.scheduler = scheduler.New(s, logger)
	return s, nil
}

// Start begins firing cron schedules.
func (s *Service) Start() {
	s.scheduler.Start()
}

// Stop halts the scheduler.
func (s *Service) Stop(ctx context.Context) error {
	return s.scheduler.Stop(ctx)
}

// RunExtraction loads the profile and runs one extraction synchronously.
// It always returns a terminal result.
func (s *Service) RunExtraction(ctx context.Context, profileID, providerTag string) crawler.RunResult {
	now := s.deps.Clock.Now()
	providerTag = s.provider(providerTag)
	profile, err := s.deps.Store.GetProfile(ctx, profileID)
	if err != nil {
		s.logger.Warn("extraction rejected", zap.String("profile_id", profileID), zap.Error(err))
		return crawler.RunResult{
			ProfileID:  profileID,
			Provider:   providerTag,
			Status:     crawler.RunFailed,
			Phase:      crawler.PhaseDone,
			Message:    fmt.Sprintf("Profile %s could not be loaded: %v", profileID, err),
			StartedAt:  now,
			FinishedAt: now,
			Err:        err,
		}
	}
	return s.deps.Runner.Run(ctx, profile, providerTag)
}

// Submit queues an extraction and returns its job ID.
func (s *Service) Submit(ctx context.Context, profileID, providerTag string) (string, error) {
	return s.submit(ctx, "", profileID, providerTag)
}

// SubmitScheduled queues an extraction on behalf of a cron schedule.
func (s *Service) SubmitScheduled(ctx context.Context, scheduleID, profileID, providerTag string) (string, error) {
	return s.submit(ctx, scheduleID, profileID, providerTag)
}

func (s *Service) submit(ctx context.Context, scheduleID, profileID, providerTag string) (string, error) {
	providerTag = s.provider(providerTag)
	if err := s.checkTarget(ctx, profileID, providerTag); err != nil {
		return "", err
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	now := s.deps.Clock.Now()
	job := crawler.Job{
		ID:         jobID,
		ProfileID:  profileID,
		Provider:   providerTag,
		ScheduleID: scheduleID,
		Status:     crawler.JobStatusPending,
		Submitted:  now,
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := crawler.QueueItem{
		JobID:     jobID,
		ProfileID: profileID,
		Provider:  providerTag,
		Submitted: now.UnixMilli(),
	}
	if err := s.deps.Queue.Enqueue(ctx, item); err != nil {
		detail := fmt.Sprintf("enqueue failed: %v", err)
		if uerr := s.deps.Jobs.UpdateJobStatus(context.WithoutCancel(ctx), jobID, crawler.JobStatusError, detail, nil); uerr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("profile_id", profileID),
		zap.String("provider", providerTag),
		zap.String("schedule_id", scheduleID),
	)
	return jobID, nil
}

// CheckStatus returns the job with its pending|running|done|error status.
func (s *Service) CheckStatus(ctx context.Context, jobID string) (crawler.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return crawler.Job{}, eris.Wrap(ErrInvalidInput, "job id is required")
	}
	job, err := s.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Schedule registers a recurring extraction for profileID.
func (s *Service) Schedule(ctx context.Context, profileID, providerTag, spec string) (scheduler.Schedule, error) {
	providerTag = s.provider(providerTag)
	if err := s.checkTarget(ctx, profileID, providerTag); err != nil {
		return scheduler.Schedule{}, err
	}
	sch, err := s.scheduler.Add(profileID, providerTag, spec)
	if err != nil {
		return scheduler.Schedule{}, eris.Wrapf(ErrInvalidInput, "%v", err)
	}
	return sch, nil
}

// Unschedule removes a recurring extraction.
func (s *Service) Unschedule(scheduleID string) error {
	return s.scheduler.Remove(scheduleID)
}

// Schedules lists the registered recurring extractions.
func (s *Service) Schedules() []scheduler.Schedule {
	return s.scheduler.List()
}

// ListRecords returns one collection of a profile's stored records.
func (s *Service) ListRecords(ctx context.Context, profileID string, collection crawler.Collection) ([]crawler.Record, error) {
	if !collection.Valid() {
		return nil, eris.Wrapf(ErrInvalidInput, "unknown collection %q", collection)
	}
	if _, err := s.deps.Store.GetProfile(ctx, profileID); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	records, err := s.deps.Store.ListRecords(ctx, profileID, collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// StoreAliases replaces the profile's confirmed aliases.
func (s *Service) StoreAliases(ctx context.Context, profileID string, aliases []string) error {
	cleaned := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	if err := s.deps.Store.StoreAliases(ctx, profileID, cleaned); err != nil {
		return fmt.Errorf("store aliases: %w", err)
	}
	s.logger.Info("aliases stored", zap.String("profile_id", profileID), zap.Int("count", len(cleaned)))
	return nil
}

// Profile returns a stored profile.
func (s *Service) Profile(ctx context.Context, profileID string) (crawler.Profile, error) {
	profile, err := s.deps.Store.GetProfile(ctx, profileID)
	if err != nil {
		return crawler.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

func (s *Service) provider(tag string) string {
	if tag = strings.TrimSpace(tag); tag != "" {
		return tag
	}
	return s.defaultProvider
}

func (s *Service) checkTarget(ctx context.Context, profileID, providerTag string) error {
	if strings.TrimSpace(profileID) == "" {
		return eris.Wrap(ErrInvalidInput, "profile id is required")
	}
	if _, err := s.deps.Registry.New(providerTag); err != nil {
		return eris.Wrapf(ErrInvalidInput, "provider %q is not registered", providerTag)
	}
	if _, err := s.deps.Store.GetProfile(ctx, profileID); err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	return nil
}

