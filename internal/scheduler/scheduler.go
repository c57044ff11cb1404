// Package scheduler submits recurring extraction jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/id/uuid"
)

const submitTimeout = 30 * time.Second

// ErrScheduleNotFound is returned when removing an unknown schedule.
var ErrScheduleNotFound = eris.New("schedule not found")

// Submitter enqueues one job on behalf of a schedule.
type Submitter interface {
	SubmitScheduled(ctx context.Context, scheduleID, profileID, providerTag string) (string, error)
}

// Schedule is one recurring extraction.
type Schedule struct {
	ID        string     `json:"id"`
	ProfileID string     `json:"profile_id"`
	Provider  string     `json:"provider"`
	Cron      string     `json:"cron"`
	Next      *time.Time `json:"next_run,omitempty"`
}

type entry struct {
	schedule Schedule
	cronID   cron.EntryID
}

// Scheduler wraps a cron runner keyed by schedule ID.
type Scheduler struct {
	cron   *cron.Cron
	submit Submitter
	ids    *uuid.Generator
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// New builds a stopped Scheduler.
func New(submit Submitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{s: logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		submit:  submit,
		ids:     uuid.New(),
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Add registers a standard five-field cron spec (or a descriptor such as
// "@daily") for profileID.
func (s *Scheduler) Add(profileID, providerTag, spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if profileID == "" {
		return Schedule{}, fmt.Errorf("profile id is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return Schedule{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	sch := Schedule{
		ID:        s.ids.MustID(),
		ProfileID: profileID,
		Provider:  providerTag,
		Cron:      spec,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cronID, err := s.cron.AddFunc(spec, func() { s.fire(sch) })
	if err != nil {
		return Schedule{}, fmt.Errorf("add cron entry: %w", err)
	}
	s.entries[sch.ID] = entry{schedule: sch, cronID: cronID}
	s.logger.Info("schedule added",
		zap.String("schedule_id", sch.ID),
		zap.String("profile_id", profileID),
		zap.String("cron", spec),
	)
	return s.withNext(sch, cronID), nil
}

// Remove unregisters a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return eris.Wrapf(ErrScheduleNotFound, "remove %s", id)
	}
	s.cron.Remove(e.cronID)
	delete(s.entries, id)
	s.logger.Info("schedule removed", zap.String("schedule_id", id))
	return nil
}

// List returns every schedule ordered by ID.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.withNext(e.schedule, e.cronID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running submissions or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) fire(sch Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	jobID, err := s.submit.SubmitScheduled(ctx, sch.ID, sch.ProfileID, sch.Provider)
	if err != nil {
		s.logger.Error("scheduled submit failed",
			zap.String("schedule_id", sch.ID),
			zap.String("profile_id", sch.ProfileID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled job submitted",
		zap.String("schedule_id", sch.ID),
		zap.String("job_id", jobID),
	)
}

func (s *Scheduler) withNext(sch Schedule, id cron.EntryID) Schedule {
	if next := s.cron.Entry(id).Next; !next.IsZero() {
		sch.Next = &next
	}
	return sch
}

// cronLogger routes cron's logr-style output into zap. Ticks are debug noise.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
