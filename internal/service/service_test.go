package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/clock/system"
	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	queuememory "github.com/JakeFAU/scholar-crawler/internal/queue/memory"
	"github.com/JakeFAU/scholar-crawler/internal/storage/memory"
)

var submittedAt = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *memory.RecordStore
	jobs   *memory.JobStore
	queue  *queuememory.Queue
	runner *fakeRunner
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewRecordStore(crawler.Profile{
		ID:           "aturing",
		Name:         "Alan Turing",
		SearchHandle: "aturing",
		KnownAliases: []string{"AM Turing"},
	})
	jobs := memory.NewJobStore()
	queue := queuememory.NewQueue(4)
	runner := &fakeRunner{result: crawler.RunResult{Status: crawler.RunSucceeded, Message: "Process finished. Articles: 3"}}
	registry := crawler.NewRegistry()
	registry.Register("scholar", func() crawler.Provider { return nil })

	svc, err := New("scholar", Deps{
		Store:    store,
		Jobs:     jobs,
		Runner:   runner,
		Queue:    queue,
		Registry: registry,
		Clock:    system.Fixed(submittedAt),
	}, zap.NewNop())
	require.NoError(t, err)
	return fixture{svc: svc, store: store, jobs: jobs, queue: queue, runner: runner}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New("scholar", Deps{}, nil)
	require.Error(t, err)
}

func TestRunExtraction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.svc.RunExtraction(context.Background(), "aturing", "")
	require.Equal(t, crawler.RunSucceeded, res.Status)

	calls := f.runner.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "Alan Turing", calls[0].profile.Name)
	require.Equal(t, "scholar", calls[0].provider)
}

func TestRunExtraction_UnknownProfileFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.svc.RunExtraction(context.Background(), "nobody", "scholar")
	require.Equal(t, crawler.RunFailed, res.Status)
	require.ErrorIs(t, res.Err, crawler.ErrProfileNotFound)
	require.Contains(t, res.Message, "nobody")
	require.Empty(t, f.runner.snapshot())
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	jobID, err := f.svc.Submit(context.Background(), "aturing", "")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := f.svc.CheckStatus(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, job.Status)
	require.Equal(t, "scholar", job.Provider)
	require.Equal(t, submittedAt, job.Submitted)

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.QueueItem{
		JobID:     jobID,
		ProfileID: "aturing",
		Provider:  "scholar",
		Submitted: submittedAt.UnixMilli(),
	}, item)
}

func TestSubmitRejectsBadTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "", "scholar")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Submit(context.Background(), "aturing", "bing")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Submit(context.Background(), "nobody", "scholar")
	require.ErrorIs(t, err, crawler.ErrProfileNotFound)
	require.Zero(t, f.queue.Len())
}

func TestSubmitEnqueueFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.deps.Queue = failingQueue{}
	_, err := f.svc.Submit(context.Background(), "aturing", "scholar")
	require.Error(t, err)
}

func TestSubmitScheduledRecordsScheduleID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	jobID, err := f.svc.SubmitScheduled(context.Background(), "sched-1", "aturing", "scholar")
	require.NoError(t, err)
	job, err := f.svc.CheckStatus(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, "sched-1", job.ScheduleID)
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.CheckStatus(context.Background(), " ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CheckStatus(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestScheduleAndUnschedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Schedule(context.Background(), "aturing", "", "not a cron")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Schedule(context.Background(), "nobody", "", "@daily")
	require.ErrorIs(t, err, crawler.ErrProfileNotFound)

	sch, err := f.svc.Schedule(context.Background(), "aturing", "", "@daily")
	require.NoError(t, err)
	require.Equal(t, "scholar", sch.Provider)
	require.Len(t, f.svc.Schedules(), 1)

	require.NoError(t, f.svc.Unschedule(sch.ID))
	require.Error(t, f.svc.Unschedule(sch.ID))
	require.Empty(t, f.svc.Schedules())
}

func TestListRecordsAndAliases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertRecords(ctx, "aturing", crawler.CollectionOwned, []crawler.Record{
		{SourceID: "r1", Title: "On Computable Numbers", Authors: []string{"AM Turing"}},
	}))

	owned, err := f.svc.ListRecords(ctx, "aturing", crawler.CollectionOwned)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	others, err := f.svc.ListRecords(ctx, "aturing", crawler.CollectionOthers)
	require.NoError(t, err)
	require.Empty(t, others)

	_, err = f.svc.ListRecords(ctx, "aturing", "mine")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ListRecords(ctx, "nobody", crawler.CollectionOwned)
	require.ErrorIs(t, err, crawler.ErrProfileNotFound)

	require.NoError(t, f.svc.StoreAliases(ctx, "aturing", []string{" A Turing ", "", "AM Turing"}))
	profile, err := f.svc.Profile(ctx, "aturing")
	require.NoError(t, err)
	require.Equal(t, []string{"A Turing", "AM Turing"}, profile.KnownAliases)
}

type runCall struct {
	profile  crawler.Profile
	provider string
}

type fakeRunner struct {
	mu     sync.Mutex
	result crawler.RunResult
	calls  []runCall
}

func (f *fakeRunner) Run(_ context.Context, profile crawler.Profile, providerTag string) crawler.RunResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{profile: profile, provider: providerTag})
	return f.result
}

func (f *fakeRunner) snapshot() []runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runCall(nil), f.calls...)
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return errors.New("queue full")
}
