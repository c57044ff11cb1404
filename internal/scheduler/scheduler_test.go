package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddValidatesSpec(t *testing.T) {
	t.Parallel()

	s := New(&fakeSubmitter{}, zap.NewNop())

	_, err := s.Add("aturing", "scholar", "every tuesday")
	require.Error(t, err)
	_, err = s.Add("", "scholar", "@daily")
	require.Error(t, err)
	_, err = s.Add("aturing", "scholar", "* * * * * *")
	require.Error(t, err, "seconds field is not part of the standard cron format")
	require.Empty(t, s.List())
}

func TestAddListRemove(t *testing.T) {
	t.Parallel()

	s := New(&fakeSubmitter{}, nil)
	a, err := s.Add("aturing", "scholar", "0 3 * * *")
	require.NoError(t, err)
	b, err := s.Add("brussell", "scholar", " @weekly ")
	require.NoError(t, err)
	require.Equal(t, "@weekly", b.Cron)
	require.NotEqual(t, a.ID, b.ID)

	list := s.List()
	require.Len(t, list, 2)
	require.Equal(t, a.ID, list[0].ID)
	require.Equal(t, "brussell", list[1].ProfileID)

	require.NoError(t, s.Remove(a.ID))
	require.ErrorIs(t, s.Remove(a.ID), ErrScheduleNotFound)
	require.Len(t, s.List(), 1)
}

func TestRemoveUnknownKeepsSentinel(t *testing.T) {
	t.Parallel()

	s := New(&fakeSubmitter{}, nil)
	err := s.Remove("missing")
	require.Error(t, err)
	require.True(t, eris.Is(err, ErrScheduleNotFound))
	require.ErrorIs(t, err, ErrScheduleNotFound)
	require.Contains(t, err.Error(), "remove missing")
	require.Contains(t, eris.ToString(err, false), "schedule not found")
}

func TestStartedSchedulesReportNextRun(t *testing.T) {
	t.Parallel()

	s := New(&fakeSubmitter{}, zap.NewNop())
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	_, err := s.Add("aturing", "scholar", "@hourly")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		list := s.List()
		return len(list) == 1 && list[0].Next != nil && list[0].Next.After(time.Now())
	}, time.Second, 10*time.Millisecond)
}

func TestFireSubmitsScheduledJob(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	s := New(sub, zap.NewNop())
	sch, err := s.Add("aturing", "scholar", "@daily")
	require.NoError(t, err)

	s.fire(sch)
	sub.err = errors.New("queue full")
	s.fire(sch)

	calls := sub.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, [3]string{sch.ID, "aturing", "scholar"}, calls[0])
}

func TestStopHonorsContext(t *testing.T) {
	t.Parallel()

	s := New(&fakeSubmitter{}, zap.NewNop())
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	calls [][3]string
}

func (f *fakeSubmitter) SubmitScheduled(_ context.Context, scheduleID, profileID, providerTag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [3]string{scheduleID, profileID, providerTag})
	if f.err != nil {
		return "", f.err
	}
	return "job-1", nil
}

func (f *fakeSubmitter) snapshot() [][3]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][3]string(nil), f.calls...)
}
