package crawler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pageURL = "https://example.test/search"

func testPolicy() FetchPolicy {
	return FetchPolicy{MaxRetries: 3, RetryDelayMin: 6 * time.Second, RetryDelayMax: 10 * time.Second}
}

func TestFetcher_ExhaustionReturnsLastResult(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.script(pageURL,
		scriptedResponse{status: http.StatusInternalServerError, body: "first"},
		scriptedResponse{status: http.StatusBadGateway, body: "second"},
		scriptedResponse{status: http.StatusServiceUnavailable, body: "third"},
	)
	sleeper := &recordingSleeper{}
	f := NewFetcher(transport, &lineProvider{}, nil, zap.NewNop(), WithSleeper(sleeper))

	result, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Page: 1}, testPolicy())

	require.ErrorIs(t, err, ErrFetchRetryExhausted)
	require.Len(t, transport.calls(), 3)
	require.Equal(t, "third", string(result.Body))
	require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	require.Equal(t, ClassRetryable, result.Class)
	require.Equal(t, 3, result.Attempt)
	require.True(t, result.Failed())
	require.Len(t, sleeper.waits, 2)
	for _, d := range sleeper.waits {
		require.GreaterOrEqual(t, d, 6*time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestFetcher_CaptchaRotatesThenSucceeds(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.script(pageURL,
		scriptedResponse{status: http.StatusOK, body: "CAPTCHA"},
		scriptedResponse{status: http.StatusOK, body: "1|ok|A"},
	)
	rotator := &fakeRotator{}
	f := NewFetcher(transport, &lineProvider{}, rotator, zap.NewNop(), WithSleeper(&recordingSleeper{}))

	result, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Page: 1}, testPolicy())

	require.NoError(t, err)
	require.Equal(t, 1, rotator.rotated)
	require.Len(t, transport.calls(), 2)
	require.Equal(t, ClassNone, result.Class)
	require.Equal(t, 2, result.Attempt)
}

func TestFetcher_BlockedOnLastAttemptStillRotates(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.script(pageURL, scriptedResponse{status: http.StatusOK, body: "CAPTCHA"})
	rotator := &fakeRotator{err: errors.New("control port closed")}
	f := NewFetcher(transport, &lineProvider{}, rotator, zap.NewNop(), WithSleeper(&recordingSleeper{}))

	result, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Page: 1}, testPolicy())

	require.ErrorIs(t, err, ErrFetchRetryExhausted)
	require.Equal(t, ClassBlocked, result.Class)
	require.ErrorIs(t, result.Err, ErrBlockDetected)
	require.Equal(t, 3, rotator.rotated)
}

func TestFetcher_TransportErrorIsRetryable(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.script(pageURL,
		scriptedResponse{err: errors.New("connection reset")},
		scriptedResponse{status: http.StatusOK, body: "fine"},
	)
	f := NewFetcher(transport, &lineProvider{}, nil, nil, WithSleeper(&recordingSleeper{}))

	result, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Page: 1}, testPolicy())

	require.NoError(t, err)
	require.Equal(t, "fine", string(result.Body))
}

func TestFetcher_ArchivesEveryAttempt(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ws, err := NewWorkspace(root, "scholar", "p1", nil)
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.script(pageURL,
		scriptedResponse{status: http.StatusTooManyRequests, body: "slow down"},
		scriptedResponse{status: http.StatusOK, body: "results"},
	)
	f := NewFetcher(transport, &lineProvider{}, nil, nil,
		WithSleeper(&recordingSleeper{}), WithAttemptSink(ws))

	result, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Page: 2}, testPolicy())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(ws.Dir(), "page-2-attempt-2.html"), result.SavePath)

	retry, err := os.ReadFile(filepath.Join(ws.Dir(), "page-2-retry-1.html"))
	require.NoError(t, err)
	require.Equal(t, "slow down", string(retry))
}

func TestFetcher_StopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(transport, &lineProvider{}, nil, nil)

	_, err := f.Fetch(ctx, FetchRequest{URL: pageURL, Page: 1}, testPolicy())

	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, transport.calls())
}

func TestAttemptFileName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		req     FetchRequest
		attempt int
		class   ErrorClass
		want    string
	}{
		{"first success", FetchRequest{Page: 1}, 1, ClassNone, "page-1.html"},
		{"success after retry", FetchRequest{Page: 3}, 2, ClassNone, "page-3-attempt-2.html"},
		{"intermediate failure", FetchRequest{Page: 1}, 1, ClassBlocked, "page-1-retry-1.html"},
		{"final failure", FetchRequest{Page: 1}, 3, ClassRetryable, "page-1-error-3.html"},
		{"warm-up", FetchRequest{Page: 0, Label: "home"}, 1, ClassNone, "warmup-home.html"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, attemptFileName(tc.req, tc.attempt, 3, tc.class))
		})
	}
}
