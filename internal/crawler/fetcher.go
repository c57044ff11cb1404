package crawler

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/metrics"
)

// BlockChecker recognizes captcha/block pages.
type BlockChecker interface {
	CheckBlocked(result FetchResult) bool
}

// Pacer delays requests to keep per-domain volume low.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher performs a request with bounded retries, rotating identity when a
// block page is detected.
type Fetcher struct {
	transport Transport
	blocks    BlockChecker
	rotator   IdentityRotator
	sink      AttemptSink
	sleeper   Sleeper
	pacer     Pacer
	logger    *zap.Logger
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithSleeper replaces the context-aware sleeper used between retries.
func WithSleeper(s Sleeper) FetcherOption {
	return func(f *Fetcher) { f.sleeper = s }
}

// WithPacer installs a pacer consulted before every attempt.
func WithPacer(p Pacer) FetcherOption {
	return func(f *Fetcher) { f.pacer = p }
}

// WithAttemptSink archives each attempt's body.
func WithAttemptSink(s AttemptSink) FetcherOption {
	return func(f *Fetcher) { f.sink = s }
}

// NewFetcher builds a Fetcher. rotator may be nil when no identity rotation
// is configured.
func NewFetcher(
	transport Transport,
	blocks BlockChecker,
	rotator IdentityRotator,
	logger *zap.Logger,
	opts ...FetcherOption,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		transport: transport,
		blocks:    blocks,
		rotator:   rotator,
		sleeper:   contextSleeper{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs attempts 1..policy.MaxRetries and returns the last result. When
// no attempt succeeds the error wraps ErrFetchRetryExhausted.
func (f *Fetcher) Fetch(ctx context.Context, request FetchRequest, policy FetchPolicy) (FetchResult, error) {
	policy = policy.normalized()
	var last FetchResult
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, eris.Wrap(err, "fetch interrupted")
		}
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, request.URL); err != nil {
				return last, eris.Wrap(err, "pacing wait")
			}
		}

		last = f.attempt(ctx, request, policy)
		last.Attempt = attempt
		metrics.ObserveFetchAttempt(last.Class.String())
		f.archive(ctx, request, &last, policy.MaxRetries)

		if last.Class == ClassNone {
			return last, nil
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", request.URL),
			zap.Int("page", request.Page),
			zap.Int("attempt", attempt),
			zap.Int("status_code", last.StatusCode),
			zap.String("class", last.Class.String()),
			zap.Error(last.Err),
		)
		if last.Class == ClassBlocked {
			f.rotate(ctx)
		}
		if attempt < policy.MaxRetries {
			if err := f.sleeper.Sleep(ctx, policy.RetryDelay()); err != nil {
				return last, eris.Wrap(err, "retry backoff interrupted")
			}
		}
	}
	return last, eris.Wrapf(ErrFetchRetryExhausted, "page %d after %d attempts (%s)",
		request.Page, last.Attempt, last.Class)
}

func (f *Fetcher) attempt(ctx context.Context, request FetchRequest, policy FetchPolicy) FetchResult {
	result, err := f.transport.Do(ctx, request, policy.Proxy)
	if err != nil {
		result.Err = err
		result.Class = ClassRetryable
		return result
	}
	switch {
	case f.blocks != nil && f.blocks.CheckBlocked(result):
		result.Class = ClassBlocked
		result.Err = ErrBlockDetected
	case result.StatusCode >= http.StatusBadRequest:
		result.Class = ClassRetryable
	default:
		result.Class = ClassNone
	}
	return result
}

func (f *Fetcher) archive(ctx context.Context, request FetchRequest, result *FetchResult, maxRetries int) {
	if f.sink == nil {
		return
	}
	name := attemptFileName(request, result.Attempt, maxRetries, result.Class)
	path, err := f.sink.SaveAttempt(ctx, name, result.Body)
	if err != nil {
		f.logger.Warn("failed to archive attempt body", zap.String("name", name), zap.Error(err))
		return
	}
	result.SavePath = path
}

func (f *Fetcher) rotate(ctx context.Context) {
	metrics.ObserveCaptcha()
	if f.rotator == nil {
		return
	}
	if err := f.rotator.Rotate(ctx); err != nil {
		metrics.ObserveRotation("error")
		f.logger.Error("identity rotation failed", zap.Error(err))
		return
	}
	metrics.ObserveRotation("ok")
}
