package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/id/uuid"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
)

const flushTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/scholar-crawler/internal/crawler")

type jobIDKey struct{}

// WithJobID tags ctx with the job that triggered a run; run events carry it.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job ID set by WithJobID.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// Deps bundles the collaborators an Engine drives.
type Deps struct {
	Registry  *Registry
	Transport Transport
	// Rotator is optional; leave it nil (untyped) when Tor is disabled.
	Rotator   IdentityRotator
	Store     Store
	Blobs     BlobStore
	Publisher Publisher
	Pacer     Pacer
	Locks     *RunLocks
	Sleeper   Sleeper
	Clock     Clock
}

// Engine orchestrates extraction runs: INIT, WARMUP, PAGING, FINALIZING, DONE.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewEngine validates cfg and deps and returns an Engine.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("provider registry is required")
	case deps.Transport == nil:
		return nil, fmt.Errorf("transport is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	}
	if deps.Locks == nil {
		deps.Locks = NewRunLocks()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = contextSleeper{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger.Named("engine")}, nil
}

// RunEvent is published after every finished run.
type RunEvent struct {
	RunID              string    `json:"run_id"`
	JobID              string    `json:"job_id,omitempty"`
	ProfileID          string    `json:"profile_id"`
	Provider           string    `json:"provider"`
	Status             RunStatus `json:"status"`
	RecordCount        int       `json:"record_count"`
	OwnedCount         int       `json:"owned_count"`
	OtherCount         int       `json:"other_count"`
	NewAliasCandidates []string  `json:"new_alias_candidates"`
	ArchiveURI         string    `json:"archive_uri,omitempty"`
	Message            string    `json:"message"`
	FinishedAt         time.Time `json:"finished_at"`
}

// run is the state of one execution. It is owned by a single goroutine.
type run struct {
	engine   *Engine
	profile  Profile
	provider Provider
	fetcher  *Fetcher
	policy   FetchPolicy
	state    *CrawlState
	aliases  *AliasSet
	seen     map[string]struct{}
	owned    []Record
	others   []Record
	result   *RunResult
	logger   *zap.Logger
}

// Run executes one extraction for profile with the provider registered
// under providerTag. It always returns a terminal RunResult.
func (e *Engine) Run(ctx context.Context, profile Profile, providerTag string) RunResult {
	res := RunResult{
		RunID:     newRunID(),
		ProfileID: profile.ID,
		Provider:  providerTag,
		Phase:     PhaseInit,
		StartedAt: e.deps.Clock.Now(),
	}
	ctx, span := tracer.Start(ctx, "crawler.Run", trace.WithAttributes(
		attribute.String("scholar.run_id", res.RunID),
		attribute.String("scholar.profile_id", profile.ID),
		attribute.String("scholar.provider", providerTag),
	))
	defer span.End()
	logger := e.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("profile_id", profile.ID),
		zap.String("provider", providerTag),
	)

	release, ok := e.deps.Locks.TryAcquire(profile.ID)
	if !ok {
		return e.finish(ctx, logger, res, RunFailed,
			eris.Wrapf(ErrRunInProgress, "profile %s", profile.ID),
			"Process aborted. An extraction is already running for this profile.")
	}
	defer release()
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	provider, err := e.deps.Registry.New(providerTag)
	if err != nil {
		return e.finish(ctx, logger, res, RunFailed, err, "Process aborted. Unknown provider.")
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	policy := e.cfg.Policy
	if e.deps.Rotator != nil {
		policy.Proxy = e.deps.Rotator.ProxyConfig(ctx)
	}
	if policy.Proxy == nil {
		if e.cfg.ProxyMandatory {
			res.Phase = PhaseProxyFailed
			return e.finish(ctx, logger, res, RunFailed,
				eris.Wrap(ErrProxyUnavailable, "proxy is mandatory"),
				"Process aborted. Proxy connection failure.")
		}
		if e.deps.Rotator != nil {
			logger.Warn("proxy unavailable, continuing without anonymization")
		}
	}

	ws, err := NewWorkspace(e.cfg.TempDir, e.cfg.RunTag, profile.ID, logger)
	if err != nil {
		return e.finish(ctx, logger, res, RunFailed, err, "Process aborted. Workspace unavailable.")
	}

	opts := []FetcherOption{WithSleeper(e.deps.Sleeper), WithAttemptSink(ws)}
	if e.deps.Pacer != nil {
		opts = append(opts, WithPacer(e.deps.Pacer))
	}
	r := &run{
		engine:   e,
		profile:  profile,
		provider: provider,
		fetcher:  NewFetcher(e.deps.Transport, provider, e.deps.Rotator, logger, opts...),
		policy:   policy,
		state:    NewCrawlState(),
		aliases:  NewAliasSet(profile),
		seen:     make(map[string]struct{}),
		result:   &res,
		logger:   logger,
	}

	if e.cfg.Warmup {
		res.Phase = PhaseWarmup
		r.warmup(ctx)
	}
	res.Phase = PhasePaging
	crawlErr := r.paginate(ctx)

	res.Phase = PhaseFinalizing
	status, message, runErr := r.verdict(ctx, crawlErr)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if status == RunFailed {
		ws.Discard()
	} else {
		uri, archiveErr := r.archive(flushCtx, ws)
		if archiveErr != nil {
			logger.Error("archive failed", zap.Error(archiveErr))
		}
		res.ArchiveURI = uri
	}
	if err := r.flush(flushCtx); err != nil {
		status = RunFailed
		runErr = errors.Join(runErr, err)
		message = fmt.Sprintf("Process failed. Results could not be saved. Articles found: %d", r.state.RecordCount)
	}

	if res.Phase != PhaseProxyFailed {
		res.Phase = PhaseDone
	}
	return e.finish(flushCtx, logger, res, status, runErr, message)
}

func (r *run) warmup(ctx context.Context) {
	for _, req := range r.provider.WarmupRequests(r.profile) {
		req.Page = 0
		r.decorate(&req)
		policy := r.policy
		policy.MaxRetries = 1
		result, err := r.fetcher.Fetch(ctx, req, policy)
		if err != nil {
			r.logger.Warn("warm-up request failed", zap.String("url", req.URL), zap.Error(err))
			continue
		}
		r.state.RememberCookies(responseCookies(result.Header))
		r.state.LastURL = lastURL(result, req)
	}
}

func (r *run) paginate(ctx context.Context) error {
	paginator := NewPaginator(r.provider, r.engine.cfg.MaxRecords, r.engine.cfg.MaxPages)
	req := r.provider.InitialRequest(r.profile)
	req.Page = r.state.Page
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.decorate(&req)
		pageCtx, span := tracer.Start(ctx, "crawler.FetchPage", trace.WithAttributes(
			attribute.Int("page", req.Page),
		))
		result, err := r.fetcher.Fetch(pageCtx, req, r.policy)
		span.SetAttributes(attribute.Int("attempts", result.Attempt))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			span.End()
			return err
		}
		span.End()
		r.state.RememberCookies(responseCookies(result.Header))
		r.state.LastURL = lastURL(result, req)
		r.result.Pages = r.state.Page

		if err := r.consume(result.Body); err != nil {
			return err
		}

		next, reason := paginator.Next(r.state, result.Body)
		if next == nil {
			r.logger.Info("pagination finished",
				zap.String("reason", string(reason)),
				zap.Int("pages", r.state.Page),
				zap.Int("records", r.state.RecordCount),
			)
			r.state.Done = true
			return nil
		}
		r.state.Page = next.Page
		req = *next
	}
}

func (r *run) consume(body []byte) error {
	fragments, err := r.provider.ExtractFragments(body)
	if err != nil {
		return eris.Wrapf(err, "extract fragments on page %d", r.state.Page)
	}
	for _, fragment := range fragments {
		record, ok := r.provider.ParseRecord(fragment)
		if !ok || !record.Valid() {
			r.logger.Debug("skipping fragment", zap.Int("page", r.state.Page), zap.Error(ErrParseAmbiguous))
			continue
		}
		key := record.Key()
		if _, dup := r.seen[key]; dup {
			continue
		}
		r.seen[key] = struct{}{}

		verdict := Classify(record, r.profile)
		if verdict.Owned {
			r.owned = append(r.owned, record)
		} else {
			r.others = append(r.others, record)
		}
		r.aliases.Add(verdict.NewAliasCandidates...)
		r.state.RecordCount++
	}
	return nil
}

// decorate attaches session state: Referer from the last fetched URL and the
// cookies collected so far.
func (r *run) decorate(req *FetchRequest) {
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if r.state.LastURL != "" && header.Get("Referer") == "" {
		header.Set("Referer", r.state.LastURL)
	}
	req.Header = header
	if len(r.state.Cookies) > 0 {
		req.Cookies = append(append([]*http.Cookie(nil), req.Cookies...), r.state.Cookies...)
	}
}

func (r *run) verdict(ctx context.Context, crawlErr error) (RunStatus, string, error) {
	n := r.state.RecordCount
	switch {
	case crawlErr == nil:
		return RunSucceeded, fmt.Sprintf("Process finished. Articles: %d", n), nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return RunFailed,
			fmt.Sprintf("Process timed out on page %d. Articles saved: %d", r.state.Page, n),
			eris.Wrapf(ErrRunTimeout, "after %s", r.engine.cfg.RunTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return RunPartial, fmt.Sprintf("Process cancelled on page %d. Articles saved: %d", r.state.Page, n), crawlErr
	case r.engine.cfg.ProxyMandatory && r.engine.deps.Rotator != nil && r.engine.deps.Rotator.ProxyConfig(ctx) == nil:
		r.result.Phase = PhaseProxyFailed
		return RunFailed, "Process aborted. Proxy connection failure.",
			errors.Join(crawlErr, ErrProxyUnavailable)
	default:
		return RunFailed, fmt.Sprintf("Process failed on page %d. Articles saved: %d", r.state.Page, n), crawlErr
	}
}

func (r *run) archive(ctx context.Context, ws *Workspace) (string, error) {
	if r.engine.deps.Blobs == nil {
		ws.Discard()
		return "", nil
	}
	return ws.Archive(ctx, r.engine.deps.Blobs, r.engine.deps.Clock.Now())
}

// flush hands the accumulated batch to storage: one upsert per collection and
// one alias append.
func (r *run) flush(ctx context.Context) error {
	store := r.engine.deps.Store
	var errs []error
	if len(r.owned) > 0 {
		if err := store.UpsertRecords(ctx, r.profile.ID, CollectionOwned, r.owned); err != nil {
			errs = append(errs, err)
		}
	}
	if len(r.others) > 0 {
		if err := store.UpsertRecords(ctx, r.profile.ID, CollectionOthers, r.others); err != nil {
			errs = append(errs, err)
		}
	}
	candidates := r.aliases.Values()
	if len(candidates) > 0 {
		if err := store.AppendAliasCandidates(ctx, r.profile.ID, candidates); err != nil {
			errs = append(errs, err)
		}
	}
	r.result.RecordCount = r.state.RecordCount
	r.result.OwnedCount = len(r.owned)
	r.result.OtherCount = len(r.others)
	r.result.NewAliasCandidates = candidates
	metrics.ObserveRecords(string(CollectionOwned), len(r.owned))
	metrics.ObserveRecords(string(CollectionOthers), len(r.others))
	if len(errs) > 0 {
		return eris.Wrapf(ErrStorageWriteFailed, "%v", errors.Join(errs...))
	}
	return nil
}

func (e *Engine) finish(
	ctx context.Context,
	logger *zap.Logger,
	res RunResult,
	status RunStatus,
	err error,
	message string,
) RunResult {
	res.Status = status
	res.Err = err
	res.Message = message
	res.FinishedAt = e.deps.Clock.Now()
	if res.NewAliasCandidates == nil {
		res.NewAliasCandidates = []string{}
	}
	metrics.ObserveRun(string(status), res.FinishedAt.Sub(res.StartedAt))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("scholar.status", string(status)),
		attribute.Int("scholar.records", res.RecordCount),
		attribute.Int("scholar.pages", res.Pages),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, message)
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.String("phase", string(res.Phase)),
		zap.Int("records", res.RecordCount),
		zap.Int("owned", res.OwnedCount),
		zap.Int("others", res.OtherCount),
		zap.Int("pages", res.Pages),
	}
	if err != nil {
		logger.Error(message, append(fields, zap.Error(err))...)
	} else {
		logger.Info(message, fields...)
	}

	if e.deps.Publisher != nil && e.cfg.EventTopic != "" {
		event := RunEvent{
			RunID:              res.RunID,
			JobID:              JobIDFromContext(ctx),
			ProfileID:          res.ProfileID,
			Provider:           res.Provider,
			Status:             res.Status,
			RecordCount:        res.RecordCount,
			OwnedCount:         res.OwnedCount,
			OtherCount:         res.OtherCount,
			NewAliasCandidates: res.NewAliasCandidates,
			ArchiveURI:         res.ArchiveURI,
			Message:            res.Message,
			FinishedAt:         res.FinishedAt,
		}
		if _, pubErr := e.deps.Publisher.Publish(context.WithoutCancel(ctx), e.cfg.EventTopic, event); pubErr != nil {
			logger.Warn("failed to publish run event", zap.Error(pubErr))
		}
	}
	return res
}

func responseCookies(header http.Header) []*http.Cookie {
	if len(header) == 0 {
		return nil
	}
	return (&http.Response{Header: header}).Cookies()
}

func lastURL(result FetchResult, req FetchRequest) string {
	if result.URL != "" {
		return result.URL
	}
	return req.URL
}

func newRunID() string {
	return uuid.New().MustID()
}
