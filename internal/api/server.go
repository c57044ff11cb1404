package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/scheduler"
	"github.com/JakeFAU/scholar-crawler/internal/service"
)

// Service is the subset of the job service the HTTP layer drives.
type Service interface {
	RunExtraction(ctx context.Context, profileID, providerTag string) crawler.RunResult
	Submit(ctx context.Context, profileID, providerTag string) (string, error)
	CheckStatus(ctx context.Context, jobID string) (crawler.Job, error)
	Profile(ctx context.Context, profileID string) (crawler.Profile, error)
	ListRecords(ctx context.Context, profileID string, collection crawler.Collection) ([]crawler.Record, error)
	StoreAliases(ctx context.Context, profileID string, aliases []string) error
	Schedule(ctx context.Context, profileID, providerTag, spec string) (scheduler.Schedule, error)
	Unschedule(scheduleID string) error
	Schedules() []scheduler.Schedule
}

// Config controls server middleware.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// RunTimeout bounds synchronous extractions, which outlive RequestTimeout.
	RunTimeout time.Duration
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router chi.Router
	svc    Service
	cfg    Config
	logger *zap.Logger
}

const enqueueTimeout = 5 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		// Synchronous runs hold the request open for a whole extraction.
		r.Post("/profiles/{profile_id}/extractions", s.submitExtraction)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Get("/jobs/{job_id}", s.getJob)
			r.Get("/profiles/{profile_id}", s.getProfile)
			r.Get("/profiles/{profile_id}/records", s.listRecords)
			r.Put("/profiles/{profile_id}/aliases", s.storeAliases)
			r.Post("/profiles/{profile_id}/schedules", s.createSchedule)
			r.Get("/schedules", s.listSchedules)
			r.Delete("/schedules/{schedule_id}", s.deleteSchedule)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type extractionRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) submitExtraction(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profile_id")
	var req extractionRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		ctx := r.Context()
		if s.cfg.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
			defer cancel()
		}
		result := s.svc.RunExtraction(ctx, profileID, req.Provider)
		status := http.StatusOK
		if result.Status == crawler.RunFailed && result.Err != nil {
			status = statusFor(result.Err)
		}
		s.writeJSON(w, status, result)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	jobID, err := s.svc.Submit(ctx, profileID, req.Provider)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusPending),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CheckStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.Profile(r.Context(), chi.URLParam(r, "profile_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profile_id")
	collections := []crawler.Collection{crawler.CollectionOwned, crawler.CollectionOthers}
	if c := r.URL.Query().Get("collection"); c != "" {
		collections = []crawler.Collection{crawler.Collection(c)}
	}
	out := make(map[crawler.Collection][]crawler.Record, len(collections))
	for _, c := range collections {
		records, err := s.svc.ListRecords(r.Context(), profileID, c)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		out[c] = records
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"profile_id": profileID, "records": out})
}

type aliasesRequest struct {
	Aliases []string `json:"aliases"`
}

func (s *Server) storeAliases(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profile_id")
	var req aliasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Aliases == nil {
		s.writeError(w, http.StatusBadRequest, "aliases required")
		return
	}
	if err := s.svc.StoreAliases(r.Context(), profileID, req.Aliases); err != nil {
		s.writeServiceError(w, err)
		return
	}
	profile, err := s.svc.Profile(r.Context(), profileID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

type scheduleRequest struct {
	Cron     string `json:"cron"`
	Provider string `json:"provider"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cron == "" {
		s.writeError(w, http.StatusBadRequest, "cron required")
		return
	}
	sch, err := s.svc.Schedule(r.Context(), chi.URLParam(r, "profile_id"), req.Provider, req.Cron)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"schedules": s.svc.Schedules()})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unschedule(chi.URLParam(r, "schedule_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrProfileNotFound),
		errors.Is(err, crawler.ErrJobNotFound),
		errors.Is(err, scheduler.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrRunTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, crawler.ErrFetchRetryExhausted),
		errors.Is(err, crawler.ErrProxyUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the ID assigned by the request-ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, `{"error":"unauthorized"}`+"\n")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
