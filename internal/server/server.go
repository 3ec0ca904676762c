// Package server exposes the worker's job API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	ctxlog "safe-transcode/internal/log"
	"safe-transcode/internal/scheduler"
	"safe-transcode/pkg/models"
)

// Scheduler is the subset of *scheduler.Scheduler the server drives.
type Scheduler interface {
	Submit(spec models.JobSpec) (string, error)
	Status(id string) (models.JobStatus, bool)
	QueueDepth() int
}

// SubmitLimit caps job submissions per client IP per minute.
const SubmitLimit = 120

// JobServer accepts job assignments and reports job status.
type JobServer struct {
	addr   string
	sched  Scheduler
	logger zerolog.Logger
	srv    *http.Server
}

func NewJobServer(addr string, sched Scheduler) *JobServer {
	s := &JobServer{
		addr:   addr,
		sched:  sched,
		logger: ctxlog.WithComponent("server"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *JobServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/jobs", func(r chi.Router) {
		r.With(submitLimiter()).Post("/", s.handleJobAssignment)
		r.Get("/{id}", s.handleJobStatus)
	})
	return r
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *JobServer) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("listening for jobs")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("job server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *JobServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *JobServer) handleJobAssignment(w http.ResponseWriter, r *http.Request) {
	var spec models.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := s.sched.Submit(spec)
	switch {
	case errors.Is(err, scheduler.ErrInvalidSpec):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrDuplicateJob):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *JobServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sched.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *JobServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.sched.QueueDepth(),
	})
}

func submitLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		SubmitLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
