// Package scheduler runs submitted jobs on a fixed number of workers. Every
// job is an independent job.Job owning its own input/output pair.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/fsutil"
	"safe-transcode/internal/job"
	ctxlog "safe-transcode/internal/log"
	"safe-transcode/internal/metrics"
	"safe-transcode/pkg/models"
)

var (
	// ErrQueueFull is returned when no more jobs can be accepted.
	ErrQueueFull = errors.New("job queue full")
	// ErrInvalidSpec is returned for specs without input or output paths.
	ErrInvalidSpec = errors.New("invalid job spec")
	// ErrDuplicateJob is returned when a job ID is already known.
	ErrDuplicateJob = errors.New("job already exists")
)

// Finalizer receives the result of every finished job.
type Finalizer interface {
	FinalizeJob(ctx context.Context, jobID string, payload models.JobResultPayload) error
}

// Scheduler queues job specs and executes them.
type Scheduler struct {
	policy    job.Policy
	deps      job.Deps
	workers   int
	queue     chan models.JobSpec
	finalizer Finalizer
	logger    zerolog.Logger

	mu       sync.RWMutex
	statuses map[string]*models.JobStatus
	progress map[string]encoding.Progress
}

// New creates a scheduler. deps.Observer and deps.Progress are set per job.
func New(policy job.Policy, deps job.Deps, workers, queueSize int, finalizer Finalizer) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Scheduler{
		policy:    policy,
		deps:      deps,
		workers:   workers,
		queue:     make(chan models.JobSpec, queueSize),
		finalizer: finalizer,
		logger:    ctxlog.WithComponent("scheduler"),
		statuses:  make(map[string]*models.JobStatus),
		progress:  make(map[string]encoding.Progress),
	}
}

// Submit queues a job and returns its ID without waiting for it to run.
func (s *Scheduler) Submit(spec models.JobSpec) (string, error) {
	if spec.InputPath == "" || spec.OutputPath == "" {
		return "", fmt.Errorf("%w: input_path and output_path are required", ErrInvalidSpec)
	}
	if same, _ := fsutil.SamePath(spec.InputPath, spec.OutputPath); same {
		return "", fmt.Errorf("%w: input and output must differ", ErrInvalidSpec)
	}
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}

	s.mu.Lock()
	if _, ok := s.statuses[spec.JobID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, spec.JobID)
	}
	s.statuses[spec.JobID] = &models.JobStatus{
		JobID:     spec.JobID,
		State:     job.StateCreated.String(),
		InputPath: spec.InputPath,
		CreatedAt: time.Now(),
	}
	s.mu.Unlock()

	select {
	case s.queue <- spec:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		s.logger.Info().Str("job_id", spec.JobID).Str("input", spec.InputPath).Msg("job queued")
		return spec.JobID, nil
	default:
		s.mu.Lock()
		delete(s.statuses, spec.JobID)
		s.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done. Jobs still queued at
// that point are not started; they are marked cancelled and finalized.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.cancelQueued(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case spec := <-s.queue:
					metrics.QueueDepth.Set(float64(len(s.queue)))
					if ctx.Err() != nil {
						s.cancelSpec(ctx, spec)
						return nil
					}
					s.execute(ctx, spec)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Scheduler) execute(ctx context.Context, spec models.JobSpec) {
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	progress := make(chan encoding.Progress, 8)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range progress {
			s.mu.Lock()
			s.progress[spec.JobID] = p
			s.mu.Unlock()
		}
	}()

	deps := s.deps
	deps.Progress = progress
	deps.Observer = func(tr job.Transition) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if st, ok := s.statuses[tr.JobID]; ok {
			st.State = tr.To.String()
		}
	}

	j := job.New(job.Request{
		ID:         spec.JobID,
		InputPath:  spec.InputPath,
		OutputPath: spec.OutputPath,
		MaxHeight:  spec.MaxHeight,
		Bitrate:    spec.BitrateBps,
	}, s.policy, deps)

	res, err := j.Run(ctx)
	close(progress)
	<-drained

	status := s.finish(spec.JobID, res, err)
	s.finalize(ctx, status, res.Duration)
}

// finish records the terminal snapshot and returns a copy of it.
func (s *Scheduler) finish(id string, res job.Result, err error) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		st = &models.JobStatus{JobID: id, CreatedAt: time.Now()}
		s.statuses[id] = st
	}
	delete(s.progress, id)

	now := time.Now()
	st.State = res.State.String()
	st.OutputPath = res.OutputPath
	st.FinishedAt = &now
	if res.State == job.StateCompleted {
		st.Progress = 100
	}
	if res.Plan.Bitrate > 0 {
		st.Plan = planInfo(res)
	}
	if res.State == job.StateCompleted {
		st.Outcome = &models.Outcome{
			OriginalBytes: res.Outcome.OriginalBytes,
			ProducedBytes: res.Outcome.ProducedBytes,
			Accepted:      res.Outcome.Accepted,
		}
	}
	if err != nil {
		st.Error = &models.JobError{Kind: string(job.KindOf(err)), Message: err.Error()}
	}
	return *st
}

func (s *Scheduler) finalize(ctx context.Context, st models.JobStatus, elapsed time.Duration) {
	if s.finalizer == nil {
		return
	}

	payload := models.JobResultPayload{
		Status:     terminalStatus(st.State),
		OutputPath: st.OutputPath,
		Outcome:    st.Outcome,
		Error:      st.Error,
	}
	payload.Metrics.TotalTimeMS = elapsed.Milliseconds()

	// The job is over; report it even if the worker is shutting down.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.finalizer.FinalizeJob(fctx, st.JobID, payload); err != nil {
		s.logger.Warn().Err(err).Str("job_id", st.JobID).Msg("failed to finalize job")
	}
}

// cancelQueued ends every job that never reached a worker.
func (s *Scheduler) cancelQueued(ctx context.Context) {
	for {
		select {
		case spec := <-s.queue:
			s.cancelSpec(ctx, spec)
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

func (s *Scheduler) cancelSpec(ctx context.Context, spec models.JobSpec) {
	st := s.cancelPending(spec.JobID)
	s.logger.Info().Str("job_id", spec.JobID).Msg("queued job cancelled on shutdown")
	metrics.JobsTotal.WithLabelValues(job.StateCancelled.String()).Inc()
	s.finalize(ctx, st, 0)
}

func (s *Scheduler) cancelPending(id string) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		st = &models.JobStatus{JobID: id, CreatedAt: time.Now()}
		s.statuses[id] = st
	}
	now := time.Now()
	st.State = job.StateCancelled.String()
	st.FinishedAt = &now
	st.Error = &models.JobError{
		Kind:    string(job.KindCancelled),
		Message: "worker shut down before the job started",
	}
	return *st
}

// Status returns a snapshot of a job.
func (s *Scheduler) Status(id string) (models.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[id]
	if !ok {
		return models.JobStatus{}, false
	}
	out := *st
	if p, ok := s.progress[id]; ok {
		out.Progress = p.Percent
	}
	return out, true
}

// Active lists jobs that have started but not finished.
func (s *Scheduler) Active() []models.ActiveContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ActiveContext
	for id, st := range s.statuses {
		if st.IsTerminal() || st.State == job.StateCreated.String() {
			continue
		}
		p := s.progress[id]
		out = append(out, models.ActiveContext{
			JobID:    id,
			State:    st.State,
			Progress: p.Percent,
			FPS:      p.FPS,
			Speed:    p.Speed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// QueueDepth is the number of jobs waiting for a worker.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

func planInfo(res job.Result) *models.PlanInfo {
	return &models.PlanInfo{
		Width:        res.Plan.Width,
		Height:       res.Plan.Height,
		Resize:       res.Plan.Resize,
		IsAligned:    res.Plan.IsAligned,
		BitrateBps:   res.Plan.Bitrate,
		EncoderClass: res.Plan.Encoder.Class.String(),
		Encoder:      res.Plan.Encoder.Encoder,
		Degraded:     res.Degraded,
	}
}

func terminalStatus(state string) string {
	switch state {
	case job.StateCompleted.String():
		return "COMPLETED"
	case job.StateCancelled.String():
		return "CANCELLED"
	default:
		return "FAILED"
	}
}
