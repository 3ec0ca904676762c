package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"safe-transcode/internal/client"
	ctxlog "safe-transcode/internal/log"
	"safe-transcode/pkg/models"
)

// Reporter is the orchestrator side of the heartbeat.
type Reporter interface {
	Register(ctx context.Context, payload models.RegistrationPayload) error
	Heartbeat(ctx context.Context, hb models.Heartbeat) error
}

// Monitor supplies host telemetry.
type Monitor interface {
	GetStats(ctx context.Context) (models.HardwareStats, error)
	GetStaticSpecs(ctx context.Context) models.StaticHardware
	GetCapabilities() []string
}

// Workload reports what the worker is doing right now.
type Workload interface {
	Active() []models.ActiveContext
	QueueDepth() int
}

// Service handles the periodic ping to the Orchestrator.
type Service struct {
	reporter Reporter
	monitor  Monitor
	workload Workload
	interval time.Duration
	baseURL  string
	logger   zerolog.Logger

	registered bool
}

// New creates a heartbeat service.
func New(reporter Reporter, monitor Monitor, workload Workload, intervalSec int, baseURL string) *Service {
	if intervalSec <= 0 {
		intervalSec = 15
	}
	return &Service{
		reporter: reporter,
		monitor:  monitor,
		workload: workload,
		interval: time.Duration(intervalSec) * time.Second,
		baseURL:  baseURL,
		logger:   ctxlog.WithComponent("heartbeat"),
	}
}

// Start launches the heartbeat loop in a non-blocking way. The returned
// channel closes once the loop has exited.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(s.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		s.logger.Info().Dur("interval", s.interval).Msg("heartbeat started")

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("stopping heartbeat")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return done
}

// tick registers if needed and then sends one heartbeat. A lost-state reply
// forces a re-registration on the next tick.
func (s *Service) tick(ctx context.Context) {
	if !s.registered {
		payload := models.RegistrationPayload{
			BaseURL:      s.baseURL,
			StaticSpecs:  s.monitor.GetStaticSpecs(ctx),
			Capabilities: s.monitor.GetCapabilities(),
		}
		if err := s.reporter.Register(ctx, payload); err != nil {
			s.logger.Warn().Err(err).Msg("registration failed")
			return
		}
		s.registered = true
	}

	stats, err := s.monitor.GetStats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("telemetry unavailable")
	}

	hb := models.Heartbeat{
		Status:    status(stats, s.workload),
		Telemetry: stats,
	}
	if s.workload != nil {
		hb.ActiveJobs = s.workload.Active()
		hb.QueueDepth = s.workload.QueueDepth()
	}

	if err := s.reporter.Heartbeat(ctx, hb); err != nil {
		if client.IsStateError(err) {
			s.logger.Warn().Msg("orchestrator lost worker state, re-registering")
			s.registered = false
			return
		}
		s.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}

func status(stats models.HardwareStats, w Workload) string {
	switch {
	case stats.IsBusy:
		return models.WorkerStressed
	case w != nil && (len(w.Active()) > 0 || w.QueueDepth() > 0):
		return models.WorkerBusy
	default:
		return models.WorkerIdle
	}
}
