package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"safe-transcode/internal/client"
	"safe-transcode/internal/config"
	"safe-transcode/internal/heartbeat"
	"safe-transcode/internal/job"
	ctxlog "safe-transcode/internal/log"
	"safe-transcode/internal/monitor"
	"safe-transcode/internal/scheduler"
	"safe-transcode/internal/server"
	"safe-transcode/internal/transcoder"
)

// rootFlags holds persistent flag values that are not config keys.
type rootFlags struct {
	configPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Safe H.264/AAC transcode worker",
		SilenceUsage: true,
	}

	// Dashes in flag names are normalised to underscores so they bind to config keys.
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, n string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(n, "-", "_"))
	})

	pf := root.PersistentFlags()
	pf.StringVar(&rf.configPath, "config", "config.yml", "path to the config file")
	pf.String("log-level", "info", "log level")
	pf.Bool("log-pretty", false, "human readable logs")
	pf.Bool("enable-hw-accel", true, "use hardware encoders when available")
	pf.String("metadata-policy", "fail", "what to do with unusable geometry: fail or fallback")
	pf.String("align-mode", "floor", "alignment rounding: floor or ceil")
	pf.String("scale-rounding", "half_away", "scale rounding: half_away or truncate")

	root.AddCommand(newTranscodeCmd(rf), newServeCmd(rf))
	return root
}

func setup(flags *pflag.FlagSet, cfgPath string) (*config.Config, *transcoder.Engine, error) {
	cfg, err := config.LoadConfig(cfgPath, flags)
	if err != nil {
		return nil, nil, err
	}

	ctxlog.Configure(ctxlog.Config{
		Level:   cfg.LogLevel,
		Service: "safe-transcode",
		Pretty:  cfg.LogPretty,
	})

	logger := ctxlog.WithComponent("transcoder")
	engine, err := transcoder.NewEngine(transcoder.Options{
		FFmpegPath:   cfg.FFmpegPath,
		FFprobePath:  cfg.FFprobePath,
		AllowHW:      cfg.EnableHWAccel,
		Threads:      cfg.Threads,
		AudioBitrate: cfg.AudioBitrate,
		Logger:       &logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize transcoder engine: %w", err)
	}
	return cfg, engine, nil
}

func newTranscodeCmd(rf *rootFlags) *cobra.Command {
	var (
		input, output      string
		maxHeight, bitrate int
	)
	cmd := &cobra.Command{
		Use:   "transcode",
		Short: "Transcode one file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTranscode(cmd, rf.configPath, job.Request{
				InputPath:  input,
				OutputPath: output,
				MaxHeight:  maxHeight,
				Bitrate:    bitrate,
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source video")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination mp4")
	cmd.Flags().IntVar(&maxHeight, "max-height", 0, "maximum display height (0 uses config)")
	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "target video bitrate in bps (0 uses config)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runTranscode(cmd *cobra.Command, cfgPath string, req job.Request) error {
	cfg, engine, err := setup(cmd.Flags(), cfgPath)
	if err != nil {
		return err
	}
	logger := ctxlog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := job.New(req, cfg.Policy(), job.Deps{
		Prober:       engine.Prober(),
		Engine:       engine,
		Capabilities: engine,
		Observer: func(tr job.Transition) {
			logger.Debug().Str("job_id", tr.JobID).Stringer("state", tr.To).Msg("state changed")
		},
	})

	res, err := j.Run(ctx)
	logResult(logger, res)
	return err
}

func logResult(logger zerolog.Logger, res job.Result) {
	evt := logger.Info()
	if res.State != job.StateCompleted {
		evt = logger.Error()
	}
	evt.Str("job_id", res.JobID).
		Stringer("state", res.State).
		Str("output", res.OutputPath).
		Str("encoder", res.Plan.Encoder.String()).
		Int("width", res.Plan.Width).
		Int("height", res.Plan.Height).
		Bool("accepted", res.Outcome.Accepted).
		Bool("degraded", res.Degraded).
		Dur("took", res.Duration).
		Msg("transcode finished")
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, rf.configPath)
		},
	}
	cmd.Flags().String("listen-addr", ":8080", "job API listen address")
	cmd.Flags().Int("max-concurrent-jobs", 1, "jobs encoded in parallel")
	return cmd
}

func runServe(cmd *cobra.Command, cfgPath string) error {
	cfg, engine, err := setup(cmd.Flags(), cfgPath)
	if err != nil {
		return err
	}
	logger := ctxlog.WithComponent("worker")
	logger.Info().
		Str("worker_id", cfg.WorkerID).
		Str("codec", engine.GetCodec()).
		Bool("hw_accel", engine.HasHWAccel).
		Msg("starting transcode worker")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := client.NewOrchestratorClient(cfg)
	var finalizer scheduler.Finalizer
	if orchestrator != nil {
		finalizer = orchestrator
	}

	sched := scheduler.New(cfg.Policy(), job.Deps{
		Prober:       engine.Prober(),
		Engine:       engine,
		Capabilities: engine,
	}, cfg.MaxConcurrentJobs, cfg.QueueSize, finalizer)

	srv := server.NewJobServer(cfg.ListenAddr, sched)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if orchestrator != nil {
		hb := heartbeat.New(orchestrator, monitor.NewSystemMonitor(engine), sched, cfg.HeartbeatSec, cfg.ListenAddr)
		done := hb.Start(gctx)
		g.Go(func() error {
			<-done
			return nil
		})
		logger.Info().Str("orchestrator", cfg.OrchestratorURL).Msg("signaling to orchestrator")
	} else {
		logger.Info().Msg("no orchestrator configured, running standalone")
	}

	err = g.Wait()
	logger.Info().Msg("worker stopped")
	return err
}
