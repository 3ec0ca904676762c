// Package job runs one safe transcode: probe, plan, encode once, then decide
// whether the transcode or the original is delivered.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/fsutil"
	"safe-transcode/internal/geometry"
	ctxlog "safe-transcode/internal/log"
	"safe-transcode/internal/metrics"
)

// Prober reads coded dimensions and rotation from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (geometry.RawMeta, error)
}

// Request is what a caller asks for.
type Request struct {
	ID         string
	InputPath  string
	OutputPath string
	// MaxHeight and Bitrate override the policy when positive.
	MaxHeight int
	Bitrate   int
}

// Deps are the collaborators a job drives.
type Deps struct {
	Prober       Prober
	Engine       encoding.Engine
	Capabilities encoding.CapabilityProvider
	Logger       *zerolog.Logger
	// Observer is called synchronously on every transition.
	Observer func(Transition)
	// Progress receives engine progress updates.
	Progress chan<- encoding.Progress
	// Substitute copies the original over the output when a transcode is
	// rejected. Defaults to fsutil.CopyFile.
	Substitute func(src, dst string) error
}

// Result describes a finished job.
type Result struct {
	JobID      string
	State      State
	OutputPath string
	Display    geometry.DisplaySize
	Plan       encoding.Plan
	Outcome    ExportOutcome
	// Degraded is set when geometry was unavailable and the fallback plan ran.
	Degraded bool
	Duration time.Duration
}

// Job is a single-use state machine. Run may be called once.
type Job struct {
	id     string
	req    Request
	policy Policy
	deps   Deps
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	started bool
	result  Result
	err     error
}

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("job already started")

// New creates a job in the Created state.
func New(req Request, policy Policy, deps Deps) *Job {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	logger := ctxlog.WithComponent("job")
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	return &Job{
		id:     id,
		req:    req,
		policy: policy.withDefaults(),
		deps:   deps,
		logger: logger.With().Str("job_id", id).Logger(),
		state:  StateCreated,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns the result of a finished Run.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the terminal error, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Run drives the job to a terminal state. The returned error is a *Error for
// Failed and Cancelled jobs and nil for Completed ones.
func (j *Job) Run(ctx context.Context) (Result, error) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return Result{}, ErrAlreadyStarted
	}
	j.started = true
	j.mu.Unlock()

	ctx = ctxlog.ContextWithJobID(ctx, j.id)
	start := time.Now()

	res := Result{JobID: j.id, OutputPath: j.req.OutputPath}
	err := j.run(ctx, &res)

	res.State = j.State()
	res.Duration = time.Since(start)
	if res.State != StateCompleted {
		res.OutputPath = ""
	}

	metrics.JobsTotal.WithLabelValues(res.State.String()).Inc()
	metrics.JobDuration.WithLabelValues(res.State.String()).Observe(res.Duration.Seconds())

	j.mu.Lock()
	j.result = res
	j.err = err
	j.mu.Unlock()

	return res, err
}

func (j *Job) run(ctx context.Context, res *Result) error {
	// 1. Inputs must exist, must not be the output, and the output must have
	// somewhere to land.
	if !fsutil.Exists(j.req.InputPath) {
		return j.fail(newError(KindMissingInput, "preflight", j.id,
			fmt.Errorf("%w: %s", ErrMissingInput, j.req.InputPath)))
	}
	same, err := fsutil.SamePath(j.req.InputPath, j.req.OutputPath)
	if err != nil {
		return j.fail(newError(KindPathConflict, "preflight", j.id, fmt.Errorf("%w: %w", ErrPathConflict, err)))
	}
	if same {
		return j.fail(newError(KindPathConflict, "preflight", j.id,
			fmt.Errorf("%w: %s", ErrPathConflict, j.req.OutputPath)))
	}
	if err := fsutil.EnsureDir(j.req.OutputPath); err != nil {
		return j.fail(newError(KindOutputDirUnavailable, "preflight", j.id,
			fmt.Errorf("%w: %w", ErrOutputDirUnavailable, err)))
	}

	// 2. Probe.
	if err := j.transition(StateProbing, nil); err != nil {
		return err
	}
	display, metaErr := j.probe(ctx)
	if metaErr != nil && j.policy.Metadata == MetadataFail {
		return j.fail(newError(KindInvalidMetadata, "probe", j.id, metaErr))
	}

	// 3. Plan.
	if err := j.transition(StatePlanning, nil); err != nil {
		return err
	}
	plan := j.plan(display, metaErr)
	res.Display = display
	res.Plan = plan
	res.Degraded = metaErr != nil

	// 4. Encode, exactly once.
	if err := j.transition(StateEncoding, nil); err != nil {
		return err
	}
	engineRes, err := j.encode(ctx, plan)
	if err != nil {
		return j.fail(newError(KindEncode, "encode", j.id, err))
	}
	switch engineRes.Status {
	case encoding.StatusCancelled:
		cerr := newError(KindCancelled, "encode", j.id, engineRes.Err)
		if terr := j.transition(StateCancelled, cerr); terr != nil {
			return terr
		}
		j.logger.Warn().Msg("encode cancelled")
		return cerr
	case encoding.StatusError:
		msg := engineRes.Message
		if msg == "" && engineRes.Err != nil {
			msg = engineRes.Err.Error()
		}
		return j.fail(newError(KindEncode, "encode", j.id, fmt.Errorf("%w: %s", ErrEncode, msg)))
	}

	// 5. Validate and, if needed, substitute the original bytes.
	if err := j.transition(StateValidating, nil); err != nil {
		return err
	}
	outcome, err := j.validate()
	res.Outcome = outcome
	if err != nil {
		if rmErr := fsutil.Remove(j.req.OutputPath); rmErr != nil {
			j.logger.Error().Err(rmErr).Str("output", j.req.OutputPath).Msg("failed to remove output after substitution error")
		}
		return j.fail(newError(KindPostProcess, "substitute", j.id, err))
	}

	if err := j.transition(StateCompleted, nil); err != nil {
		return err
	}
	j.logger.Info().
		Bool("accepted", outcome.Accepted).
		Int64("original_bytes", outcome.OriginalBytes).
		Int64("produced_bytes", outcome.ProducedBytes).
		Str("output", j.req.OutputPath).
		Msg("job completed")
	return nil
}

// probe returns the display size or the reason geometry is unusable.
func (j *Job) probe(ctx context.Context) (geometry.DisplaySize, error) {
	if j.deps.Prober == nil {
		return geometry.DisplaySize{}, errors.New("no prober configured")
	}

	meta, err := j.deps.Prober.Probe(ctx, j.req.InputPath)
	if err != nil {
		j.logger.Warn().Err(err).Msg("probe failed")
		return geometry.DisplaySize{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	display, err := geometry.Resolve(meta)
	if err != nil {
		j.logger.Warn().Err(err).Msg("degenerate metadata")
		return geometry.DisplaySize{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	j.logger.Debug().
		Int("coded_width", meta.CodedWidth).
		Int("coded_height", meta.CodedHeight).
		Int("rotation", meta.Rotation).
		Stringer("display", display).
		Msg("probed source")
	return display, nil
}

func (j *Job) plan(display geometry.DisplaySize, metaErr error) encoding.Plan {
	bitrate := j.policy.Bitrate
	if j.req.Bitrate > 0 {
		bitrate = j.req.Bitrate
	}

	var plan encoding.Plan
	if metaErr != nil {
		plan = encoding.FallbackPlan(bitrate, encoding.Software())
		j.logger.Warn().Err(metaErr).Msg("encoding without geometry filter")
	} else {
		maxHeight := j.policy.MaxHeight
		if j.req.MaxHeight > 0 {
			maxHeight = j.req.MaxHeight
		}
		scale := geometry.PlanScale(display, maxHeight, j.policy.Rounding)
		aligned := j.policy.Alignment.Align(scale)
		sel := encoding.Selector{Capabilities: j.deps.Capabilities}.Select(aligned.IsAligned)
		plan = encoding.NewPlan(aligned, bitrate, sel)

		j.logger.Info().
			Stringer("display", display).
			Stringer("scale", scale).
			Stringer("aligned", aligned).
			Bool("is_aligned", aligned.IsAligned).
			Stringer("encoder", sel).
			Msg("planned encode")
	}

	metrics.EncoderSelections.WithLabelValues(plan.Encoder.Class.String(), plan.Encoder.Encoder).Inc()
	return plan
}

func (j *Job) encode(ctx context.Context, plan encoding.Plan) (encoding.Result, error) {
	if j.deps.Engine == nil {
		return encoding.Result{}, errors.New("no engine configured")
	}

	ch, err := j.deps.Engine.Encode(ctx, encoding.Request{
		JobID:      j.id,
		SourcePath: j.req.InputPath,
		DestPath:   j.req.OutputPath,
		Plan:       plan,
		Progress:   j.deps.Progress,
	})
	if err != nil {
		return encoding.Result{}, fmt.Errorf("start engine: %w", err)
	}

	res, ok := <-ch
	if !ok {
		return encoding.Result{}, errors.New("engine closed without a result")
	}
	return res, nil
}

func (j *Job) validate() (ExportOutcome, error) {
	original, err := fsutil.Size(j.req.InputPath)
	if err != nil {
		j.logger.Warn().Err(err).Msg("cannot size original, assuming transcode is good")
		original = 0
	}
	produced, err := fsutil.Size(j.req.OutputPath)
	if err != nil {
		j.logger.Warn().Err(err).Msg("cannot size output")
		produced = 0
	}

	outcome := Validate(original, produced, j.policy.AcceptRatio)
	if outcome.Accepted {
		metrics.BytesSaved.Add(float64(outcome.Saved()))
		return outcome, nil
	}

	j.logger.Info().
		Int64("original_bytes", original).
		Int64("produced_bytes", produced).
		Msg("transcode not worth it, delivering original")
	substitute := j.deps.Substitute
	if substitute == nil {
		substitute = fsutil.CopyFile
	}
	if err := substitute(j.req.InputPath, j.req.OutputPath); err != nil {
		return outcome, fmt.Errorf("%w: %w", ErrPostProcess, err)
	}
	metrics.Substitutions.Inc()
	return outcome, nil
}

func (j *Job) fail(jerr *Error) error {
	if err := j.transition(StateFailed, jerr); err != nil {
		return err
	}
	j.logger.Error().Err(jerr).Str("kind", string(jerr.Kind)).Msg("job failed")
	return jerr
}

func (j *Job) transition(to State, cause error) error {
	j.mu.Lock()
	from := j.state
	if from.Terminal() {
		j.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, from, to)
	}
	if !CanTransition(from, to) {
		j.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	j.state = to
	j.mu.Unlock()

	j.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("transition")
	if j.deps.Observer != nil {
		j.deps.Observer(Transition{JobID: j.id, From: from, To: to, At: time.Now(), Err: cause})
	}
	return nil
}
