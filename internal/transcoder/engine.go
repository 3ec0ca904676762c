package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"safe-transcode/internal/encoding"
	ctxlog "safe-transcode/internal/log"
)

// Define constants for supported codecs to avoid "magic strings" in the code.
// capabilities.go picks one of them and args.go turns it into CLI flags.
const (
	CodecNVENC        = "h264_nvenc"
	CodecQSV          = "h264_qsv"
	CodecVAAPI        = "h264_vaapi"
	CodecVideoToolbox = "h264_videotoolbox"
	CodecV4L2M2M      = "h264_v4l2m2m"
	CodecSoftware     = encoding.SoftwareEncoder
)

// DefaultVAAPIDevice is the render node used for VAAPI uploads.
const DefaultVAAPIDevice = "/dev/dri/renderD128"

// Options configures an Engine.
type Options struct {
	FFmpegPath   string // looked up on PATH when empty
	FFprobePath  string // looked up on PATH when empty
	AllowHW      bool
	Threads      int
	AudioBitrate string // e.g. "128k"
	VAAPIDevice  string
	Logger       *zerolog.Logger
}

// Engine represents the transcoding capabilities of the local device.
// Its state is populated by capabilities.go and its Encode method lives in
// executor.go.
type Engine struct {
	FFmpegPath string
	HasHWAccel bool

	bestCodec    string
	caps         []string
	maxThreads   int
	audioBitrate string
	vaapiDevice  string
	prober       *FFProbe
	logger       zerolog.Logger
}

var _ encoding.Engine = (*Engine)(nil)
var _ encoding.CapabilityProvider = (*Engine)(nil)

// NewEngine finds the ffmpeg binary and probes hardware encoders.
func NewEngine(opts Options) (*Engine, error) {
	// 1. Locate the FFmpeg binary.
	name := opts.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	logger := ctxlog.WithComponent("engine")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	engine := &Engine{
		FFmpegPath:   path,
		maxThreads:   opts.Threads,
		audioBitrate: opts.AudioBitrate,
		vaapiDevice:  opts.VAAPIDevice,
		prober:       NewFFProbe(opts.FFprobePath),
		logger:       logger,
	}
	if engine.audioBitrate == "" {
		engine.audioBitrate = "128k"
	}
	if engine.vaapiDevice == "" {
		engine.vaapiDevice = DefaultVAAPIDevice
	}

	// 2. Hardware discovery, defined in capabilities.go.
	if opts.AllowHW {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine.ProbeCapabilities(ctx)
	} else {
		engine.bestCodec = CodecSoftware
		engine.HasHWAccel = false
	}

	logger.Info().
		Str("ffmpeg", path).
		Bool("hw_accel", engine.HasHWAccel).
		Str("codec", engine.GetCodec()).
		Msg("transcoding engine ready")
	return engine, nil
}

// GetCodec returns the encoder used for hardware-preferred plans.
func (e *Engine) GetCodec() string {
	if e.bestCodec == "" {
		return CodecSoftware
	}
	return e.bestCodec
}

// HardwareEncoder implements encoding.CapabilityProvider.
func (e *Engine) HardwareEncoder() (string, bool) {
	if !e.HasHWAccel || e.bestCodec == "" || e.bestCodec == CodecSoftware {
		return "", false
	}
	return e.bestCodec, true
}

// Capabilities lists the encoder features reported to the orchestrator.
func (e *Engine) Capabilities() []string {
	out := make([]string, len(e.caps))
	copy(out, e.caps)
	return out
}

// Prober returns the ffprobe wrapper the engine uses for durations.
func (e *Engine) Prober() *FFProbe {
	return e.prober
}
