package transcoder

import (
	"context"
	"os/exec"
	"strings"
)

// hwPriority orders hardware encoders from most to least preferred.
var hwPriority = []struct {
	codec string
	caps  []string
}{
	{CodecNVENC, []string{"nvenc", CodecNVENC}},
	{CodecQSV, []string{"qsv", "quicksync"}},
	{CodecVAAPI, []string{"vaapi"}},
	{CodecVideoToolbox, []string{"videotoolbox"}},
	{CodecV4L2M2M, []string{"rpi", "v4l2m2m"}},
}

// ProbeCapabilities checks FFmpeg for encoders. It proves FFmpeg can see the
// hardware rather than checking for drivers.
func (e *Engine) ProbeCapabilities(ctx context.Context) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		e.logger.Warn().Err(err).Msg("encoder probe failed, using software encoding")
		e.HasHWAccel = false
		e.bestCodec = CodecSoftware
		e.caps = []string{"h264", "aac"}
		return
	}

	e.bestCodec, e.caps = parseEncoders(string(output))
	e.HasHWAccel = e.bestCodec != CodecSoftware
}

// parseEncoders picks the best hardware H.264 encoder from `ffmpeg -encoders`
// output and builds the capability list advertised to the orchestrator.
func parseEncoders(output string) (string, []string) {
	available := map[string]bool{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		// " V....D h264_nvenc   NVIDIA NVENC H.264 encoder"
		if len(fields) >= 2 && strings.HasPrefix(fields[0], "V") {
			available[fields[1]] = true
		}
	}

	caps := []string{"h264", "aac", "1080p", "720p"}
	best := CodecSoftware
	for _, hw := range hwPriority {
		if !available[hw.codec] {
			continue
		}
		caps = append(caps, hw.caps...)
		if best == CodecSoftware {
			best = hw.codec
		}
	}

	// A software-only worker might struggle with 4K.
	if best == CodecNVENC || best == CodecQSV || best == CodecVAAPI {
		caps = append(caps, "4k")
	}

	return best, caps
}
