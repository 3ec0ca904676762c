package transcoder

import (
	"fmt"
	"strconv"

	"safe-transcode/internal/encoding"
)

// buildArgs constructs the ffmpeg command for one plan. Output goes to
// tmpPath; the caller renames it into place.
func (e *Engine) buildArgs(req encoding.Request, tmpPath string) []string {
	encoder := req.Plan.Encoder.Encoder
	if encoder == "" {
		encoder = CodecSoftware
	}
	vaapi := encoder == CodecVAAPI

	args := []string{"-hide_banner", "-nostdin", "-y"}
	if vaapi {
		args = append(args, "-vaapi_device", e.vaapiDevice)
	}
	args = append(args,
		"-i", req.SourcePath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
	)

	if vf := videoFilter(req.Plan, vaapi); vf != "" {
		args = append(args, "-vf", vf)
	}

	bitrate := req.Plan.Bitrate
	if bitrate <= 0 {
		bitrate = encoding.DefaultBitrate
	}
	args = append(args,
		"-c:v", encoder,
		"-b:v", strconv.Itoa(bitrate),
		"-maxrate", strconv.Itoa(bitrate),
		"-bufsize", strconv.Itoa(bitrate*2),
	)
	if !vaapi {
		// 8-bit 4:2:0 is the only pixel format every H.264 decoder plays.
		args = append(args, "-pix_fmt", "yuv420p")
	}
	if encoder == CodecSoftware {
		args = append(args, "-preset", "veryfast", "-profile:v", "high")
		if e.maxThreads > 0 {
			args = append(args, "-threads", strconv.Itoa(e.maxThreads))
		}
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", e.audioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		tmpPath,
	)
	return args
}

func videoFilter(plan encoding.Plan, vaapi bool) string {
	scale := ""
	if plan.Resize && plan.Width > 0 && plan.Height > 0 {
		scale = fmt.Sprintf("scale=%d:%d", plan.Width, plan.Height)
	}
	if !vaapi {
		return scale
	}
	if scale == "" {
		return "format=nv12,hwupload"
	}
	return scale + ",format=nv12,hwupload"
}
