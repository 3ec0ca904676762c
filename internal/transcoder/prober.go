package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"safe-transcode/internal/geometry"
)

// FFProbe reads stream geometry and durations with ffprobe.
type FFProbe struct {
	probePath string
}

// NewFFProbe uses "ffprobe" from PATH when path is empty.
func NewFFProbe(path string) *FFProbe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFProbe{probePath: path}
}

// ErrNoVideoStream is returned for files without a video stream.
var ErrNoVideoStream = errors.New("no video stream")

type probeResult struct {
	Streams []struct {
		Width  int               `json:"width"`
		Height int               `json:"height"`
		Tags   map[string]string `json:"tags"`
		// Rotation from the display matrix, e.g. -90.
		SideData []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe implements job.Prober. Dimensions are returned as coded; rotation is
// normalised to a quarter turn.
func (p *FFProbe) Probe(ctx context.Context, path string) (geometry.RawMeta, error) {
	out, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path,
	)
	if err != nil {
		return geometry.RawMeta{}, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (geometry.RawMeta, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return geometry.RawMeta{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return geometry.RawMeta{}, ErrNoVideoStream
	}

	s := res.Streams[0]
	rotation := 0
	if tag, ok := s.Tags["rotate"]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
			rotation = v
		}
	}
	for _, sd := range s.SideData {
		if sd.Rotation != nil {
			rotation = int(*sd.Rotation)
			break
		}
	}

	return geometry.RawMeta{
		CodedWidth:  s.Width,
		CodedHeight: s.Height,
		Rotation:    geometry.NormalizeRotation(rotation),
	}, nil
}

// Duration returns the container duration in seconds.
func (p *FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, err
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return strconv.ParseFloat(res.Format.Duration, 64)
}

func (p *FFProbe) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.probePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
