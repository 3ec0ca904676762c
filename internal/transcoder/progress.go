package transcoder

import (
	"bytes"
	"regexp"
	"strconv"

	"safe-transcode/internal/encoding"
)

var (
	// time=00:00:15.45
	reTime = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)`)
	// fps= 24
	reFPS = regexp.MustCompile(`fps=\s*(\d+(?:\.\d+)?)`)
	// speed=1.53x
	reSpeed = regexp.MustCompile(`speed=\s*(\d+(?:\.\d+)?)x`)
)

// parseProgress extracts progress from an ffmpeg stats line. durationSec may
// be zero when the source duration is unknown.
func parseProgress(line string, durationSec float64) (encoding.Progress, bool) {
	matches := reTime.FindStringSubmatch(line)
	if len(matches) != 4 {
		return encoding.Progress{}, false
	}

	h, _ := strconv.Atoi(matches[1])
	m, _ := strconv.Atoi(matches[2])
	s, _ := strconv.ParseFloat(matches[3], 64)
	currentSec := float64(h*3600+m*60) + s

	var p encoding.Progress
	if durationSec > 0 {
		p.Percent = currentSec / durationSec * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	if fps := reFPS.FindStringSubmatch(line); len(fps) > 1 {
		p.FPS, _ = strconv.ParseFloat(fps[1], 64)
	}
	if speed := reSpeed.FindStringSubmatch(line); len(speed) > 1 {
		p.Speed, _ = strconv.ParseFloat(speed[1], 64)
	}
	return p, true
}

// scanLines splits on \n and on the bare \r ffmpeg uses to redraw its stats
// line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last n non-empty lines for diagnostics.
type tail struct {
	n     int
	lines []string
}

func (t *tail) add(line string) {
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	var b bytes.Buffer
	for i, l := range t.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}
