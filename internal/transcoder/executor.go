package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"safe-transcode/internal/encoding"
	ctxlog "safe-transcode/internal/log"
)

// stderrTailLines is how much ffmpeg output an error result carries.
const stderrTailLines = 12

// Encode starts ffmpeg and returns immediately. The channel yields exactly one
// result: completed once the output has been renamed into place, error with
// the ffmpeg diagnostic, or cancelled when ctx ends first.
func (e *Engine) Encode(ctx context.Context, req encoding.Request) (<-chan encoding.Result, error) {
	logger := ctxlog.WithContext(ctx, e.logger)

	// 1. ffmpeg writes next to the destination so the final rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(req.DestPath), ".safe-transcode-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	// 2. The duration drives the percentage; a failed probe just means no percent.
	var durationSec float64
	if req.Progress != nil && e.prober != nil {
		if d, err := e.prober.Duration(ctx, req.SourcePath); err == nil {
			durationSec = d
		}
	}

	args := e.buildArgs(req, tmpPath)
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	// 3. Start is non-blocking, ffmpeg works in the background.
	if err := cmd.Start(); err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			ch := make(chan encoding.Result, 1)
			ch <- encoding.Result{Status: encoding.StatusCancelled, Err: ctx.Err()}
			close(ch)
			return ch, nil
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("plan", req.Plan.String()).
		Msg("ffmpeg started")

	results := make(chan encoding.Result, 1)
	go func() {
		defer close(results)
		started := time.Now()

		// 4. Monitor progress until ffmpeg closes stderr.
		diag := &tail{n: stderrTailLines}
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Split(scanLines)
		for scanner.Scan() {
			line := scanner.Text()
			p, ok := parseProgress(line, durationSec)
			if !ok {
				diag.add(line)
				continue
			}
			if req.Progress != nil {
				select {
				case req.Progress <- p:
				default:
					// Drop the update if nobody is listening.
				}
			}
		}

		if err := scanner.Err(); err != nil {
			// ffmpeg must not block on a full pipe while we wait for it.
			logger.Warn().Err(err).Msg("stopped reading ffmpeg output")
			_, _ = io.Copy(io.Discard, stderrPipe)
		}

		// 5. Wait for the process and classify the outcome.
		waitErr := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			os.Remove(tmpPath)
			logger.Warn().Err(ctx.Err()).Msg("ffmpeg cancelled")
			results <- encoding.Result{Status: encoding.StatusCancelled, Err: ctx.Err()}
		case waitErr != nil:
			os.Remove(tmpPath)
			msg := diag.String()
			if msg == "" {
				msg = waitErr.Error()
			}
			logger.Error().Err(waitErr).Str("stderr", msg).Msg("ffmpeg failed")
			results <- encoding.Result{
				Status:  encoding.StatusError,
				Message: msg,
				Err:     fmt.Errorf("ffmpeg process failed: %w", waitErr),
			}
		default:
			if err := os.Rename(tmpPath, req.DestPath); err != nil {
				os.Remove(tmpPath)
				results <- encoding.Result{
					Status:  encoding.StatusError,
					Message: err.Error(),
					Err:     fmt.Errorf("move output into place: %w", err),
				}
				return
			}
			logger.Info().Dur("elapsed", time.Since(started)).Str("output", req.DestPath).Msg("ffmpeg finished")
			results <- encoding.Result{Status: encoding.StatusCompleted}
		}
	}()

	return results, nil
}
