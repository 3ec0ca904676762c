package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/geometry"
	"safe-transcode/internal/job"
	"safe-transcode/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProber struct{}

func (stubProber) Probe(context.Context, string) (geometry.RawMeta, error) {
	return geometry.RawMeta{CodedWidth: 1920, CodedHeight: 1080}, nil
}

// stubEngine writes a small output and reports one progress update.
type stubEngine struct{}

func (stubEngine) Encode(_ context.Context, req encoding.Request) (<-chan encoding.Result, error) {
	ch := make(chan encoding.Result, 1)
	go func() {
		defer close(ch)
		if req.Progress != nil {
			req.Progress <- encoding.Progress{Percent: 50}
		}
		_ = os.WriteFile(req.DestPath, []byte("tiny"), 0o644)
		ch <- encoding.Result{Status: encoding.StatusCompleted}
	}()
	return ch, nil
}

type recordingFinalizer struct {
	mu       sync.Mutex
	payloads map[string]models.JobResultPayload
	done     chan string
}

func newRecordingFinalizer() *recordingFinalizer {
	return &recordingFinalizer{payloads: map[string]models.JobResultPayload{}, done: make(chan string, 8)}
}

func (f *recordingFinalizer) FinalizeJob(_ context.Context, id string, p models.JobResultPayload) error {
	f.mu.Lock()
	f.payloads[id] = p
	f.mu.Unlock()
	f.done <- id
	return nil
}

func newScheduler(fin Finalizer, queueSize int) *Scheduler {
	return New(job.DefaultPolicy(), job.Deps{Prober: stubProber{}, Engine: stubEngine{}}, 2, queueSize, fin)
}

func writeInput(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.mov")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func waitFinal(t *testing.T, fin *recordingFinalizer) string {
	t.Helper()
	select {
	case id := <-fin.done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job was not finalized")
	}
	return ""
}

func TestSubmit_Validation(t *testing.T) {
	s := newScheduler(nil, 4)

	_, err := s.Submit(models.JobSpec{InputPath: "a.mov"})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = s.Submit(models.JobSpec{InputPath: "a.mov", OutputPath: "a.mov"})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	id, err := s.Submit(models.JobSpec{JobID: "x", InputPath: "a.mov", OutputPath: "b.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	_, err = s.Submit(models.JobSpec{JobID: "x", InputPath: "a.mov", OutputPath: "c.mp4"})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	st, ok := s.Status("x")
	require.True(t, ok)
	assert.Equal(t, "created", st.State)
	assert.Equal(t, 1, s.QueueDepth())
}

func TestSubmit_QueueFull(t *testing.T) {
	s := newScheduler(nil, 1)
	_, err := s.Submit(models.JobSpec{InputPath: "a.mov", OutputPath: "b.mp4"})
	require.NoError(t, err)

	_, err = s.Submit(models.JobSpec{InputPath: "a.mov", OutputPath: "c.mp4"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRun_ExecutesAndFinalizes(t *testing.T) {
	fin := newRecordingFinalizer()
	s := newScheduler(fin, 4)

	input := writeInput(t, 10_000)
	output := filepath.Join(t.TempDir(), "out.mp4")
	id, err := s.Submit(models.JobSpec{InputPath: input, OutputPath: output})
	require.NoError(t, err)

	missing, err := s.Submit(models.JobSpec{InputPath: filepath.Join(t.TempDir(), "gone.mov"), OutputPath: output + ".2"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	finished := map[string]bool{waitFinal(t, fin): true, waitFinal(t, fin): true}
	cancel()
	require.NoError(t, <-runErr)

	assert.True(t, finished[id])
	assert.True(t, finished[missing])

	st, ok := s.Status(id)
	require.True(t, ok)
	assert.Equal(t, "completed", st.State)
	assert.Equal(t, output, st.OutputPath)
	assert.Equal(t, 100.0, st.Progress)
	require.NotNil(t, st.Plan)
	assert.Equal(t, 1280, st.Plan.Width)
	assert.Equal(t, "HARDWARE_PREFERRED", st.Plan.EncoderClass)
	require.NotNil(t, st.Outcome)
	assert.True(t, st.Outcome.Accepted)
	assert.NotNil(t, st.FinishedAt)

	st, _ = s.Status(missing)
	assert.Equal(t, "failed", st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, string(job.KindMissingInput), st.Error.Kind)

	fin.mu.Lock()
	defer fin.mu.Unlock()
	assert.Equal(t, "COMPLETED", fin.payloads[id].Status)
	assert.Equal(t, "FAILED", fin.payloads[missing].Status)

	assert.Empty(t, s.Active())
	assert.Zero(t, s.QueueDepth())
}

func TestRun_CancelsQueuedJobsOnShutdown(t *testing.T) {
	fin := newRecordingFinalizer()
	s := newScheduler(fin, 4)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := s.Submit(models.JobSpec{InputPath: "in.mov", OutputPath: filepath.Join(t.TempDir(), "out.mp4")})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	assert.Zero(t, s.QueueDepth())
	for _, id := range ids {
		st, ok := s.Status(id)
		require.True(t, ok)
		assert.Equal(t, "cancelled", st.State)
		assert.NotNil(t, st.FinishedAt)
		require.NotNil(t, st.Error)
		assert.Equal(t, string(job.KindCancelled), st.Error.Kind)
	}

	fin.mu.Lock()
	defer fin.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, "CANCELLED", fin.payloads[id].Status)
	}
}

func TestSubmit_RejectsSameFileSpellings(t *testing.T) {
	s := newScheduler(nil, 4)
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")

	_, err := s.Submit(models.JobSpec{InputPath: input, OutputPath: filepath.Join(dir, "x", "..", "clip.mp4")})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestStatus_Unknown(t *testing.T) {
	_, ok := newScheduler(nil, 1).Status("nope")
	assert.False(t, ok)
}

func TestTerminalStatus(t *testing.T) {
	assert.Equal(t, "COMPLETED", terminalStatus("completed"))
	assert.Equal(t, "CANCELLED", terminalStatus("cancelled"))
	assert.Equal(t, "FAILED", terminalStatus("failed"))
}
