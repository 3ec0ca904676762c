package models

import "time"

// --- Registration & Worker Management ---

// RegistrationPayload is the initial handshake sent by the worker.
// Used in [POST] /api/v1/workers/register
type RegistrationPayload struct {
	WorkerID     string         `json:"worker_id"`
	BaseURL      string         `json:"base_url,omitempty"`
	StaticSpecs  StaticHardware `json:"static_specs"`
	Capabilities []string       `json:"capabilities"` // e.g. ["h264", "nvenc", "4k"]
}

// StaticHardware defines immutable specs reported once at startup to help the
// orchestrator make scheduling decisions based on raw power.
type StaticHardware struct {
	CPUModel             string   `json:"cpu_model"`
	TotalThreads         int      `json:"total_threads"`
	HardwareAcceleration []string `json:"hardware_acceleration"` // e.g. ["h264_nvenc"]
}

// --- Heartbeat & Telemetry ---

// Heartbeat is the periodic telemetry pulse.
// Used in [POST] /api/v1/workers/{id}/heartbeats
type Heartbeat struct {
	WorkerID   string          `json:"worker_id"`
	Status     string          `json:"status"` // IDLE, BUSY, STRESSED
	Telemetry  HardwareStats   `json:"telemetry"`
	ActiveJobs []ActiveContext `json:"active_jobs,omitempty"`
	QueueDepth int             `json:"queue_depth"`
}

// Worker status values.
const (
	WorkerIdle     = "IDLE"
	WorkerBusy     = "BUSY"
	WorkerStressed = "STRESSED"
)

// HardwareStats captures real-time host metrics gathered by gopsutil.
type HardwareStats struct {
	// CPU usage percentage (0.0 to 100.0)
	CPUPercent float64 `json:"cpu_percent"`
	// RAM usage percentage (0.0 to 100.0)
	RAMPercent   float64 `json:"ram_percent"`
	RAMFreeBytes uint64  `json:"ram_free_bytes"`

	// Computed flag: Is the system too busy to accept new work?
	// This is calculated by the Monitor based on thresholds (e.g. CPU > 80%).
	IsBusy bool `json:"is_busy"`
}

// ActiveContext provides progress data for a running job.
type ActiveContext struct {
	JobID    string  `json:"job_id"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"` // 0-100%
	FPS      float64 `json:"fps"`
	Speed    float64 `json:"speed"` // 1.0 = realtime
}

// --- Jobs ---

// JobSpec is a transcode request received over HTTP.
// Used in [POST] /jobs
type JobSpec struct {
	JobID      string `json:"job_id,omitempty"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	MaxHeight  int    `json:"max_height,omitempty"`  // display height cap, default 720
	BitrateBps int    `json:"bitrate_bps,omitempty"` // target video bitrate
}

// JobStatus is the externally visible snapshot of a job.
// Used in [GET] /jobs/{id}
type JobStatus struct {
	JobID      string     `json:"job_id"`
	State      string     `json:"state"`
	InputPath  string     `json:"input_path"`
	OutputPath string     `json:"output_path,omitempty"`
	Progress   float64    `json:"progress"`
	Plan       *PlanInfo  `json:"plan,omitempty"`
	Outcome    *Outcome   `json:"outcome,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PlanInfo describes the encode that was (or will be) run.
type PlanInfo struct {
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Resize       bool   `json:"resize"`
	IsAligned    bool   `json:"is_aligned"`
	BitrateBps   int    `json:"bitrate_bps"`
	EncoderClass string `json:"encoder_class"` // HARDWARE_PREFERRED, SOFTWARE_ONLY
	Encoder      string `json:"encoder"`       // e.g. "h264_nvenc", "libx264"
	Degraded     bool   `json:"degraded,omitempty"`
}

// Outcome reports the size comparison made after encoding.
type Outcome struct {
	OriginalBytes int64 `json:"original_bytes"`
	ProducedBytes int64 `json:"produced_bytes"`
	Accepted      bool  `json:"accepted"`
}

// JobError provides details when a job fails or is cancelled.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobResultPayload reports job completion or failure.
// Used in [POST] /api/v1/jobs/{id}/finalize
type JobResultPayload struct {
	Status     string    `json:"status"` // "COMPLETED", "FAILED", "CANCELLED"
	OutputPath string    `json:"output_path,omitempty"`
	Outcome    *Outcome  `json:"outcome,omitempty"`
	Error      *JobError `json:"error,omitempty"`
	Metrics    struct {
		TotalTimeMS int64 `json:"total_time_ms"`
	} `json:"metrics"`
}

// IsTerminal returns true if the status is in a terminal state.
func (s *JobStatus) IsTerminal() bool {
	return s.State == "completed" || s.State == "failed" || s.State == "cancelled"
}
