package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"safe-transcode/pkg/models"
)

// Busy thresholds: above either, the orchestrator should skip this worker.
const (
	BusyCPUPercent = 80.0
	BusyRAMPercent = 90.0
)

// CapabilitySource lists encoder capabilities, typically the transcoding engine.
type CapabilitySource interface {
	Capabilities() []string
	HardwareEncoder() (string, bool)
}

// SystemMonitor reports host load and the static specs of this worker.
type SystemMonitor struct {
	source CapabilitySource

	once   sync.Once
	static models.StaticHardware

	// sampling hooks, swapped in tests
	memStats func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	cpuStats func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
}

// NewSystemMonitor creates a monitor backed by gopsutil.
func NewSystemMonitor(source CapabilitySource) *SystemMonitor {
	return &SystemMonitor{
		source:   source,
		memStats: mem.VirtualMemoryWithContext,
		cpuStats: cpu.PercentWithContext,
	}
}

// GetCapabilities returns what this worker can encode.
func (m *SystemMonitor) GetCapabilities() []string {
	if m.source == nil {
		return []string{"h264", "aac"}
	}
	return m.source.Capabilities()
}

// GetStaticSpecs gathers hardware info that doesn't change. It runs once
// because hardware does not change at runtime.
func (m *SystemMonitor) GetStaticSpecs(ctx context.Context) models.StaticHardware {
	m.once.Do(func() {
		model := "Unknown CPU"
		if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
			model = info[0].ModelName
		}

		accel := []string{}
		if m.source != nil {
			if enc, ok := m.source.HardwareEncoder(); ok {
				accel = append(accel, enc)
			}
		}

		m.static = models.StaticHardware{
			CPUModel:             model,
			TotalThreads:         runtime.NumCPU(),
			HardwareAcceleration: accel,
		}
	})
	return m.static
}

// GetStats gathers real-time CPU and RAM usage.
func (m *SystemMonitor) GetStats(ctx context.Context) (models.HardwareStats, error) {
	stats := models.HardwareStats{}

	// 1. Memory
	v, err := m.memStats(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = v.UsedPercent
	stats.RAMFreeBytes = v.Available

	// 2. CPU over a short window; 0 would return the last gauge value.
	cpuPct, err := m.cpuStats(ctx, 500*time.Millisecond, false)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	stats.IsBusy = stats.CPUPercent > BusyCPUPercent || stats.RAMPercent > BusyRAMPercent
	return stats, nil
}
