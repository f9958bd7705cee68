package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time resource sample of one script process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	SampledAt  time.Time `json:"sampled_at"`
}

// Sample collects CPU and memory usage for pid and updates the resident
// memory gauge for script.
func Sample(ctx context.Context, script string, pid int) (Resources, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Resources{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	// CPU percent and thread count are best-effort; zero when unavailable.
	cpu, _ := proc.CPUPercentWithContext(ctx)
	threads, _ := proc.NumThreadsWithContext(ctx)

	r := Resources{
		PID:        int32(pid),
		CPUPercent: cpu,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: threads,
		SampledAt:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			r.NumFDs = fds
		}
	}
	SetResidentMemory(script, memInfo.RSS)
	return r, nil
}
