package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultSampleInterval = 15 * time.Second
	DefaultHistorySize    = 60
)

// CollectorConfig controls periodic sampling of running scripts.
type CollectorConfig struct {
	Interval    time.Duration
	HistorySize int // samples kept per script
	Logger      *slog.Logger
}

// Collector periodically samples every running script and keeps a bounded
// history per script. History survives the process exiting so the last
// samples of a finished run stay visible until the script runs again.
type Collector struct {
	interval time.Duration
	size     int
	logger   *slog.Logger

	mu      sync.RWMutex
	history map[string][]Resources
	pids    map[string]int
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Collector{
		interval: cfg.Interval,
		size:     cfg.HistorySize,
		logger:   cfg.Logger,
		history:  make(map[string][]Resources),
		pids:     make(map[string]int),
	}
}

// Run samples the processes returned by running (script -> pid) every
// interval until ctx is done.
func (c *Collector) Run(ctx context.Context, running func() map[string]int) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Collect(ctx, running())
		}
	}
}

// Collect takes one sample of each process.
func (c *Collector) Collect(ctx context.Context, procs map[string]int) {
	for script, pid := range procs {
		if pid <= 0 {
			continue
		}
		r, err := Sample(ctx, script, pid)
		if err != nil {
			// usually the process exited between listing and sampling
			c.logger.Debug("resource sample failed", "script", script, "pid", pid, "error", err)
			continue
		}
		setSample(script, r)
		c.record(script, pid, r)
	}

	c.mu.Lock()
	for script := range c.pids {
		if _, ok := procs[script]; !ok {
			delete(c.pids, script)
			clearSample(script)
		}
	}
	c.mu.Unlock()
}

func (c *Collector) record(script string, pid int, r Resources) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[script]
	if c.pids[script] != pid {
		// new run; older samples belong to a previous process
		h = h[:0]
		c.pids[script] = pid
	}
	h = append(h, r)
	if len(h) > c.size {
		h = h[len(h)-c.size:]
	}
	c.history[script] = h
}

// History returns a copy of the samples kept for script, oldest first.
func (c *Collector) History(script string) []Resources {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[script]
	out := make([]Resources, len(h))
	copy(out, h)
	return out
}
