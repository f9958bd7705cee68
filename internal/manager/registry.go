package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/scriptdeck/internal/history"
	"github.com/loykin/scriptdeck/internal/logstore"
	"github.com/loykin/scriptdeck/internal/metrics"
	"github.com/loykin/scriptdeck/internal/process"
)

var (
	// ErrClosed is returned for start requests after Close.
	ErrClosed = errors.New("registry closed")
	// ErrNotRunning is returned when a running process is required.
	ErrNotRunning = errors.New("script is not running")
)

// Config wires a Registry to its collaborators.
type Config struct {
	Runtime   process.Runtime
	LogsDir   string
	StopGrace time.Duration
	Publisher process.Publisher
	History   []history.Sink
	// HistoryQueue bounds events waiting for the sinks; 0 uses the default.
	HistoryQueue int
	Logger       *slog.Logger
}

// Registry maps script identifiers to their handles. Handles are created on
// first use and kept for the lifetime of the registry so repeated start/stop
// cycles reuse the same handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*process.Handle
	closed  bool

	store   *logstore.Store
	history *history.Dispatcher
	opts    process.Options
	logger  *slog.Logger
}

func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := logstore.New(cfg.LogsDir)
	r := &Registry{
		handles: make(map[string]*process.Handle),
		store:   store,
		history: history.NewDispatcher(cfg.History, cfg.HistoryQueue, logger.With("component", "history")),
		logger:  logger,
		opts: process.Options{
			Runtime: cfg.Runtime,
			Journal: func(id string) (process.Journal, error) {
				return store.Open(id)
			},
			Publisher: cfg.Publisher,
			StopGrace: cfg.StopGrace,
			Logger:    logger,
		},
	}
	if r.history != nil {
		r.opts.History = r.history
	}
	return r
}

// GetOrCreate returns the handle for s.ID, creating it on first use. Path and
// folder of an existing handle are never changed.
func (r *Registry) GetOrCreate(s process.Script) (*process.Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[s.ID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return h, nil
	}
	if closed {
		return nil, ErrClosed
	}
	if _, err := r.store.Path(s.ID); err != nil {
		return nil, fmt.Errorf("script %q: %w", s.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if h, ok := r.handles[s.ID]; ok {
		return h, nil
	}
	h = process.NewHandle(s, r.opts)
	r.handles[s.ID] = h
	metrics.SetCurrentState(s.ID, string(process.StateIdle), true)
	return h, nil
}

// Start resolves the handle for s and starts it. Starting a running script is
// a no-op.
func (r *Registry) Start(s process.Script) error {
	h, err := r.GetOrCreate(s)
	if err != nil {
		return err
	}
	return h.Start()
}

// Stop stops the script; unknown identifiers are ignored.
func (r *Registry) Stop(id string) error {
	h, ok := r.Lookup(id)
	if !ok {
		return nil
	}
	return h.Stop()
}

// Lookup returns the handle for id without creating one.
func (r *Registry) Lookup(id string) (*process.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// IsRunning reports false for unknown identifiers.
func (r *Registry) IsRunning(id string) bool {
	h, ok := r.Lookup(id)
	return ok && h.IsRunning()
}

// State reports idle for unknown identifiers.
func (r *Registry) State(id string) process.State {
	if h, ok := r.Lookup(id); ok {
		return h.State()
	}
	return process.StateIdle
}

// Status returns the snapshot of id, or an idle status for unknown identifiers.
func (r *Registry) Status(id string) process.Status {
	if h, ok := r.Lookup(id); ok {
		return h.Status()
	}
	return process.Status{Script: id, State: process.StateIdle}
}

// StatusAll returns snapshots of every known handle ordered by identifier.
func (r *Registry) StatusAll() []process.Status {
	r.mu.RLock()
	hs := make([]*process.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	out := make([]process.Status, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Script < out[j].Script })
	return out
}

// Log returns the full journal of id; empty when nothing was written yet.
func (r *Registry) Log(id string) (string, error) {
	return r.store.Read(id)
}

// Resources samples CPU and memory of the running process of id.
func (r *Registry) Resources(ctx context.Context, id string) (metrics.Resources, error) {
	st := r.Status(id)
	if !st.Running || st.PID <= 0 {
		return metrics.Resources{}, fmt.Errorf("script %q: %w", id, ErrNotRunning)
	}
	return metrics.Sample(ctx, id, st.PID)
}

// RunningPIDs maps every running script to its process id.
func (r *Registry) RunningPIDs() map[string]int {
	out := make(map[string]int)
	for _, st := range r.StatusAll() {
		if st.Running && st.PID > 0 {
			out[st.Script] = st.PID
		}
	}
	return out
}

// Close shuts every handle down concurrently, escalating to SIGKILL after the
// stop grace, flushes pending history events and closes all journals.
// Further starts fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	hs := make([]*process.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	// one slot per handle so every failure is reported, not just the first
	errs := make([]error, len(hs), len(hs)+2)
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Shutdown(); err != nil {
				r.logger.Error("script shutdown failed", "script", h.Script().ID, "error", err)
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	errs = append(errs, r.history.Close(), r.store.Close())
	return errors.Join(errs...)
}
