package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/scriptdeck/internal/broadcast"
	"github.com/loykin/scriptdeck/internal/history"
	"github.com/loykin/scriptdeck/internal/metrics"
)

const (
	// DefaultStopGrace is how long a stopped script may take to exit before
	// its process group is killed.
	DefaultStopGrace = 10 * time.Second
	// DefaultShutdownGrace bounds shutdown when escalation on Stop is disabled.
	DefaultShutdownGrace = 3 * time.Second
	// reapMargin is the extra time a start waits for the previous run on top of
	// the stop grace.
	reapMargin = 2 * time.Second
)

// Journal is the durable sink of one script's output and lifecycle markers.
// Implementations must serialize concurrent writes.
type Journal interface {
	Line(line string) error
	Marker(event string) error
}

// Publisher delivers live output to viewers. Publish must not block.
type Publisher interface {
	Publish(topic string, msg broadcast.Message)
}

// Recorder exports lifecycle events. Record must not block.
type Recorder interface {
	Record(e history.Event)
}

// Options carries the collaborators shared by every handle of a registry.
type Options struct {
	Runtime   Runtime
	Journal   func(id string) (Journal, error) // opened lazily on first start
	Publisher Publisher
	StopGrace time.Duration // 0 disables SIGKILL escalation on Stop
	History   Recorder
	Logger    *slog.Logger
}

// Handle supervises one script across its start/stop cycles. All lifecycle
// changes run on a single goroutine fed by cmdChan; readers take a snapshot
// under mu.
//
// State machine:
// idle -> running -> stopped -> running -> ...
type Handle struct {
	script Script
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   string
	runs      int

	// owned by the actor goroutine
	current *run
	journal Journal

	cmdChan  chan command
	doneChan chan struct{}
	wg       sync.WaitGroup // pumps and watchdogs
}

// run is one spawned process. done is closed by the pump after cmd.Wait
// returns; err and readErr are valid only after that.
type run struct {
	seq      int
	cmd      *exec.Cmd
	pid      int
	done     chan struct{}
	err      error
	readErr  error
	finished bool // exit already recorded; actor only
}

type command struct {
	action commandAction
	run    *run
	reply  chan error
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionExited
	actionShutdown
)

// NewHandle creates an idle handle and starts its actor goroutine.
func NewHandle(script Script, opts Options) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handle{
		script:   script,
		opts:     opts,
		logger:   logger.With("script", script.ID),
		state:    StateIdle,
		cmdChan:  make(chan command, 16),
		doneChan: make(chan struct{}),
	}
	go h.runStateMachine()
	return h
}

// Script returns the immutable description the handle was created with.
func (h *Handle) Script() Script { return h.script }

// Start spawns the script unless it is already running. It returns once the
// process is spawned; it never waits for the script to finish.
func (h *Handle) Start() error { return h.send(actionStart) }

// Stop signals the script's process group and marks the handle stopped
// without waiting for the process to exit.
func (h *Handle) Stop() error { return h.send(actionStop) }

// Shutdown stops the script, waits for it to exit (escalating to SIGKILL) and
// terminates the actor. Later commands fail with ErrShuttingDown.
func (h *Handle) Shutdown() error {
	err := h.send(actionShutdown)
	if errors.Is(err, ErrShuttingDown) {
		return nil
	}
	if err == nil {
		h.wg.Wait()
	}
	return err
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsRunning reports whether the handle is in the running state.
func (h *Handle) IsRunning() bool { return h.State() == StateRunning }

// Status returns a snapshot of the handle.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{
		Script:    h.script.ID,
		State:     h.state,
		Running:   h.state == StateRunning,
		PID:       h.pid,
		StartedAt: h.startedAt,
		StoppedAt: h.stoppedAt,
		ExitErr:   h.exitErr,
		Runs:      h.runs,
	}
}

func (h *Handle) send(action commandAction) error {
	reply := make(chan error, 1)
	select {
	case h.cmdChan <- command{action: action, reply: reply}:
	case <-h.doneChan:
		return ErrShuttingDown
	}
	select {
	case err := <-reply:
		return err
	case <-h.doneChan:
		select {
		case err := <-reply:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

// runStateMachine is the actor loop (single goroutine, no races on actor fields)
func (h *Handle) runStateMachine() {
	defer close(h.doneChan)
	for {
		cmd := <-h.cmdChan
		var err error
		switch cmd.action {
		case actionStart:
			err = h.handleStart()
		case actionStop:
			err = h.handleStop()
		case actionExited:
			h.handleExited(cmd.run)
		case actionShutdown:
			err = h.handleShutdown()
			if cmd.reply != nil {
				cmd.reply <- err
			}
			return
		}
		if cmd.reply != nil {
			cmd.reply <- err
		}
	}
}

func (h *Handle) handleStart() error {
	if h.State() == StateRunning {
		return nil
	}
	if prev := h.current; prev != nil && !prev.finished {
		if !awaitRun(prev, h.reapWindow()) {
			return fmt.Errorf("start %s (pid %d): %w", h.script.ID, prev.pid, ErrPreviousRunActive)
		}
		h.finishRun(prev)
	}
	if h.journal == nil {
		h.openJournal()
	}

	r, out, err := h.spawn()
	if err != nil {
		metrics.IncSpawnFailure(h.script.ID)
		h.logger.Error("spawn failed", "path", h.script.Path, "error", err)
		return err
	}
	h.current = r

	h.mu.Lock()
	h.pid = r.pid
	h.exitErr = ""
	h.runs = r.seq
	h.mu.Unlock()
	h.setState(StateRunning, time.Now())

	// the marker must precede every line of this run, so it is written before
	// the pump starts draining
	h.mark("started")
	metrics.IncStart(h.script.ID)
	h.emit(history.EventStart, r, "")
	h.logger.Info("script started", "pid", r.pid, "run", r.seq)

	h.wg.Add(1)
	go h.pump(r, out, h.journal)
	return nil
}

func (h *Handle) spawn() (*run, *os.File, error) {
	l := h.opts.Runtime.Launch(h.script)
	cmd := l.Command()

	// stdout and stderr share one pipe so lines keep their relative order
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, &SpawnError{Script: h.script.ID, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, &SpawnError{Script: h.script.ID, Err: err}
	}
	// the child holds its own copy; EOF arrives once every writer is gone
	_ = pw.Close()

	h.mu.RLock()
	seq := h.runs + 1
	h.mu.RUnlock()
	return &run{seq: seq, cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}, pr, nil
}

func (h *Handle) openJournal() {
	if h.opts.Journal == nil {
		return
	}
	j, err := h.opts.Journal(h.script.ID)
	if err != nil {
		metrics.IncJournalError(h.script.ID)
		h.logger.Warn("journal unavailable, output will not be persisted",
			"error", &LogWriteError{Script: h.script.ID, Err: err})
		return
	}
	h.journal = j
}

func (h *Handle) handleStop() error {
	if h.State() != StateRunning {
		return nil
	}
	r := h.current
	if err := terminate(r.pid); err != nil {
		// usually the process already exited and the pump has not reported yet
		h.logger.Debug("terminate failed", "pid", r.pid, "error", err)
	}
	h.setState(StateStopped, time.Now())
	h.mark("stopped")
	metrics.IncStop(h.script.ID)
	h.emit(history.EventStop, r, "")
	h.logger.Info("script stopped", "pid", r.pid)

	if grace := h.opts.StopGrace; grace > 0 {
		h.wg.Add(1)
		go h.watchdog(r, grace)
	}
	return nil
}

func (h *Handle) handleExited(r *run) {
	if r == nil || r.finished {
		return
	}
	h.finishRun(r)
}

// finishRun records the exit of r: marker, state and history. It must only be
// called after r.done is closed.
func (h *Handle) finishRun(r *run) {
	r.finished = true
	if r.readErr != nil {
		h.logger.Warn("output stream failed", "pid", r.pid, "error", r.readErr)
	}

	status := "exit status 0"
	exitErr := ""
	if r.err != nil {
		status = r.err.Error()
		exitErr = status
	}
	h.mark("exited (" + status + ")")
	metrics.IncExit(h.script.ID)

	h.mu.Lock()
	h.exitErr = exitErr
	h.mu.Unlock()
	if h.State() == StateRunning {
		h.setState(StateStopped, time.Now())
	}
	h.emit(history.EventExit, r, exitErr)
	h.logger.Info("script exited", "pid", r.pid, "status", status)
}

func (h *Handle) handleShutdown() error {
	r := h.current
	if r == nil || r.finished {
		return nil
	}
	if h.State() == StateRunning {
		_ = h.handleStop()
	}
	grace := h.opts.StopGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	if !awaitRun(r, grace) {
		if err := kill(r.pid); err == nil {
			metrics.IncKill(h.script.ID)
		}
		if !awaitRun(r, reapMargin) {
			return fmt.Errorf("script %s (pid %d) did not exit after kill", h.script.ID, r.pid)
		}
	}
	h.finishRun(r)
	return nil
}

// watchdog escalates to SIGKILL when a stopped run outlives the grace period.
func (h *Handle) watchdog(r *run, grace time.Duration) {
	defer h.wg.Done()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-r.done:
	case <-h.doneChan:
	case <-t.C:
		h.logger.Warn("script ignored termination signal, killing", "pid", r.pid, "grace", grace)
		if err := kill(r.pid); err != nil {
			h.logger.Debug("kill failed", "pid", r.pid, "error", err)
			return
		}
		metrics.IncKill(h.script.ID)
	}
}

func (h *Handle) reapWindow() time.Duration {
	return h.opts.StopGrace + reapMargin
}

func awaitRun(r *run, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.done:
		return true
	case <-t.C:
		return false
	}
}

// setState safely updates state (minimal lock scope)
func (h *Handle) setState(s State, at time.Time) {
	h.mu.Lock()
	old := h.state
	h.state = s
	switch s {
	case StateRunning:
		h.startedAt = at
		h.stoppedAt = time.Time{}
	case StateStopped:
		h.stoppedAt = at
	}
	h.mu.Unlock()

	if old == s {
		return
	}
	metrics.RecordStateTransition(h.script.ID, string(old), string(s))
	metrics.SetCurrentState(h.script.ID, string(old), false)
	metrics.SetCurrentState(h.script.ID, string(s), true)
}

func (h *Handle) mark(event string) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Marker(event); err != nil {
		metrics.IncJournalError(h.script.ID)
		h.logger.Warn("marker not persisted", "event", event,
			"error", &LogWriteError{Script: h.script.ID, Err: err})
	}
}

func (h *Handle) emit(t history.EventType, r *run, exitErr string) {
	if h.opts.History == nil {
		return
	}
	h.opts.History.Record(history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Script:     h.script.ID,
		PID:        r.pid,
		ExitErr:    exitErr,
	})
}
