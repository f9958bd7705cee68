package history

import (
	"log/slog"
	"sync"

	"github.com/loykin/scriptdeck/internal/metrics"
)

// DefaultQueueSize is the number of events a Dispatcher buffers.
const DefaultQueueSize = 1024

// Dispatcher exports events to sinks on its own goroutine so that callers
// never wait on sink I/O. Events that do not fit the queue are dropped and
// counted.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewDispatcher starts a dispatcher for sinks. A nil *Dispatcher is valid and
// discards everything, which is what callers without sinks use.
func NewDispatcher(sinks []Sink, size int, logger *slog.Logger) *Dispatcher {
	if len(sinks) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Record queues e for export. It never blocks.
func (d *Dispatcher) Record(e Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		metrics.IncHistoryDropped(string(e.Type))
		d.logger.Debug("history queue full, event dropped", "script", e.Script, "event", e.Type)
	}
}

// Close stops accepting events and waits until the queued ones were sent.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		Emit(d.logger, d.sinks, e)
	}
}
