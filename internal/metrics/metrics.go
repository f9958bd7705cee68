package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	scriptStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "starts_total",
			Help:      "Number of successful script starts.",
		}, []string{"script"},
	)
	scriptSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "spawn_failures_total",
			Help:      "Number of start requests whose process could not be spawned.",
		}, []string{"script"},
	)
	scriptStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "stops_total",
			Help:      "Number of explicit stops.",
		}, []string{"script"},
	)
	scriptKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "kills_total",
			Help:      "Number of processes force-killed after the stop grace period.",
		}, []string{"script"},
	)
	scriptExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"script"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "output_lines_total",
			Help:      "Number of output lines drained from scripts.",
		}, []string{"script"},
	)
	journalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "journal_write_errors_total",
			Help:      "Number of lines or markers that could not be persisted.",
		}, []string{"script"},
	)
	broadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Messages skipped for subscribers whose queue was full.",
		}, []string{"topic"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between script states.",
		}, []string{"script", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "current_state",
			Help:      "Current state of scripts (1 = active state, 0 = inactive).",
		}, []string{"script", "state"},
	)
	residentMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the running script process at last sample.",
		}, []string{"script"},
	)
	historyDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptdeck",
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "Number of lifecycle events not exported because the history queue was full.",
		}, []string{"event"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "cpu_percent",
			Help:      "CPU usage of the running script process at last sample.",
		}, []string{"script"},
	)
	numThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriptdeck",
			Subsystem: "script",
			Name:      "threads",
			Help:      "Thread count of the running script process at last sample.",
		}, []string{"script"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		scriptStarts, scriptSpawnFailures, scriptStops, scriptKills, scriptExits,
		outputLines, journalErrors, broadcastDropped, stateTransitions, currentStates,
		residentMemory, cpuPercent, numThreads, historyDropped,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(script string) {
	if regOK.Load() {
		scriptStarts.WithLabelValues(script).Inc()
	}
}

func IncSpawnFailure(script string) {
	if regOK.Load() {
		scriptSpawnFailures.WithLabelValues(script).Inc()
	}
}

func IncStop(script string) {
	if regOK.Load() {
		scriptStops.WithLabelValues(script).Inc()
	}
}

func IncKill(script string) {
	if regOK.Load() {
		scriptKills.WithLabelValues(script).Inc()
	}
}

func IncExit(script string) {
	if regOK.Load() {
		scriptExits.WithLabelValues(script).Inc()
	}
}

func IncOutputLine(script string) {
	if regOK.Load() {
		outputLines.WithLabelValues(script).Inc()
	}
}

func IncJournalError(script string) {
	if regOK.Load() {
		journalErrors.WithLabelValues(script).Inc()
	}
}

func IncBroadcastDropped(topic string) {
	if regOK.Load() {
		broadcastDropped.WithLabelValues(topic).Inc()
	}
}

func IncHistoryDropped(event string) {
	if regOK.Load() {
		historyDropped.WithLabelValues(event).Inc()
	}
}

func RecordStateTransition(script, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(script, from, to).Inc()
	}
}

func SetCurrentState(script, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(script, state).Set(value)
	}
}

func SetResidentMemory(script string, bytes uint64) {
	if regOK.Load() {
		residentMemory.WithLabelValues(script).Set(float64(bytes))
	}
}

func setSample(script string, r Resources) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(script).Set(r.CPUPercent)
		numThreads.WithLabelValues(script).Set(float64(r.NumThreads))
	}
}

// clearSample drops the per-process gauges of a script that is no longer running.
func clearSample(script string) {
	if regOK.Load() {
		residentMemory.DeleteLabelValues(script)
		cpuPercent.DeleteLabelValues(script)
		numThreads.DeleteLabelValues(script)
	}
}
