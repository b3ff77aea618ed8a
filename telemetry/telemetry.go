// Package telemetry defines the logging and metrics abstractions used
// throughout Kira. Components depend on the interfaces, never on a concrete
// backend, so tests can substitute no-op implementations and production
// wiring can swap backends without touching call sites.
package telemetry

import "time"

type (
	// Logger emits structured log records. Implementations must be safe for
	// concurrent use. keyvals are alternating key/value pairs, mirroring the
	// field-chaining style used across the retrieved examples.
	Logger interface {
		Debug(msg string, keyvals ...any)
		Info(msg string, keyvals ...any)
		Warn(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)

		// With returns a child logger that always includes the given keyvals,
		// used to bind trace_id/session_id for the lifetime of a request.
		With(keyvals ...any) Logger
	}

	// Metrics records counters, timers, and gauges. Implementations must be
	// safe for concurrent use.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}
)
