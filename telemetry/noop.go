package telemetry

import "time"

type (
	// NoopLogger discards all log messages. Used in tests and wherever
	// logging is not wired.
	NoopLogger struct{}

	// NoopMetrics discards all metrics.
	NoopMetrics struct{}
)

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}
func (NoopLogger) With(...any) Logger   { return NoopLogger{} }

func (NoopMetrics) IncCounter(string, float64, ...string)    {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string) {}
func (NoopMetrics) RecordGauge(string, float64, ...string)   {}
