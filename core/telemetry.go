package core

import "context"

// Telemetry is the optional instrumentation hook. The brain records
// spans around turns, schema fetches and action executions, and counts
// outcomes through RecordMetric.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry provides a no-op telemetry implementation.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
