// ABOUTME: Core telemetry abstraction over OpenTelemetry used by the shard engine and its slices
// ABOUTME: Provides metric recording, tracing and lifecycle management with a no-op implementation

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the narrow surface components record metrics and spans through,
// so they never depend on OpenTelemetry providers directly.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes and stops all providers.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is implemented by the component-specific metrics wrappers.
type ComponentMetrics interface {
	Close() error
}

// NoopTelemetry discards everything.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// NewForTesting returns telemetry that is completely disabled, for tests
// that exercise real components.
func NewForTesting() Telemetry {
	return NewNoop()
}

func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and whatever span it already carries.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration records the time elapsed since start, in seconds.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// RecordBytes records a byte count in a counter.
func RecordBytes(ctx context.Context, tel Telemetry, name string, bytes int64, attrs ...attribute.KeyValue) {
	tel.RecordCounter(ctx, name, bytes, attrs...)
}

// Attribute keys shared across components
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrErrorType     = "error.type"

	AttrSliceID    = "slice.id"
	AttrGeneration = "generation"
	AttrReason     = "reason"
)

// Attribute values
const (
	OpTypeWrite = "write"
	OpTypeRead  = "read"
	OpTypeRange = "range"
	OpTypeSync  = "sync"

	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"

	ComponentIndex   = "index"
	ComponentStorage = "storage"
	ComponentEngine  = "engine"
	ComponentSnap    = "snapshot"
)
