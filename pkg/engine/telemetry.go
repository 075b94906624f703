// ABOUTME: Engine-level telemetry for operation latency, errors and startup
// ABOUTME: Wraps the telemetry interface with engine attribute conventions and a no-op variant

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/slicekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	// RecordOperation records a routed operation and its outcome
	RecordOperation(ctx context.Context, operation string, duration time.Duration, status string)

	// RecordStartup records how long opening every slice took
	RecordStartup(ctx context.Context, duration time.Duration, slices int)

	// RecordError records a failed operation by error class
	RecordError(ctx context.Context, operation, errorType string)

	Close() error
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance.
// If tel is nil, returns a no-op implementation.
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return &noopEngineMetrics{}
	}
	return &engineMetrics{tel: tel}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

func (m *engineMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, status string) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, status),
	}
	m.tel.RecordHistogram(ctx, "slicekv.engine.operation.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "slicekv.engine.operations.total", 1, attrs...)
}

func (m *engineMetrics) RecordStartup(ctx context.Context, duration time.Duration, slices int) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.Int("slices", slices),
	}
	m.tel.RecordHistogram(ctx, "slicekv.engine.startup.duration", duration.Seconds(), attrs...)
}

func (m *engineMetrics) RecordError(ctx context.Context, operation, errorType string) {
	m.tel.RecordCounter(ctx, "slicekv.engine.errors.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrErrorType, errorType),
	)
}

func (m *engineMetrics) Close() error {
	return nil
}

// noopEngineMetrics discards everything
type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, status string) {
}

func (n *noopEngineMetrics) RecordStartup(ctx context.Context, duration time.Duration, slices int) {}

func (n *noopEngineMetrics) RecordError(ctx context.Context, operation, errorType string) {}

func (n *noopEngineMetrics) Close() error {
	return nil
}
