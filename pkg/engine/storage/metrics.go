// ABOUTME: Slice telemetry metrics interface and implementation for the generation store
// ABOUTME: Records write and read latency, bytes stored, generation rollovers and index growth

package storage

import (
	"context"
	"time"

	"github.com/KevoDB/slicekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// SliceMetrics defines the telemetry operations of a slice.
// All metrics are optional - implementations can safely be no-op.
type SliceMetrics interface {
	telemetry.ComponentMetrics

	// RecordWrite records a completed write of n value bytes.
	RecordWrite(ctx context.Context, duration time.Duration, bytes int64)

	// RecordRead records a point read and whether the key was present.
	RecordRead(ctx context.Context, duration time.Duration, found bool)

	// RecordRollover records that a new generation became active.
	RecordRollover(ctx context.Context, generation int, duration time.Duration)

	// RecordIndexGrow records that the index region was extended to size bytes.
	RecordIndexGrow(ctx context.Context, size int64)
}

// sliceMetrics implements SliceMetrics using the telemetry interface.
type sliceMetrics struct {
	tel     telemetry.Telemetry
	sliceID int
	attrs   []attribute.KeyValue
}

// NewSliceMetrics creates metrics tagged with the slice id.
// If tel is nil, returns a no-op implementation.
func NewSliceMetrics(tel telemetry.Telemetry, sliceID int) SliceMetrics {
	if tel == nil {
		return &noopSliceMetrics{}
	}
	return &sliceMetrics{
		tel:     tel,
		sliceID: sliceID,
		attrs: []attribute.KeyValue{
			attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
			attribute.Int(telemetry.AttrSliceID, sliceID),
		},
	}
}

// NewNoopSliceMetrics creates a no-op implementation for testing.
func NewNoopSliceMetrics() SliceMetrics {
	return &noopSliceMetrics{}
}

func (m *sliceMetrics) with(extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m.attrs)+len(extra))
	attrs = append(attrs, m.attrs...)
	return append(attrs, extra...)
}

func (m *sliceMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64) {
	m.tel.RecordHistogram(ctx, "slicekv.slice.write.duration", duration.Seconds(),
		m.with(attribute.String(telemetry.AttrOperationType, telemetry.OpTypeWrite))...)

	m.tel.RecordCounter(ctx, "slicekv.slice.write.bytes", bytes, m.attrs...)
}

func (m *sliceMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {
	m.tel.RecordHistogram(ctx, "slicekv.slice.read.duration", duration.Seconds(),
		m.with(
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRead),
			attribute.Bool("found", found),
		)...)

	m.tel.RecordCounter(ctx, "slicekv.slice.read.total", 1,
		m.with(attribute.String(telemetry.AttrStatus, getStatusFromFound(found)))...)
}

func (m *sliceMetrics) RecordRollover(ctx context.Context, generation int, duration time.Duration) {
	m.tel.RecordHistogram(ctx, "slicekv.slice.rollover.duration", duration.Seconds(), m.attrs...)

	m.tel.RecordCounter(ctx, "slicekv.slice.rollover.total", 1,
		m.with(attribute.Int(telemetry.AttrGeneration, generation))...)
}

func (m *sliceMetrics) RecordIndexGrow(ctx context.Context, size int64) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIndex),
		attribute.Int(telemetry.AttrSliceID, m.sliceID),
	}
	m.tel.RecordCounter(ctx, "slicekv.index.grow.total", 1, attrs...)
	m.tel.RecordHistogram(ctx, "slicekv.index.size", float64(size), attrs...)
}

func (m *sliceMetrics) Close() error {
	return nil
}

// noopSliceMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopSliceMetrics struct{}

func (n *noopSliceMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64) {}

func (n *noopSliceMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {}

func (n *noopSliceMetrics) RecordRollover(ctx context.Context, generation int, duration time.Duration) {
}

func (n *noopSliceMetrics) RecordIndexGrow(ctx context.Context, size int64) {}

func (n *noopSliceMetrics) Close() error {
	return nil
}

// getStatusFromFound converts found boolean to status string.
func getStatusFromFound(found bool) string {
	if found {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusNotFound
}
