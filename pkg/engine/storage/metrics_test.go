// ABOUTME: Test suite for slice telemetry metrics
// ABOUTME: Exercises SliceMetrics directly and through real slice operations with a capturing telemetry server

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KevoDB/slicekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// mockTelemetryServer provides a test implementation of telemetry.Telemetry for capturing metrics.
// This is infrastructure mocking only - all storage operations use real business logic.
type mockTelemetryServer struct {
	mu         sync.RWMutex
	counters   map[string][]mockCounterCall
	histograms map[string][]mockHistogramCall
}

type mockCounterCall struct {
	value int64
	attrs []attribute.KeyValue
}

type mockHistogramCall struct {
	value float64
	attrs []attribute.KeyValue
}

func newMockTelemetryServer() *mockTelemetryServer {
	return &mockTelemetryServer{
		counters:   make(map[string][]mockCounterCall),
		histograms: make(map[string][]mockHistogramCall),
	}
}

func (m *mockTelemetryServer) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], mockHistogramCall{
		value: value,
		attrs: attrs,
	})
}

func (m *mockTelemetryServer) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = append(m.counters[name], mockCounterCall{
		value: value,
		attrs: attrs,
	})
}

func (m *mockTelemetryServer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (m *mockTelemetryServer) Shutdown(ctx context.Context) error {
	return nil
}

func (m *mockTelemetryServer) getCounterCalls(name string) []mockCounterCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls, exists := m.counters[name]
	if !exists {
		return nil
	}
	// Return a copy to avoid race conditions
	result := make([]mockCounterCall, len(calls))
	copy(result, calls)
	return result
}

func (m *mockTelemetryServer) getHistogramCalls(name string) []mockHistogramCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls, exists := m.histograms[name]
	if !exists {
		return nil
	}
	// Return a copy to avoid race conditions
	result := make([]mockHistogramCall, len(calls))
	copy(result, calls)
	return result
}

func (m *mockTelemetryServer) getCounterTotal(name string) int64 {
	calls := m.getCounterCalls(name)
	var total int64
	for _, call := range calls {
		total += call.value
	}
	return total
}

func (m *mockTelemetryServer) hasAttribute(attrs []attribute.KeyValue, key, value string) bool {
	for _, attr := range attrs {
		if attr.Key == attribute.Key(key) && attr.Value.Emit() == value {
			return true
		}
	}
	return false
}

func TestSliceMetrics_InterfaceMethods(t *testing.T) {
	mockTel := newMockTelemetryServer()
	metrics := NewSliceMetrics(mockTel, 9)
	ctx := context.Background()

	metrics.RecordWrite(ctx, 100*time.Millisecond, 1024)

	histCalls := mockTel.getHistogramCalls("slicekv.slice.write.duration")
	if len(histCalls) != 1 {
		t.Fatalf("expected 1 histogram call, got %d", len(histCalls))
	}
	if histCalls[0].value != 0.1 {
		t.Errorf("expected histogram value 0.1, got %f", histCalls[0].value)
	}
	if !mockTel.hasAttribute(histCalls[0].attrs, telemetry.AttrComponent, telemetry.ComponentStorage) {
		t.Error("expected component attribute to be storage")
	}
	if !mockTel.hasAttribute(histCalls[0].attrs, telemetry.AttrSliceID, "9") {
		t.Error("expected slice id attribute to be 9")
	}
	if total := mockTel.getCounterTotal("slicekv.slice.write.bytes"); total != 1024 {
		t.Errorf("expected 1024 bytes recorded, got %d", total)
	}

	metrics.RecordRead(ctx, 50*time.Millisecond, false)
	readCalls := mockTel.getCounterCalls("slicekv.slice.read.total")
	if len(readCalls) != 1 {
		t.Fatalf("expected 1 read counter call, got %d", len(readCalls))
	}
	if !mockTel.hasAttribute(readCalls[0].attrs, telemetry.AttrStatus, telemetry.StatusNotFound) {
		t.Error("expected not_found status on a miss")
	}

	metrics.RecordRollover(ctx, 4, time.Millisecond)
	rolloverCalls := mockTel.getCounterCalls("slicekv.slice.rollover.total")
	if len(rolloverCalls) != 1 || !mockTel.hasAttribute(rolloverCalls[0].attrs, telemetry.AttrGeneration, "4") {
		t.Errorf("expected one rollover to generation 4, got %+v", rolloverCalls)
	}

	metrics.RecordIndexGrow(ctx, 4096)
	growCalls := mockTel.getHistogramCalls("slicekv.index.size")
	if len(growCalls) != 1 || growCalls[0].value != 4096 {
		t.Errorf("expected index size 4096, got %+v", growCalls)
	}
	if !mockTel.hasAttribute(growCalls[0].attrs, telemetry.AttrComponent, telemetry.ComponentIndex) {
		t.Error("expected component attribute to be index")
	}

	if err := metrics.Close(); err != nil {
		t.Errorf("expected no error from Close(), got %v", err)
	}
}

func TestNoopSliceMetrics(t *testing.T) {
	for _, metrics := range []SliceMetrics{NewNoopSliceMetrics(), NewSliceMetrics(nil, 0)} {
		ctx := context.Background()
		metrics.RecordWrite(ctx, time.Millisecond, 100)
		metrics.RecordRead(ctx, time.Millisecond, true)
		metrics.RecordRollover(ctx, 1, time.Millisecond)
		metrics.RecordIndexGrow(ctx, 100)
		if err := metrics.Close(); err != nil {
			t.Errorf("expected no error from noop Close(), got %v", err)
		}
	}
}

func TestSlice_RealOperationsWithTelemetry(t *testing.T) {
	mockTel := newMockTelemetryServer()
	s := openTestSlice(t, t.TempDir(), testConfig(32), WithMetrics(NewSliceMetrics(mockTel, 3)))

	for i := 0; i < 8; i++ {
		if err := s.Write([]byte(fmt.Sprintf("key-%d", i)), []byte("0123456789")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if _, err := s.Read([]byte("key-1")); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if _, err := s.Read([]byte("missing")); err == nil {
		t.Fatal("expected a miss")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if calls := mockTel.getHistogramCalls("slicekv.slice.write.duration"); len(calls) != 8 {
		t.Errorf("expected 8 write durations, got %d", len(calls))
	}
	if total := mockTel.getCounterTotal("slicekv.slice.write.bytes"); total != 80 {
		t.Errorf("expected 80 bytes written, got %d", total)
	}
	// 3 values of 10 bytes fit per 32 byte generation
	if total := mockTel.getCounterTotal("slicekv.slice.rollover.total"); total != 2 {
		t.Errorf("expected 2 rollovers, got %d", total)
	}
	if total := mockTel.getCounterTotal("slicekv.slice.read.total"); total != 2 {
		t.Errorf("expected 2 reads, got %d", total)
	}
	if total := mockTel.getCounterTotal("slicekv.index.grow.total"); total == 0 {
		t.Error("expected index growth from a minimal initial index")
	}
}
