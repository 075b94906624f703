// ABOUTME: Tests for the OpenTelemetry backed provider using real SDK pipelines
// ABOUTME: Exports to an in-memory writer and checks recorded data is flushed on shutdown

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// syncBuffer guards a bytes.Buffer written by exporter goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func enabledConfig(out *syncBuffer) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MetricInterval = time.Hour
	cfg.Output = out
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		expectNoop bool
		expectErr  bool
	}{
		{
			name:       "disabled telemetry returns noop",
			cfg:        Config{Enabled: false},
			expectNoop: true,
		},
		{
			name:      "invalid config returns error",
			cfg:       Config{Enabled: true},
			expectErr: true,
		},
		{
			name: "enabled config returns provider",
			cfg:  enabledConfig(&syncBuffer{}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := New(tt.cfg)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer tel.Shutdown(context.Background())

			_, isNoop := tel.(*NoopTelemetry)
			if isNoop != tt.expectNoop {
				t.Errorf("Expected noop=%v, got %T", tt.expectNoop, tel)
			}
		})
	}
}

func TestProviderExportsOnShutdown(t *testing.T) {
	out := &syncBuffer{}
	tel, err := New(enabledConfig(out))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	tel.RecordCounter(ctx, "slicekv.writes", 3, attribute.String(AttrComponent, ComponentEngine))
	tel.RecordCounter(ctx, "slicekv.writes", 2, attribute.String(AttrComponent, ComponentEngine))
	tel.RecordHistogram(ctx, "slicekv.write.duration", 0.002)

	_, span := tel.StartSpan(ctx, "slicekv.flush", attribute.Int(AttrSliceID, 1))
	if !span.SpanContext().IsValid() {
		t.Error("Expected a recording span with a valid span context")
	}
	span.End()

	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	exported := out.String()
	for _, want := range []string{"slicekv.writes", "slicekv.write.duration", "slicekv.flush"} {
		if !strings.Contains(exported, want) {
			t.Errorf("Expected exported data to mention %q", want)
		}
	}
}

func TestProviderNoneExporter(t *testing.T) {
	out := &syncBuffer{}
	cfg := enabledConfig(out)
	cfg.Exporters = []string{ExporterNone}

	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tel.RecordCounter(context.Background(), "slicekv.reads", 1)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if out.String() != "" {
		t.Errorf("Expected nothing exported, got %q", out.String())
	}
}
