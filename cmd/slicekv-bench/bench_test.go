package main

import (
	"path/filepath"
	"testing"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/KevoDB/slicekv/pkg/engine"
	"github.com/KevoDB/slicekv/pkg/skipindex"
)

func newTestBench(t *testing.T, mode string) *bench {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ShardCount = 16
	cfg.GenerationSize = 64 * 1024
	cfg.IndexInitialSize = int64(skipindex.MinRegionSize)
	cfg.SyncOnClose = false

	e, err := engine.Open(t.TempDir(), engine.WithConfig(cfg), engine.WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	return &bench{eng: e, threads: 4, keys: 500, valueSize: 32, mode: mode, readRatio: 0.5}
}

func TestBench_WriteReadScan(t *testing.T) {
	for _, mode := range []string{"Hashed", "Sequential"} {
		t.Run(mode, func(t *testing.T) {
			b := newTestBench(t, mode)

			w := b.runWrite()
			if w.Operations != 500 || w.Errors != 0 {
				t.Fatalf("Write: %d ops, %d errors", w.Operations, w.Errors)
			}
			if w.Bytes != 500*32 {
				t.Errorf("Expected %d bytes written, got %d", 500*32, w.Bytes)
			}

			r := b.runRead()
			if r.HitRate != 100 {
				t.Errorf("Expected 100%% hit rate, got %.2f", r.HitRate)
			}

			s := b.runScan()
			if s.Operations != 500 {
				t.Errorf("Expected scan to visit 500 entries, got %d", s.Operations)
			}

			m := b.runMixed()
			if m.Errors != 0 || m.ReadRatio != 50 || m.WriteRatio != 50 {
				t.Errorf("Unexpected mixed result %+v", m)
			}
		})
	}
}

func TestBench_KeysAreDistinct(t *testing.T) {
	b := &bench{mode: "Hashed"}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		k := string(b.key(i))
		if seen[k] {
			t.Fatalf("Duplicate key for index %d", i)
		}
		seen[k] = true
	}
}

func TestReportCSVRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out", "results.csv")
	in := []BenchmarkResult{
		{BenchmarkType: "Write", NumKeys: 10, ValueSize: 8, Threads: 2, Mode: "Hashed", Operations: 10, Bytes: 80, Duration: 1.5, Throughput: 6.67},
		{BenchmarkType: "Read", NumKeys: 10, Mode: "Hashed", Operations: 10, HitRate: 90},
	}
	if err := SaveResultCSV(in, file); err != nil {
		t.Fatalf("SaveResultCSV failed: %v", err)
	}

	out, err := LoadResultCSV(file)
	if err != nil {
		t.Fatalf("LoadResultCSV failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(out))
	}
	if out[0].BenchmarkType != "Write" || out[0].Threads != 2 || out[0].Bytes != 80 || out[0].Duration != 1.5 {
		t.Errorf("Unexpected first result %+v", out[0])
	}
	if out[1].HitRate != 90 {
		t.Errorf("Expected hit rate 90, got %.2f", out[1].HitRate)
	}
}
