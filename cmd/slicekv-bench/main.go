package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/KevoDB/slicekv/pkg/engine"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType  = flag.String("type", "all", "Type of benchmark to run (write, read, scan, mixed, or all)")
	numThreads     = flag.Int("threads", runtime.NumCPU(), "Number of concurrent workers")
	numKeys        = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize      = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	dataDir        = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential     = flag.Bool("sequential", false, "Use sequential keys instead of hashed keys")
	shards         = flag.Int("shards", 256, "Number of slices")
	router         = flag.String("router", config.RouterPrefix, "Key router (prefix or hash)")
	generationSize = flag.Int64("generation-size", 4*1024*1024, "Size of each data generation in bytes")
	indexSize      = flag.Int64("index-size", 256*1024, "Initial size of each slice index in bytes")
	readRatio      = flag.Float64("read-ratio", 0.8, "Fraction of reads in the mixed benchmark")
	cpuProfile     = flag.String("cpu-profile", "", "Write CPU profile to file")
	resultsFile    = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}

	cfg := config.NewDefaultConfig()
	cfg.ShardCount = *shards
	cfg.Router = *router
	cfg.GenerationSize = *generationSize
	cfg.IndexInitialSize = *indexSize
	cfg.SyncOnClose = false

	e, err := engine.Open(*dataDir, engine.WithConfig(cfg), engine.WithLogger(log.NewNop()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	b := &bench{
		eng:       e,
		threads:   *numThreads,
		keys:      *numKeys,
		valueSize: *valueSize,
		mode:      keyMode(),
		readRatio: *readRatio,
	}

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Threads: %d, Slices: %d (%s), Mode: %s\n",
		b.keys, b.valueSize, b.threads, cfg.ShardCount, cfg.Router, b.mode)

	var results []BenchmarkResult
	for _, typ := range strings.Split(*benchmarkType, ",") {
		switch strings.ToLower(typ) {
		case "write":
			results = append(results, b.runWrite())
		case "read":
			results = append(results, b.runRead())
		case "scan":
			results = append(results, b.runScan())
		case "mixed":
			results = append(results, b.runMixed())
		case "all":
			results = append(results, b.runWrite(), b.runRead(), b.runScan(), b.runMixed())
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
	}

	for _, r := range results {
		fmt.Println(r.String())
	}
	PrintResultTable(results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}
}

// keyMode returns a string describing the key generation mode
func keyMode() string {
	if *sequential {
		return "Sequential"
	}
	return "Hashed"
}

// bench runs workloads against an open engine
type bench struct {
	eng       *engine.Engine
	threads   int
	keys      int
	valueSize int
	mode      string
	readRatio float64
}

// key returns the i-th benchmark key. Hashed keys spread over every slice
// under the prefix router; sequential keys share their leading bytes.
func (b *bench) key(i int) []byte {
	if b.mode == "Sequential" {
		return []byte(fmt.Sprintf("key-%010d", i))
	}
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(i))
	var out [16]byte
	binary.BigEndian.PutUint64(out[:8], xxhash.Sum64(raw[:]))
	copy(out[8:], raw[:])
	return out[:]
}

func (b *bench) value(i int) []byte {
	v := make([]byte, b.valueSize)
	for j := range v {
		v[j] = byte(i + j)
	}
	return v
}

// parallel splits [0, keys) across the workers and calls op for every index.
// It returns the number of errors seen.
func (b *bench) parallel(op func(i int) error) int64 {
	threads := b.threads
	if threads < 1 {
		threads = 1
	}

	var failed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < b.keys; i += threads {
				if err := op(i); err != nil {
					if failed.Add(1) <= 10 {
						fmt.Fprintf(os.Stderr, "Operation error (key #%d): %v\n", i, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	return failed.Load()
}

func (b *bench) result(name string, ops int, bytes int64, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       b.keys,
		ValueSize:     b.valueSize,
		Threads:       b.threads,
		Mode:          b.mode,
		Operations:    ops,
		Bytes:         bytes,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if r.Duration > 0 {
		r.Throughput = float64(ops) / r.Duration
		r.MBPerSec = float64(bytes) / (1024 * 1024) / r.Duration
	}
	if r.Throughput > 0 {
		r.Latency = 1000000.0 / r.Throughput
	}
	return r
}

func (b *bench) runWrite() BenchmarkResult {
	fmt.Println("Running Write Benchmark...")
	value := b.value(0)

	start := time.Now()
	failed := b.parallel(func(i int) error {
		return b.eng.Write(b.key(i), value)
	})
	elapsed := time.Since(start)

	ops := b.keys - int(failed)
	r := b.result("Write", ops, int64(ops)*int64(b.valueSize), elapsed)
	r.Errors = failed
	return r
}

func (b *bench) runRead() BenchmarkResult {
	fmt.Println("Running Read Benchmark...")
	var hits, bytes atomic.Int64

	start := time.Now()
	failed := b.parallel(func(i int) error {
		v, err := b.eng.Read(b.key(i))
		if errors.Is(err, engine.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		hits.Add(1)
		bytes.Add(int64(len(v)))
		return nil
	})
	elapsed := time.Since(start)

	r := b.result("Read", b.keys-int(failed), bytes.Load(), elapsed)
	r.Errors = failed
	if b.keys > 0 {
		r.HitRate = float64(hits.Load()) / float64(b.keys) * 100
	}
	return r
}

func (b *bench) runScan() BenchmarkResult {
	fmt.Println("Running Scan Benchmark...")
	var entries int
	var bytes int64

	start := time.Now()
	err := b.eng.Range(nil, nil, func(key, value []byte) bool {
		entries++
		bytes += int64(len(key) + len(value))
		return true
	})
	elapsed := time.Since(start)

	r := b.result("Scan", entries, bytes, elapsed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		r.Errors = 1
	}
	return r
}

func (b *bench) runMixed() BenchmarkResult {
	fmt.Println("Running Mixed Benchmark...")
	value := b.value(1)
	var bytes atomic.Int64
	threshold := uint64(b.readRatio * 100)

	start := time.Now()
	failed := b.parallel(func(i int) error {
		if xxhash.Sum64String(fmt.Sprint(i))%100 < threshold {
			v, err := b.eng.Read(b.key(i))
			if err != nil && !errors.Is(err, engine.ErrKeyNotFound) {
				return err
			}
			bytes.Add(int64(len(v)))
			return nil
		}
		if err := b.eng.Write(b.key(i), value); err != nil {
			return err
		}
		bytes.Add(int64(len(value)))
		return nil
	})
	elapsed := time.Since(start)

	r := b.result("Mixed", b.keys-int(failed), bytes.Load(), elapsed)
	r.Errors = failed
	r.ReadRatio = b.readRatio * 100
	r.WriteRatio = 100 - r.ReadRatio
	return r
}
