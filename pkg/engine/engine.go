// Package engine routes keys over a fixed set of independent slices. Each
// slice owns its own lock, index and data generations, so writes to keys on
// different shards never contend.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/slicekv/pkg/common/iterator"
	"github.com/KevoDB/slicekv/pkg/common/iterator/bounded"
	"github.com/KevoDB/slicekv/pkg/common/iterator/composite"
	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/KevoDB/slicekv/pkg/engine/interfaces"
	"github.com/KevoDB/slicekv/pkg/engine/storage"
	"github.com/KevoDB/slicekv/pkg/stats"
	"github.com/KevoDB/slicekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Ensure Engine implements the Engine interface
var _ interfaces.Engine = (*Engine)(nil)

// Engine is an open engine directory
type Engine struct {
	dir    string
	cfg    *config.Config
	router Router
	slices []*storage.Slice
	lock   *dirLock

	logger  log.Logger
	tel     telemetry.Telemetry
	metrics EngineMetrics
	stats   stats.Collector

	closed atomic.Bool
}

type options struct {
	cfg        *config.Config
	logger     log.Logger
	tel        telemetry.Telemetry
	stats      stats.Collector
	sliceOpts  []storage.Option
	openWorker int
}

// Option configures Open
type Option func(*options)

// WithConfig sets the configuration used when the directory is new. For an
// existing directory the layout settings must match the stored manifest.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry sets the telemetry the engine and its slices record to.
// The caller keeps ownership and shuts it down.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = tel
	}
}

// WithStatsCollector sets the statistics collector
func WithStatsCollector(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

// WithSliceOptions passes options through to every slice
func WithSliceOptions(opts ...storage.Option) Option {
	return func(o *options) {
		o.sliceOpts = append(o.sliceOpts, opts...)
	}
}

// WithOpenConcurrency bounds how many slices are opened at once
func WithOpenConcurrency(n int) Option {
	return func(o *options) {
		o.openWorker = n
	}
}

// Open opens the engine in dir, creating it if needed. The directory is
// locked for the lifetime of the Engine; a second Open fails with ErrLocked.
func Open(dir string, opts ...Option) (*Engine, error) {
	o := options{openWorker: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.tel == nil {
		o.tel = telemetry.NewNoop()
	}
	if o.stats == nil {
		o.stats = stats.NewAtomicCollector()
	}
	if o.openWorker < 1 {
		o.openWorker = 1
	}

	start := time.Now()
	ctx, span := o.tel.StartSpan(context.Background(), "slicekv.engine.open",
		attribute.String("dir", dir))
	defer span.End()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %w", ErrStorageFailure, err)
	}

	lock, err := acquireLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(dir, o.cfg)
	if err != nil {
		lock.release()
		return nil, err
	}

	router, err := NewRouter(cfg.Router, cfg.ShardCount)
	if err != nil {
		lock.release()
		return nil, err
	}

	e := &Engine{
		dir:     dir,
		cfg:     cfg,
		router:  router,
		lock:    lock,
		logger:  o.logger.WithField("component", "engine"),
		tel:     o.tel,
		metrics: NewEngineMetrics(o.tel),
		stats:   o.stats,
	}

	if err := e.openSlices(o); err != nil {
		lock.release()
		e.stats.TrackError("open_error")
		return nil, err
	}

	e.stats.TrackOperationWithLatency(stats.OpOpen, uint64(time.Since(start).Nanoseconds()))
	e.metrics.RecordStartup(ctx, time.Since(start), len(e.slices))
	e.logger.Info("opened %s with %d slices (%s router) in %s",
		dir, len(e.slices), router.Name(), time.Since(start).Round(time.Millisecond))
	return e, nil
}

// loadConfig reads the manifest of an existing directory, or writes one for
// a new directory.
func loadConfig(dir string, requested *config.Config) (*config.Config, error) {
	stored, err := config.LoadConfigFromManifest(dir)
	switch {
	case err == nil:
		if requested != nil {
			if err := stored.CheckCompatible(requested); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
			}
			// Runtime behavior follows the caller, layout follows the manifest
			stored.Update(func(c *config.Config) {
				c.SyncOnRollover = requested.SyncOnRollover
				c.SyncOnClose = requested.SyncOnClose
				c.LevelDistribution = requested.LevelDistribution
			})
		}
		return stored, nil

	case errors.Is(err, config.ErrManifestNotFound):
		cfg := config.NewDefaultConfig()
		if requested != nil {
			cfg = requested.Clone()
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		if err := cfg.SaveManifest(dir); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("%w: failed to load configuration: %w", ErrStorageFailure, err)
	}
}

// openSlices opens every slice with bounded parallelism. If any fails, the
// ones already open are closed again.
func (e *Engine) openSlices(o options) error {
	n := e.cfg.ShardCount
	slices := make([]*storage.Slice, n)
	errs := make([]error, n)

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(o.openWorker, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				opts := append([]storage.Option{
					storage.WithLogger(e.logger),
					storage.WithStatsCollector(e.stats),
					storage.WithMetrics(storage.NewSliceMetrics(e.tel, id)),
				}, o.sliceOpts...)
				slices[id], errs[id] = storage.OpenSlice(e.dir, id, e.cfg, opts...)
			}
		}()
	}
	for id := 0; id < n; id++ {
		work <- id
	}
	close(work)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, s := range slices {
			if s != nil {
				s.Close()
			}
		}
		return err
	}

	e.slices = slices
	return nil
}

// Write stores value under key
func (e *Engine) Write(key, value []byte) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	start := time.Now()
	err := e.translate(e.slices[e.router.Route(key)].Write(key, value))
	e.finish(stats.OpWrite, start, err)

	if err == nil {
		e.stats.TrackBytes(true, uint64(len(key)+len(value)))
	}
	return err
}

// Read returns a copy of the value stored under key
func (e *Engine) Read(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	value, err := e.slices[e.router.Route(key)].Read(key)
	err = e.translate(err)
	e.finish(stats.OpRead, start, err)

	if err == nil {
		e.stats.TrackBytes(false, uint64(len(key)+len(value)))
	} else if errors.Is(err, ErrKeyNotFound) {
		e.stats.TrackMiss()
	}
	return value, err
}

// Range visits every pair with lower <= key < upper across all slices in
// ascending key order. Each step reads one slice under its read lock, so a
// scan running next to writers is weakly consistent.
func (e *Engine) Range(lower, upper []byte, visit interfaces.Visitor) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := checkBounds(lower, upper); err != nil {
		return err
	}

	start := time.Now()
	ctx, span := e.tel.StartSpan(context.Background(), "slicekv.engine.range")
	defer span.End()

	visited := 0
	it := e.newIterator(lower, upper)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		visited++
		if !visit(it.Key(), it.Value()) {
			break
		}
	}
	span.SetAttributes(attribute.Int("visited", visited))

	var err error
	if e.closed.Load() {
		err = ErrEngineClosed
	} else {
		// A failed slice yields nothing, so the scan may be incomplete
		for _, s := range e.slices {
			if serr := s.Err(); serr != nil {
				err = serr
				break
			}
		}
	}
	e.finishCtx(ctx, stats.OpRange, start, err)
	return err
}

// NewIterator returns an iterator over [lower, upper) merged across slices.
// Call SeekToFirst or Seek before reading from it.
func (e *Engine) NewIterator(lower, upper []byte) (iterator.Iterator, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := checkBounds(lower, upper); err != nil {
		return nil, err
	}
	return e.newIterator(lower, upper), nil
}

func (e *Engine) newIterator(lower, upper []byte) iterator.Iterator {
	cursors := make([]iterator.Iterator, len(e.slices))
	for i, s := range e.slices {
		cursors[i] = s.NewCursor()
	}
	return bounded.NewBoundedIterator(composite.NewMergingIterator(cursors), lower, upper)
}

func checkBounds(lower, upper []byte) error {
	if len(lower) > 0 && len(upper) > 0 && bytes.Compare(lower, upper) > 0 {
		return fmt.Errorf("%w: lower bound %q is above upper bound %q", ErrInvalidArgument, lower, upper)
	}
	return nil
}

// Sync flushes every slice to disk
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	var errs []error
	for _, s := range e.slices {
		errs = append(errs, e.translate(s.Sync()))
	}
	return errors.Join(errs...)
}

// Route returns the slice key is stored in
func (e *Engine) Route(key []byte) int {
	return e.router.Route(key)
}

// MaxValueSize returns the largest value a single write accepts
func (e *Engine) MaxValueSize() int {
	return int(e.cfg.GenerationSize)
}

// Dir returns the engine directory
func (e *Engine) Dir() string {
	return e.dir
}

// Config returns a copy of the configuration in effect
func (e *Engine) Config() *config.Config {
	return e.cfg.Clone()
}

// SliceStats returns the state of every slice
func (e *Engine) SliceStats() []storage.SliceStats {
	out := make([]storage.SliceStats, len(e.slices))
	for i, s := range e.slices {
		out[i] = s.Stats()
	}
	return out
}

// GetStats returns the current statistics for the engine
func (e *Engine) GetStats() map[string]interface{} {
	st := e.stats.GetStats()

	var keys, generations, grows, used int
	for _, s := range e.SliceStats() {
		keys += s.Keys
		generations += s.Generations
		grows += s.IndexGrows
		used += s.Generation*int(e.cfg.GenerationSize) + s.Offset
	}

	st["slices"] = len(e.slices)
	st["router"] = e.router.Name()
	st["keys"] = keys
	st["generations"] = generations
	st["index_grows"] = grows
	st["bytes_allocated"] = used
	st["closed"] = e.closed.Load()
	return st
}

// Close closes every slice, even when some fail, and releases the directory
// lock. Closing twice is a no-op.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	start := time.Now()

	var errs []error
	for _, s := range e.slices {
		if err := s.Close(); err != nil {
			e.stats.TrackError("close_error")
			errs = append(errs, fmt.Errorf("slice %d: %w", s.ID(), err))
		}
	}
	if err := e.lock.release(); err != nil {
		errs = append(errs, fmt.Errorf("%w: release lock: %w", ErrStorageFailure, err))
	}
	errs = append(errs, e.metrics.Close())

	e.stats.TrackOperationWithLatency(stats.OpClose, uint64(time.Since(start).Nanoseconds()))

	if err := errors.Join(errs...); err != nil {
		e.logger.Error("close failed: %v", err)
		return err
	}
	e.logger.Info("closed %s", e.dir)
	return nil
}

// translate reports a slice closed underneath a racing call as a closed engine
func (e *Engine) translate(err error) error {
	if errors.Is(err, storage.ErrSliceClosed) {
		return ErrEngineClosed
	}
	return err
}

func (e *Engine) finish(op stats.OperationType, start time.Time, err error) {
	e.finishCtx(context.Background(), op, start, err)
}

func (e *Engine) finishCtx(ctx context.Context, op stats.OperationType, start time.Time, err error) {
	elapsed := time.Since(start)
	e.stats.TrackOperationWithLatency(op, uint64(elapsed.Nanoseconds()))

	status := telemetry.StatusSuccess
	switch interfaces.CodeOf(err) {
	case interfaces.Success:
	case interfaces.NotFound:
		status = telemetry.StatusNotFound
	default:
		status = telemetry.StatusError
		code := interfaces.CodeOf(err).String()
		e.stats.TrackError(string(op) + "_error")
		e.metrics.RecordError(ctx, string(op), code)
	}
	e.metrics.RecordOperation(ctx, string(op), elapsed, status)
}
