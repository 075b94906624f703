// Package storage implements the per-shard generation store. A Slice keeps
// values back to back in fixed-size memory-mapped generation files and finds
// them through a persistent skip index.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/KevoDB/slicekv/pkg/engine/interfaces"
	"github.com/KevoDB/slicekv/pkg/mmap"
	"github.com/KevoDB/slicekv/pkg/skipindex"
	"github.com/KevoDB/slicekv/pkg/stats"
)

// ErrSliceClosed is returned when operations are performed on a closed slice
var ErrSliceClosed = errors.New("slice is closed")

// MetaPath returns the metadata file of slice id under dir
func MetaPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("slice.%d.meta", id))
}

// IndexPath returns the index file of slice id under dir
func IndexPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("slice.%d.index", id))
}

// DataPath returns the data file of generation gen of slice id under dir
func DataPath(dir string, id, gen int) string {
	return filepath.Join(dir, fmt.Sprintf("slice.%d.data.%d", id, gen))
}

// Slice is one shard of the engine: an index plus its data generations.
// Reads share the lock; writes and rollovers hold it exclusively.
type Slice struct {
	id      int
	dir     string
	genSize int

	syncOnRollover bool
	syncOnClose    bool

	mu     sync.RWMutex
	meta   *mmap.File
	index  *skipindex.Index
	gens   []mmap.Region
	pos    position
	closed bool
	failed error // set when the index can no longer be trusted

	logger  log.Logger
	metrics SliceMetrics
	stats   stats.Collector

	indexOpts []skipindex.Option
}

// SliceStats describes the state of one slice
type SliceStats struct {
	ID            int
	Generation    int
	Offset        int
	Generations   int
	Keys          int
	IndexLevel    int
	IndexCapacity int
	IndexSize     int
	IndexGrows    int
}

// Option configures a Slice
type Option func(*Slice)

// WithLogger sets the logger. Slice fields are added to it.
func WithLogger(logger log.Logger) Option {
	return func(s *Slice) {
		s.logger = logger
	}
}

// WithMetrics sets the telemetry metrics of the slice
func WithMetrics(metrics SliceMetrics) Option {
	return func(s *Slice) {
		s.metrics = metrics
	}
}

// WithStatsCollector sets the collector rollovers and index growth are counted in
func WithStatsCollector(collector stats.Collector) Option {
	return func(s *Slice) {
		s.stats = collector
	}
}

// WithIndexOptions passes options through to the skip index
func WithIndexOptions(opts ...skipindex.Option) Option {
	return func(s *Slice) {
		s.indexOpts = append(s.indexOpts, opts...)
	}
}

// OpenSlice opens slice id under dir, creating its files if they do not
// exist. On reopen every generation from 0 through the persisted current
// one is mapped again.
func OpenSlice(dir string, id int, cfg *config.Config, opts ...Option) (*Slice, error) {
	if cfg.GenerationSize <= 0 || cfg.GenerationSize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: generation size %d", interfaces.ErrInvalidArgument, cfg.GenerationSize)
	}

	s := &Slice{
		id:             id,
		dir:            dir,
		genSize:        int(cfg.GenerationSize),
		syncOnRollover: cfg.SyncOnRollover,
		syncOnClose:    cfg.SyncOnClose,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	s.logger = s.logger.WithFields(map[string]interface{}{
		"component": "storage",
		"slice":     id,
	})
	if s.metrics == nil {
		s.metrics = NewNoopSliceMetrics()
	}
	if s.stats == nil {
		s.stats = stats.NewAtomicCollector()
	}

	dist, err := skipindex.ParseLevelDistribution(cfg.LevelDistribution)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err)
	}
	indexOpts := append([]skipindex.Option{skipindex.WithLevelDistribution(dist)}, s.indexOpts...)

	if err := s.open(int(cfg.IndexInitialSize), indexOpts); err != nil {
		s.release()
		return nil, err
	}

	s.logger.Debug("opened at generation %d offset %d with %d keys",
		s.pos.generation, s.pos.offset, s.index.Len())
	return s, nil
}

func (s *Slice) open(indexSize int, indexOpts []skipindex.Option) error {
	meta, err := mmap.OpenFile(MetaPath(s.dir, s.id), metaSize)
	if err != nil {
		return storageFailure("open metadata", err)
	}
	s.meta = meta

	fresh := isBlankMeta(meta.Bytes())
	if !fresh {
		pos, err := decodeMeta(meta.Bytes())
		if err != nil {
			return storageFailure("read metadata", err)
		}
		if int(pos.offset) > s.genSize || pos.generation > math.MaxInt32 {
			return storageFailure("read metadata", fmt.Errorf("%w: position %d/%d out of range",
				ErrCorruptMeta, pos.generation, pos.offset))
		}
		s.pos = pos
	}

	index, err := skipindex.OpenFile(IndexPath(s.dir, s.id), indexSize, indexOpts...)
	if err != nil {
		return storageFailure("open index", err)
	}
	s.index = index

	for gen := 0; gen <= int(s.pos.generation); gen++ {
		path := DataPath(s.dir, s.id, gen)
		if !fresh {
			if _, err := os.Stat(path); err != nil {
				return storageFailure(fmt.Sprintf("open generation %d", gen), err)
			}
		}
		region, err := mmap.OpenFile(path, s.genSize, mmap.WithAdvice(mmap.AdviceRandom))
		if err != nil {
			return storageFailure(fmt.Sprintf("open generation %d", gen), err)
		}
		s.gens = append(s.gens, region)
	}

	if err := s.reconcile(); err != nil {
		return err
	}
	encodeMeta(s.meta.Bytes(), s.pos)
	return nil
}

// reconcile advances the write offset past any value the index already
// references, which happens when the metadata page was lost in a crash
// while the index page survived.
func (s *Slice) reconcile() error {
	var end uint64
	it := s.index.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		loc := it.Location()
		if loc.Generation < 0 || int(loc.Generation) > int(s.pos.generation) || loc.End() > uint64(s.genSize) {
			return storageFailure("verify index", fmt.Errorf("%w: key %q at %d/%d+%d",
				skipindex.ErrCorrupt, it.Key(), loc.Generation, loc.Offset, loc.Length))
		}
		if uint32(loc.Generation) == s.pos.generation && loc.End() > end {
			end = loc.End()
		}
	}
	if end > uint64(s.pos.offset) {
		s.logger.Warn("metadata offset %d behind index, advancing to %d", s.pos.offset, end)
		s.pos.offset = uint32(end)
	}
	return nil
}

// Read returns a copy of the value stored for key
func (s *Slice) Read(key []byte) ([]byte, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	loc := s.index.Get(key)
	if !loc.Found() {
		s.metrics.RecordRead(context.Background(), time.Since(start), false)
		return nil, interfaces.ErrKeyNotFound
	}

	data, err := s.bytesAt(loc)
	if err != nil {
		return nil, err
	}
	value := make([]byte, len(data))
	copy(value, data)

	s.metrics.RecordRead(context.Background(), time.Since(start), true)
	return value, nil
}

// usable returns why the slice cannot serve requests, or nil. Callers hold
// the lock.
func (s *Slice) usable() error {
	if s.closed {
		return ErrSliceClosed
	}
	return s.failed
}

// Err returns the failure that made the slice refuse requests, or nil
func (s *Slice) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failed
}

// bytesAt returns the mapped bytes of loc. Callers hold the lock.
func (s *Slice) bytesAt(loc skipindex.Location) ([]byte, error) {
	if int(loc.Generation) >= len(s.gens) || loc.End() > uint64(s.genSize) {
		return nil, storageFailure("read", fmt.Errorf("%w: location %d/%d+%d out of range",
			skipindex.ErrCorrupt, loc.Generation, loc.Offset, loc.Length))
	}
	return s.gens[loc.Generation].Bytes()[loc.Offset:loc.End()], nil
}

// Write appends value to the active generation and points key at it.
// A value that does not fit the remaining space rolls the slice over to a
// new generation first; values never span generations.
func (s *Slice) Write(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", interfaces.ErrInvalidArgument)
	}
	if len(key) > skipindex.KeyCapacity {
		return fmt.Errorf("%w: %w: %d bytes", interfaces.ErrInvalidArgument, skipindex.ErrKeyTooLong, len(key))
	}
	if len(value) > s.genSize {
		return fmt.Errorf("%w: value of %d bytes exceeds generation size %d",
			interfaces.ErrInvalidArgument, len(value), s.genSize)
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	if uint64(s.pos.offset)+uint64(len(value)) > uint64(s.genSize) {
		if err := s.rollover(); err != nil {
			return err
		}
	}

	gen := s.gens[s.pos.generation]
	copy(gen.Bytes()[s.pos.offset:], value)

	loc := skipindex.Location{
		Generation: int32(s.pos.generation),
		Offset:     s.pos.offset,
		Length:     uint32(len(value)),
	}
	grows := s.index.Grows()
	if err := s.index.Insert(key, loc); err != nil {
		if s.index.Err() != nil {
			s.failed = storageFailure("index grow", err)
			s.logger.Error("index unusable, slice refuses further requests: %v", err)
			return s.failed
		}
		return storageFailure("index insert", err)
	}
	if s.index.Grows() != grows {
		s.stats.TrackOperation(stats.OpIndexGrow)
		s.metrics.RecordIndexGrow(context.Background(), int64(s.index.Size()))
		s.logger.Debug("index grew to %d bytes", s.index.Size())
	}

	s.pos.offset += uint32(len(value))
	encodeMeta(s.meta.Bytes(), s.pos)

	s.metrics.RecordWrite(context.Background(), time.Since(start), int64(len(value)))
	return nil
}

// rollover seals the active generation and maps a new one. Callers hold
// the write lock.
func (s *Slice) rollover() error {
	start := time.Now()

	if s.pos.generation >= math.MaxInt32 {
		return storageFailure("rollover", fmt.Errorf("generation limit reached"))
	}

	sealed := s.gens[s.pos.generation]
	if s.syncOnRollover {
		if err := sealed.Sync(); err != nil {
			return storageFailure("sync sealed generation", err)
		}
	}

	next := int(s.pos.generation) + 1
	region, err := mmap.OpenFile(DataPath(s.dir, s.id, next), s.genSize, mmap.WithAdvice(mmap.AdviceRandom))
	if err != nil {
		return storageFailure(fmt.Sprintf("create generation %d", next), err)
	}
	s.gens = append(s.gens, region)

	s.pos = position{generation: uint32(next)}
	encodeMeta(s.meta.Bytes(), s.pos)

	s.stats.TrackOperation(stats.OpRollover)
	s.metrics.RecordRollover(context.Background(), next, time.Since(start))
	s.logger.WithField("generation", next).Info("rolled over")
	return nil
}

// Sync flushes the metadata, the index and every generation to disk
func (s *Slice) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSliceClosed
	}
	if err := s.syncAll(); err != nil {
		return storageFailure("sync", err)
	}
	return nil
}

func (s *Slice) syncAll() error {
	var errs []error
	for _, gen := range s.gens {
		errs = append(errs, gen.Sync())
	}
	errs = append(errs, s.index.Sync(), s.meta.Sync())
	return errors.Join(errs...)
}

// Close persists the write position and releases every mapping. All files
// are closed even when persisting fails. Closing twice is a no-op.
func (s *Slice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	encodeMeta(s.meta.Bytes(), s.pos)

	var errs []error
	if s.syncOnClose {
		errs = append(errs, s.syncAll())
	}
	errs = append(errs, s.release(), s.metrics.Close())

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("close failed: %v", err)
		return storageFailure("close", err)
	}
	s.logger.Debug("closed at generation %d offset %d", s.pos.generation, s.pos.offset)
	return nil
}

// release unmaps and closes whatever has been opened so far
func (s *Slice) release() error {
	var errs []error
	for _, gen := range s.gens {
		errs = append(errs, gen.Close())
	}
	s.gens = nil
	if s.index != nil {
		errs = append(errs, s.index.Close())
		s.index = nil
	}
	if s.meta != nil {
		errs = append(errs, s.meta.Close())
		s.meta = nil
	}
	return errors.Join(errs...)
}

// ID returns the slice number
func (s *Slice) ID() int {
	return s.id
}

// Stats returns a snapshot of the slice state
func (s *Slice) Stats() SliceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SliceStats{
		ID:          s.id,
		Generation:  int(s.pos.generation),
		Offset:      int(s.pos.offset),
		Generations: len(s.gens),
	}
	if s.index != nil {
		st.Keys = s.index.Len()
		st.IndexLevel = s.index.Level()
		st.IndexCapacity = s.index.Capacity()
		st.IndexSize = s.index.Size()
		st.IndexGrows = s.index.Grows()
	}
	return st
}

// Verify checks the structure of the slice index
func (s *Slice) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSliceClosed
	}
	return s.index.Verify()
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", interfaces.ErrStorageFailure, op, err)
}
