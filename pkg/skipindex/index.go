// Package skipindex implements a persistent ordered index: a probabilistic
// skip list laid out inside a growable memory-mapped region.
//
// Every key maps to a Location, the position of its value inside one of the
// data generations of a slice. Nodes are appended to the region and linked by
// slot number rather than by address, so growing the region (which may move
// the mapping) never invalidates a link.
//
// An Index is not safe for concurrent use. Readers may share it while no
// writer is active; Insert requires exclusive access.
package skipindex

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/KevoDB/slicekv/pkg/mmap"
)

var (
	// ErrKeyTooLong is returned when a key exceeds KeyCapacity
	ErrKeyTooLong = errors.New("key exceeds index key capacity")

	// ErrCorrupt is returned when the region does not hold a valid index
	ErrCorrupt = errors.New("index is corrupt")

	// ErrGrow is returned when the backing region cannot be extended
	ErrGrow = errors.New("failed to grow index region")
)

// Location identifies the bytes of a value inside a slice's data generations
type Location struct {
	Generation int32
	Offset     uint32
	Length     uint32
}

// NotFound is the Location returned for keys that are not in the index
var NotFound = Location{Generation: -1}

// Found reports whether the location refers to stored data
func (l Location) Found() bool {
	return l.Generation >= 0
}

// End returns the offset just past the value
func (l Location) End() uint64 {
	return uint64(l.Offset) + uint64(l.Length)
}

// LevelDistribution selects how new nodes pick their height
type LevelDistribution int

const (
	// LevelUniform draws a level uniformly from [1, MaxLevel-1]
	LevelUniform LevelDistribution = iota
	// LevelGeometric raises the level with probability 1/BranchingFactor per step
	LevelGeometric
)

// BranchingFactor is the inverse promotion probability of LevelGeometric
const BranchingFactor = 4

// String returns the configuration name of the distribution
func (d LevelDistribution) String() string {
	switch d {
	case LevelUniform:
		return "uniform"
	case LevelGeometric:
		return "geometric"
	default:
		return fmt.Sprintf("DISTRIBUTION(%d)", int(d))
	}
}

// ParseLevelDistribution maps a configuration name to a distribution
func ParseLevelDistribution(name string) (LevelDistribution, error) {
	switch name {
	case "", "uniform":
		return LevelUniform, nil
	case "geometric":
		return LevelGeometric, nil
	default:
		return 0, fmt.Errorf("unknown level distribution %q", name)
	}
}

// Index is a skip list stored in a Region
type Index struct {
	region mmap.Region
	buf    []byte // region.Bytes(), refreshed after every grow
	rnd    *rand.Rand
	dist   LevelDistribution
	grows  int

	// err is set once a grow fails; the index then refuses further use
	err error
}

// Option configures an Index
type Option func(*Index)

// WithRand sets the random source used for level selection
func WithRand(rnd *rand.Rand) Option {
	return func(ix *Index) {
		ix.rnd = rnd
	}
}

// WithSeed seeds a private random source for deterministic level selection
func WithSeed(seed int64) Option {
	return func(ix *Index) {
		ix.rnd = rand.New(rand.NewSource(seed))
	}
}

// WithLevelDistribution selects the node height distribution
func WithLevelDistribution(dist LevelDistribution) Option {
	return func(ix *Index) {
		ix.dist = dist
	}
}

// New formats an empty region as an index, or opens the index a previous
// process left in it. The Index takes ownership of the region.
func New(region mmap.Region, opts ...Option) (*Index, error) {
	if region.Size() < MinRegionSize {
		if err := region.Grow(MinRegionSize); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGrow, err)
		}
	}

	ix := &Index{region: region, buf: region.Bytes()}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.rnd == nil {
		ix.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	if ix.isBlank() {
		ix.initHeader()
		return ix, nil
	}
	if err := ix.checkHeader(); err != nil {
		return nil, err
	}
	return ix, nil
}

// OpenFile maps the index file at path, creating it with initialSize bytes
// if it does not exist
func OpenFile(path string, initialSize int, opts ...Option) (*Index, error) {
	if initialSize < MinRegionSize {
		initialSize = MinRegionSize
	}
	region, err := mmap.OpenFile(path, initialSize, mmap.WithAdvice(mmap.AdviceRandom))
	if err != nil {
		return nil, err
	}
	ix, err := New(region, opts...)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	return ix, nil
}

// Get returns the location stored for key, or NotFound
func (ix *Index) Get(key []byte) Location {
	if ix.err != nil || ix.count() == 0 {
		return NotFound
	}

	node := footer // the header node lives in slot 0
	for i := ix.level(); i >= 0; i-- {
		for {
			next := ix.next(node, i)
			if next == footer {
				break
			}
			cmp := bytes.Compare(ix.keyAt(next), key)
			if cmp == 0 {
				return ix.locationAt(next)
			}
			if cmp > 0 {
				break
			}
			node = next
		}
	}

	return NotFound
}

// Insert maps key to loc. An existing key has its location replaced in place;
// a new key is appended to the region and linked into the list. The only
// failures are an oversized key and the region failing to grow.
func (ix *Index) Insert(key []byte, loc Location) error {
	if len(key) > KeyCapacity {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}
	if ix.err != nil {
		return ix.err
	}

	var update [MaxLevel]uint32
	node := footer
	top := ix.level()
	for i := top; i >= 0; i-- {
		for {
			next := ix.next(node, i)
			if next == footer {
				break
			}
			cmp := bytes.Compare(ix.keyAt(next), key)
			if cmp == 0 {
				ix.setLocation(next, loc)
				return nil
			}
			if cmp > 0 {
				break
			}
			node = next
		}
		update[i] = node
	}

	slot, err := ix.allocNode()
	if err != nil {
		return err
	}

	level := ix.randomLevel()
	if level > top {
		// Grow the list by one level only; the header gets the new top link
		top++
		level = top
		update[level] = footer
		ix.setLevel(top)
	}

	ix.writeNode(slot, key, loc, level)
	for i := 0; i <= level; i++ {
		ix.setNext(slot, i, ix.next(update[i], i))
		ix.setNext(update[i], i, slot)
	}

	return nil
}

// allocNode reserves the next slot, doubling the region when it is full
func (ix *Index) allocNode() (uint32, error) {
	n := ix.count()
	if n+1 > capacityFor(len(ix.buf)) {
		size := len(ix.buf)
		for n+1 > capacityFor(size) {
			size *= 2
		}
		err := ix.region.Grow(size)
		// A failed grow may still have moved or dropped the mapping
		ix.buf = ix.region.Bytes()
		if err != nil {
			ix.err = fmt.Errorf("%w to %d bytes: %w", ErrGrow, size, err)
			return 0, ix.err
		}
		ix.grows++
	}
	n++
	ix.setCount(n)
	return n, nil
}

func (ix *Index) randomLevel() int {
	switch ix.dist {
	case LevelGeometric:
		level := 1
		for level < MaxLevel-1 && ix.rnd.Intn(BranchingFactor) == 0 {
			level++
		}
		return level
	default:
		return 1 + ix.rnd.Intn(MaxLevel-1)
	}
}

// Len returns the number of distinct keys
func (ix *Index) Len() int {
	return int(ix.count())
}

// Level returns the highest level currently in use
func (ix *Index) Level() int {
	return ix.level()
}

// Err returns the error that made the index unusable, or nil. Once set,
// Insert returns it, Get finds nothing and iterators are empty.
func (ix *Index) Err() error {
	return ix.err
}

// Capacity returns how many nodes fit before the region must grow
func (ix *Index) Capacity() int {
	return int(capacityFor(len(ix.buf)))
}

// Size returns the size of the backing region in bytes
func (ix *Index) Size() int {
	return len(ix.buf)
}

// Grows returns how many times the region has grown since the index was opened
func (ix *Index) Grows() int {
	return ix.grows
}

// Verify walks every level and checks that chains are strictly ascending,
// and that level 0 links exactly Len() nodes
func (ix *Index) Verify() error {
	if ix.err != nil {
		return ix.err
	}
	n := ix.count()
	for i := ix.level(); i >= 0; i-- {
		var prev []byte
		seen := uint32(0)
		for slot := ix.next(footer, i); slot != footer; slot = ix.next(slot, i) {
			if slot > n {
				return fmt.Errorf("%w: level %d links unallocated slot %d", ErrCorrupt, i, slot)
			}
			if ix.nodeLevel(slot) < i {
				return fmt.Errorf("%w: slot %d linked above its level", ErrCorrupt, slot)
			}
			key := ix.keyAt(slot)
			if prev != nil && bytes.Compare(prev, key) >= 0 {
				return fmt.Errorf("%w: level %d out of order at slot %d", ErrCorrupt, i, slot)
			}
			prev = key
			seen++
			if seen > n {
				return fmt.Errorf("%w: level %d has a cycle", ErrCorrupt, i)
			}
		}
		if i == 0 && seen != n {
			return fmt.Errorf("%w: level 0 links %d nodes, header counts %d", ErrCorrupt, seen, n)
		}
	}
	return nil
}

// Sync flushes the index region to stable storage
func (ix *Index) Sync() error {
	return ix.region.Sync()
}

// Close releases the backing region
func (ix *Index) Close() error {
	ix.buf = nil
	return ix.region.Close()
}
