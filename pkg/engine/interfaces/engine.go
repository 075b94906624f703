package interfaces

import (
	"github.com/KevoDB/slicekv/pkg/common/iterator"
)

// Visitor receives each key-value pair of a range scan. Returning false
// stops the scan. The slices are only valid for the duration of the call.
type Visitor func(key, value []byte) bool

// Engine defines the core interface for the storage engine
// This is the primary interface clients will interact with
type Engine interface {
	// Write stores value under key, replacing any previous value
	Write(key, value []byte) error

	// Read returns a copy of the value stored under key, or ErrKeyNotFound
	Read(key []byte) ([]byte, error)

	// Range visits every pair with lower <= key < upper in ascending key order.
	// An empty bound is open on that side.
	Range(lower, upper []byte, visit Visitor) error

	// NewIterator returns a merged iterator over [lower, upper)
	NewIterator(lower, upper []byte) (iterator.Iterator, error)

	// Statistics
	GetStats() map[string]interface{}

	// Lifecycle management
	Close() error
}
