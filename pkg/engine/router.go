package engine

import (
	"fmt"

	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/cespare/xxhash/v2"
)

// hashPrefixLen is how many leading key bytes HashRouter hashes
const hashPrefixLen = 8

// Router assigns every key to one shard. Route must be a pure function of
// the key, since the assignment is baked into the files on disk.
type Router interface {
	// Route returns the shard for key, in [0, Shards())
	Route(key []byte) int

	// Shards returns the number of shards routed over
	Shards() int

	// Name returns the configuration name of the router
	Name() string
}

// PrefixRouter routes by the first key byte. With 256 shards this keeps
// keys that share a first byte together; the empty key goes to shard 0.
type PrefixRouter struct {
	shards int
}

// NewPrefixRouter creates a PrefixRouter over shards shards
func NewPrefixRouter(shards int) *PrefixRouter {
	return &PrefixRouter{shards: shards}
}

func (r *PrefixRouter) Route(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	return int(key[0]) % r.shards
}

func (r *PrefixRouter) Shards() int { return r.shards }

func (r *PrefixRouter) Name() string { return config.RouterPrefix }

// HashRouter routes by the xxhash of the first eight key bytes, spreading
// keys with skewed first bytes.
type HashRouter struct {
	shards uint64
}

// NewHashRouter creates a HashRouter over shards shards
func NewHashRouter(shards int) *HashRouter {
	return &HashRouter{shards: uint64(shards)}
}

func (r *HashRouter) Route(key []byte) int {
	if len(key) > hashPrefixLen {
		key = key[:hashPrefixLen]
	}
	return int(xxhash.Sum64(key) % r.shards)
}

func (r *HashRouter) Shards() int { return int(r.shards) }

func (r *HashRouter) Name() string { return config.RouterHash }

// NewRouter returns the router registered under name
func NewRouter(name string, shards int) (Router, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("%w: shard count %d", ErrInvalidArgument, shards)
	}
	switch name {
	case "", config.RouterPrefix:
		return NewPrefixRouter(shards), nil
	case config.RouterHash:
		return NewHashRouter(shards), nil
	default:
		return nil, fmt.Errorf("%w: unknown router %q", ErrInvalidArgument, name)
	}
}
