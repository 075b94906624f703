package storage

import (
	"github.com/KevoDB/slicekv/pkg/common/iterator"
	"github.com/KevoDB/slicekv/pkg/skipindex"
)

// Cursor iterates a slice in ascending key order. Each positioning call
// takes the slice read lock and copies the entry out, so concurrent writes
// may proceed between steps; keys inserted behind the cursor are not seen,
// keys inserted ahead of it are.
//
// Key and Value stay valid until the cursor moves.
type Cursor struct {
	s     *Slice
	it    *skipindex.Iterator
	key   []byte
	value []byte
	valid bool
}

var _ iterator.Iterator = (*Cursor)(nil)

// NewCursor returns an unpositioned cursor over the slice
func (s *Slice) NewCursor() *Cursor {
	return &Cursor{s: s}
}

// SeekToFirst positions the cursor at the smallest key
func (c *Cursor) SeekToFirst() {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	if !c.attach() {
		return
	}
	c.it.SeekToFirst()
	c.load()
}

// Seek positions the cursor at the first key >= target
func (c *Cursor) Seek(target []byte) bool {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	if !c.attach() {
		return false
	}
	c.it.Seek(target)
	c.load()
	return c.valid
}

// Next advances to the following key
func (c *Cursor) Next() bool {
	if !c.valid {
		return false
	}

	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	if c.s.closed {
		c.valid = false
		return false
	}
	c.it.Next()
	c.load()
	return c.valid
}

// Key returns the current key
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.key
}

// Value returns the current value
func (c *Cursor) Value() []byte {
	if !c.valid {
		return nil
	}
	return c.value
}

// Valid returns true if the cursor is positioned at an entry
func (c *Cursor) Valid() bool {
	return c.valid
}

// attach binds the index iterator on first use. Callers hold the read lock.
func (c *Cursor) attach() bool {
	if c.s.closed {
		c.valid = false
		return false
	}
	if c.it == nil {
		c.it = c.s.index.NewIterator()
	}
	return true
}

// load copies the entry under the index iterator. Callers hold the read lock.
func (c *Cursor) load() {
	if !c.it.Valid() {
		c.valid = false
		return
	}
	data, err := c.s.bytesAt(c.it.Location())
	if err != nil {
		c.valid = false
		return
	}
	c.key = append(c.key[:0], c.it.Key()...)
	c.value = append(c.value[:0], data...)
	c.valid = true
}
