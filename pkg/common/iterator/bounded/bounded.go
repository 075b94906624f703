// Package bounded restricts an iterator to a half-open key range.
package bounded

import (
	"bytes"

	"github.com/KevoDB/slicekv/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to [start, end).
// An empty bound is treated as unbounded on that side.
type BoundedIterator struct {
	iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey []byte) *BoundedIterator {
	bi := &BoundedIterator{Iterator: iter}
	bi.start, bi.end = cloneBound(startKey), cloneBound(endKey)
	return bi
}

func cloneBound(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// SetBounds replaces the bounds. A current position outside the new range
// becomes invalid.
func (b *BoundedIterator) SetBounds(start, end []byte) {
	b.start, b.end = cloneBound(start), cloneBound(end)
}

// SeekToFirst positions at the first key in the bounded range
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// Seek positions at the first key >= target within bounds
func (b *BoundedIterator) Seek(target []byte) bool {
	if b.start != nil && bytes.Compare(target, b.start) < 0 {
		target = b.start
	}

	b.Iterator.Seek(target)
	return b.checkBounds()
}

// Next advances to the next key within bounds
func (b *BoundedIterator) Next() bool {
	if !b.checkBounds() {
		return false
	}

	if !b.Iterator.Next() {
		return false
	}

	return b.checkBounds()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds
func (b *BoundedIterator) Valid() bool {
	return b.checkBounds()
}

// Key returns the current key if within bounds
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Key()
}

// Value returns the current value if within bounds
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}

func (b *BoundedIterator) checkBounds() bool {
	if !b.Iterator.Valid() {
		return false
	}

	if b.start != nil && bytes.Compare(b.Iterator.Key(), b.start) < 0 {
		return false
	}

	if b.end != nil && bytes.Compare(b.Iterator.Key(), b.end) >= 0 {
		return false
	}

	return true
}
