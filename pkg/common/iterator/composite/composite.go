package composite

import (
	"github.com/KevoDB/slicekv/pkg/common/iterator"
)

// CompositeIterator is an interface for iterators that combine multiple source iterators
// into a single logical view.
type CompositeIterator interface {
	iterator.Iterator

	// NumSources returns the number of source iterators
	NumSources() int

	// GetSourceIterators returns the underlying source iterators
	GetSourceIterators() []iterator.Iterator
}

var _ CompositeIterator = (*MergingIterator)(nil)
