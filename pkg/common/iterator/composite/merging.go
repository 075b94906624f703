package composite

import (
	"bytes"
	"container/heap"

	"github.com/KevoDB/slicekv/pkg/common/iterator"
)

// MergingIterator performs a k-way merge over sorted source iterators and
// yields every key once in ascending order. When several sources hold the
// same key, the source listed first wins and the others are skipped.
//
// A MergingIterator is not safe for concurrent use. The sources are
// expected to handle their own synchronization.
type MergingIterator struct {
	sources []iterator.Iterator
	h       mergeHeap
	cur     int // index into sources, -1 when exhausted
	last    []byte
}

// NewMergingIterator creates a merging iterator over the given sources.
// The iterator is unpositioned until SeekToFirst or Seek is called.
func NewMergingIterator(sources []iterator.Iterator) *MergingIterator {
	m := &MergingIterator{
		sources: sources,
		cur:     -1,
	}
	m.h.sources = sources
	return m
}

// SeekToFirst positions every source at its first key
func (m *MergingIterator) SeekToFirst() {
	for _, src := range m.sources {
		src.SeekToFirst()
	}
	m.rebuild()
}

// Seek positions every source at its first key >= target
func (m *MergingIterator) Seek(target []byte) bool {
	for _, src := range m.sources {
		src.Seek(target)
	}
	m.rebuild()
	return m.Valid()
}

// Next advances past the current key in every source that holds it
func (m *MergingIterator) Next() bool {
	if m.cur < 0 {
		return false
	}

	m.last = append(m.last[:0], m.sources[m.cur].Key()...)
	m.advanceTop()
	for m.h.Len() > 0 && bytes.Equal(m.sources[m.h.idx[0]].Key(), m.last) {
		m.advanceTop()
	}

	m.pick()
	return m.Valid()
}

// Key returns the current key
func (m *MergingIterator) Key() []byte {
	if m.cur < 0 {
		return nil
	}
	return m.sources[m.cur].Key()
}

// Value returns the current value
func (m *MergingIterator) Value() []byte {
	if m.cur < 0 {
		return nil
	}
	return m.sources[m.cur].Value()
}

// Valid returns true if the iterator is positioned at a valid entry
func (m *MergingIterator) Valid() bool {
	return m.cur >= 0
}

// NumSources returns the number of source iterators
func (m *MergingIterator) NumSources() int {
	return len(m.sources)
}

// GetSourceIterators returns the underlying source iterators
func (m *MergingIterator) GetSourceIterators() []iterator.Iterator {
	return m.sources
}

func (m *MergingIterator) rebuild() {
	m.h.idx = m.h.idx[:0]
	for i, src := range m.sources {
		if src.Valid() {
			m.h.idx = append(m.h.idx, i)
		}
	}
	heap.Init(&m.h)
	m.pick()
}

// advanceTop moves the smallest source forward and restores heap order
func (m *MergingIterator) advanceTop() {
	src := m.sources[m.h.idx[0]]
	if src.Next() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}

func (m *MergingIterator) pick() {
	if m.h.Len() == 0 {
		m.cur = -1
		return
	}
	m.cur = m.h.idx[0]
}

// mergeHeap orders source indices by their current key, then by position
type mergeHeap struct {
	sources []iterator.Iterator
	idx     []int
}

func (h *mergeHeap) Len() int { return len(h.idx) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.idx[i], h.idx[j]
	if c := bytes.Compare(h.sources[a].Key(), h.sources[b].Key()); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *mergeHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *mergeHeap) Push(x any) { h.idx = append(h.idx, x.(int)) }

func (h *mergeHeap) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}
