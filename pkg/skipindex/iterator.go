package skipindex

import "bytes"

// Iterator walks level 0 of the index in ascending key order.
//
// The iterator only remembers a slot number, so it survives region growth.
// Key aliases the mapped region and is only valid until the next call that
// may grow the index; copy it to keep it.
type Iterator struct {
	ix   *Index
	slot uint32
}

// NewIterator returns an unpositioned iterator
func (ix *Index) NewIterator() *Iterator {
	return &Iterator{ix: ix}
}

// SeekToFirst positions the iterator at the smallest key
func (it *Iterator) SeekToFirst() {
	if it.ix.err != nil {
		it.slot = footer
		return
	}
	it.slot = it.ix.next(footer, 0)
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target []byte) bool {
	ix := it.ix
	if ix.err != nil {
		it.slot = footer
		return false
	}
	node := footer
	for i := ix.level(); i >= 0; i-- {
		for {
			next := ix.next(node, i)
			if next == footer || bytes.Compare(ix.keyAt(next), target) >= 0 {
				break
			}
			node = next
		}
	}
	it.slot = ix.next(node, 0)
	return it.Valid()
}

// Next advances to the following key
func (it *Iterator) Next() bool {
	if it.slot == footer {
		return false
	}
	if it.ix.err != nil {
		it.slot = footer
		return false
	}
	it.slot = it.ix.next(it.slot, 0)
	return it.Valid()
}

// Valid reports whether the iterator is positioned at a key
func (it *Iterator) Valid() bool {
	return it.slot != footer
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.ix.keyAt(it.slot)
}

// Location returns the location of the current key
func (it *Iterator) Location() Location {
	if !it.Valid() {
		return NotFound
	}
	return it.ix.locationAt(it.slot)
}
