package iterator

// Iterator defines the interface for iterating over key-value pairs in
// ascending key order. Slice cursors, the cross-shard merge and the
// bounded wrapper all implement it.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool
}
