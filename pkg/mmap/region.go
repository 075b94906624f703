// Package mmap provides persistent byte regions backed by memory-mapped files.
//
// A Region is the unit the on-disk structures of the engine are built on: the
// skip index, the slice metadata, and every data generation. Writes into
// Bytes() land directly in the page cache and reach the file without any
// explicit I/O call; Sync forces them to stable storage.
//
// A Region is not safe for concurrent use. The slice that owns it serializes
// mutation and guarantees no reader holds the old slice across Grow.
package mmap

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operating on a region that has been closed
	ErrClosed = errors.New("region is closed")

	// ErrInvalidSize is returned for a zero or negative mapping size
	ErrInvalidSize = errors.New("invalid region size")
)

// Region is a growable, persistent byte region.
type Region interface {
	// Bytes returns the mapped bytes. The slice is invalidated by Grow and Close.
	Bytes() []byte

	// Size returns the current length of the region in bytes
	Size() int

	// Grow extends the region to at least newSize bytes. Existing content is
	// preserved at the same offsets. Growing to a smaller size is a no-op.
	Grow(newSize int) error

	// Sync flushes modified pages to stable storage
	Sync() error

	// Close releases the region. Further use returns ErrClosed.
	Close() error
}

// Advice is an access pattern hint passed to the kernel for a mapping
type Advice int

const (
	// AdviceNormal applies no special treatment
	AdviceNormal Advice = iota
	// AdviceSequential expects pages to be accessed in increasing order
	AdviceSequential
	// AdviceRandom expects pages to be accessed in random order
	AdviceRandom
)

// String returns the name of the advice
func (a Advice) String() string {
	switch a {
	case AdviceNormal:
		return "normal"
	case AdviceSequential:
		return "sequential"
	case AdviceRandom:
		return "random"
	default:
		return fmt.Sprintf("ADVICE(%d)", int(a))
	}
}

// Memory is a heap-backed Region. It has the same growth semantics as a
// mapped file and is used where persistence is not needed.
type Memory struct {
	data   []byte
	closed bool
}

// NewMemory creates a zeroed in-memory region of the given size
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Memory{data: make([]byte, size)}, nil
}

// Bytes returns the backing slice
func (m *Memory) Bytes() []byte {
	return m.data
}

// Size returns the current region size
func (m *Memory) Size() int {
	return len(m.data)
}

// Grow reallocates the backing slice to newSize, copying existing content
func (m *Memory) Grow(newSize int) error {
	if m.closed {
		return ErrClosed
	}
	if newSize <= len(m.data) {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// Sync is a no-op for memory regions
func (m *Memory) Sync() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops the backing slice
func (m *Memory) Close() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.data = nil
	return nil
}

var _ Region = (*Memory)(nil)
