//go:build unix

package mmap

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a Region backed by a shared, read-write mapping of a file
type File struct {
	path    string
	f       *os.File
	data    []byte
	advice  Advice
	created bool
}

// Option configures a mapped file
type Option func(*File)

// WithAdvice sets the access pattern hint applied after every (re)mapping
func WithAdvice(advice Advice) Option {
	return func(m *File) {
		m.advice = advice
	}
}

// OpenFile opens or creates the file at path, extends it to at least minSize
// bytes and maps it into memory. A file that is already larger than minSize
// is mapped whole.
func OpenFile(path string, minSize int, opts ...Option) (*File, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("%w: %d for %s", ErrInvalidSize, minSize, path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	m := &File{
		path:    path,
		f:       f,
		created: st.Size() == 0,
	}
	for _, opt := range opts {
		opt(m)
	}

	size := int(st.Size())
	if size < minSize {
		if err := f.Truncate(int64(minSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to extend %s to %d bytes: %w", path, minSize, err)
		}
		size = minSize
	}

	if err := m.mapFile(size); err != nil {
		f.Close()
		return nil, err
	}

	return m, nil
}

// Path returns the path of the underlying file
func (m *File) Path() string {
	return m.path
}

// Created reports whether the file was empty (newly created) when opened
func (m *File) Created() bool {
	return m.created
}

// Bytes returns the mapped bytes
func (m *File) Bytes() []byte {
	return m.data
}

// Size returns the mapped length
func (m *File) Size() int {
	return len(m.data)
}

// Grow extends the file and re-establishes the mapping over the new size.
// If the new mapping cannot be created the old size is mapped again so the
// region stays usable, and the error is returned.
func (m *File) Grow(newSize int) error {
	if m.f == nil {
		return ErrClosed
	}
	oldSize := len(m.data)
	if newSize <= oldSize {
		return nil
	}

	if err := m.f.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("failed to extend %s to %d bytes: %w", m.path, newSize, err)
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("failed to unmap %s: %w", m.path, err)
	}
	m.data = nil

	if err := m.mapFile(newSize); err != nil {
		if remapErr := m.mapFile(oldSize); remapErr != nil {
			return errors.Join(err, remapErr)
		}
		return err
	}

	return nil
}

// Sync flushes the mapping to disk with msync(MS_SYNC)
func (m *File) Sync() error {
	if m.f == nil {
		return ErrClosed
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to sync %s: %w", m.path, err)
	}
	return nil
}

// Close unmaps the region and closes the file. Both release steps run even
// if the first one fails.
func (m *File) Close() error {
	if m.f == nil {
		return ErrClosed
	}

	var errs []error
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmap %s: %w", m.path, err))
		}
		m.data = nil
	}
	if err := m.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s: %w", m.path, err))
	}
	m.f = nil

	return errors.Join(errs...)
}

func (m *File) mapFile(size int) error {
	data, err := unix.Mmap(int(m.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to map %s (%d bytes): %w", m.path, size, err)
	}
	m.data = data

	// Advisory only, a kernel that ignores the hint still serves the mapping
	_ = unix.Madvise(data, m.advice.flag())
	return nil
}

func (a Advice) flag() int {
	switch a {
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	case AdviceRandom:
		return unix.MADV_RANDOM
	default:
		return unix.MADV_NORMAL
	}
}

var _ Region = (*File)(nil)
