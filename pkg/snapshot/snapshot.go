// Package snapshot exports and imports a logical copy of an engine: every
// key-value pair in key order, compressed, with a trailing count and digest.
//
// Stream layout:
//
//	header   "SKSN" | version u8 | codec u8          (uncompressed)
//	body     { uvarint keyLen | key | uvarint valLen | value }...
//	         uvarint 0
//	trailer  count u64 | xxhash64 of all record bytes u64
//
// Body and trailer pass through the codec.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/KevoDB/slicekv/pkg/engine/interfaces"
	"github.com/KevoDB/slicekv/pkg/skipindex"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	version    = 1
	headerSize = 6

	// values are read in steps of this size so a forged length cannot
	// force a large allocation before the stream runs dry
	readChunk = 64 << 10
)

var magic = [4]byte{'S', 'K', 'S', 'N'}

var (
	// ErrCorruptSnapshot is returned when a snapshot fails validation
	ErrCorruptSnapshot = errors.New("snapshot is corrupt")

	// ErrUnsupportedCodec is returned for an unknown codec
	ErrUnsupportedCodec = errors.New("unsupported snapshot codec")
)

// Codec selects the compression of the snapshot body
type Codec uint8

const (
	CodecNone   Codec = 0
	CodecZstd   Codec = 1
	CodecSnappy Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec returns the codec with the given name; empty means zstd
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
	}
}

// Source is what Export reads from
type Source interface {
	Range(lower, upper []byte, visit interfaces.Visitor) error
}

// Sink is what Import writes to
type Sink interface {
	Write(key, value []byte) error
}

// ValueLimiter is implemented by sinks that cannot store values above a
// size. Import rejects longer values as corrupt before reading them.
type ValueLimiter interface {
	MaxValueSize() int
}

// Options controls Export
type Options struct {
	Codec Codec
	// Lower and Upper bound the exported keys as in Range
	Lower, Upper []byte
}

// Summary describes a finished export or import
type Summary struct {
	Codec   Codec
	Records uint64
	Bytes   uint64
	Digest  uint64
}

// Export writes every pair of src within the option bounds to w
func Export(src Source, w io.Writer, opts Options) (Summary, error) {
	sum := Summary{Codec: opts.Codec}

	var header [headerSize]byte
	copy(header[:4], magic[:])
	header[4] = version
	header[5] = byte(opts.Codec)
	if _, err := w.Write(header[:]); err != nil {
		return sum, fmt.Errorf("failed to write header: %w", err)
	}

	cw, err := newWriter(w, opts.Codec)
	if err != nil {
		return sum, err
	}
	bw := bufio.NewWriter(cw)
	digest := xxhash.New()
	out := io.MultiWriter(bw, digest)

	var scratch [binary.MaxVarintLen64]byte
	var writeErr error
	put := func(b []byte) {
		if writeErr != nil {
			return
		}
		n := binary.PutUvarint(scratch[:], uint64(len(b)))
		if _, writeErr = out.Write(scratch[:n]); writeErr != nil {
			return
		}
		_, writeErr = out.Write(b)
	}

	err = src.Range(opts.Lower, opts.Upper, func(key, value []byte) bool {
		put(key)
		put(value)
		sum.Records++
		sum.Bytes += uint64(len(key) + len(value))
		return writeErr == nil
	})
	if err == nil {
		err = writeErr
	}
	if err != nil {
		cw.Close()
		return sum, fmt.Errorf("failed to export: %w", err)
	}

	sum.Digest = digest.Sum64()

	var trailer [1 + 16]byte
	trailer[0] = 0 // keyLen 0 ends the body
	binary.LittleEndian.PutUint64(trailer[1:], sum.Records)
	binary.LittleEndian.PutUint64(trailer[9:], sum.Digest)
	if _, err := bw.Write(trailer[:]); err != nil {
		cw.Close()
		return sum, fmt.Errorf("failed to write trailer: %w", err)
	}

	if err := bw.Flush(); err != nil {
		cw.Close()
		return sum, fmt.Errorf("failed to flush: %w", err)
	}
	if err := cw.Close(); err != nil {
		return sum, fmt.Errorf("failed to finish %s stream: %w", opts.Codec, err)
	}
	return sum, nil
}

// Import reads a snapshot from r and writes every pair to dst. Pairs are
// written as they are decoded, so a corrupt snapshot may leave a prefix of
// its records behind.
func Import(dst Sink, r io.Reader) (Summary, error) {
	var sum Summary

	maxValue := uint64(math.MaxUint32)
	if l, ok := dst.(ValueLimiter); ok && l.MaxValueSize() >= 0 {
		maxValue = min(maxValue, uint64(l.MaxValueSize()))
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return sum, fmt.Errorf("%w: short header: %w", ErrCorruptSnapshot, err)
	}
	if [4]byte(header[:4]) != magic {
		return sum, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if header[4] != version {
		return sum, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, header[4])
	}
	sum.Codec = Codec(header[5])

	cr, err := newReader(r, sum.Codec)
	if err != nil {
		return sum, err
	}
	defer cr.Close()

	br := bufio.NewReader(cr)
	digest := xxhash.New()

	var scratch [binary.MaxVarintLen64]byte
	var key, value []byte
	for {
		keyLen, err := readLen(br, skipindex.KeyCapacity)
		if err != nil {
			return sum, err
		}
		if keyLen == 0 {
			break
		}
		digestLen(digest, scratch[:], keyLen)
		if key, err = readBytes(br, digest, key, keyLen); err != nil {
			return sum, err
		}

		valLen, err := readLen(br, maxValue)
		if err != nil {
			return sum, err
		}
		digestLen(digest, scratch[:], valLen)
		if value, err = readBytes(br, digest, value, valLen); err != nil {
			return sum, err
		}

		if err := dst.Write(key, value); err != nil {
			return sum, fmt.Errorf("failed to import record %d: %w", sum.Records, err)
		}
		sum.Records++
		sum.Bytes += uint64(len(key) + len(value))
	}

	var trailer [16]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return sum, fmt.Errorf("%w: missing trailer: %w", ErrCorruptSnapshot, err)
	}
	count := binary.LittleEndian.Uint64(trailer[:8])
	sum.Digest = binary.LittleEndian.Uint64(trailer[8:])

	if count != sum.Records {
		return sum, fmt.Errorf("%w: trailer counts %d records, read %d", ErrCorruptSnapshot, count, sum.Records)
	}
	if got := digest.Sum64(); got != sum.Digest {
		return sum, fmt.Errorf("%w: digest %016x, expected %016x", ErrCorruptSnapshot, got, sum.Digest)
	}
	return sum, nil
}

func readLen(br *bufio.Reader, limit uint64) (int, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: length %d exceeds %d", ErrCorruptSnapshot, n, limit)
	}
	return int(n), nil
}

// digestLen feeds the uvarint encoding of n to the digest, matching what
// Export hashed
func digestLen(digest *xxhash.Digest, scratch []byte, n int) {
	digest.Write(scratch[:binary.PutUvarint(scratch, uint64(n))])
}

func readBytes(br *bufio.Reader, digest *xxhash.Digest, buf []byte, n int) ([]byte, error) {
	buf = buf[:0]
	for len(buf) < n {
		step := min(n-len(buf), readChunk)
		buf = slices.Grow(buf, step)
		if _, err := io.ReadFull(br, buf[len(buf):len(buf)+step]); err != nil {
			return nil, fmt.Errorf("%w: truncated record: %w", ErrCorruptSnapshot, err)
		}
		buf = buf[:len(buf)+step]
	}
	digest.Write(buf)
	return buf, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return enc, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
}

type readCloser struct {
	io.Reader
	close func()
}

func (r readCloser) Close() { r.close() }

func newReader(r io.Reader, codec Codec) (readCloser, error) {
	switch codec {
	case CodecNone:
		return readCloser{Reader: r, close: func() {}}, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return readCloser{}, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return readCloser{Reader: dec, close: dec.Close}, nil
	case CodecSnappy:
		return readCloser{Reader: snappy.NewReader(r), close: func() {}}, nil
	default:
		return readCloser{}, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
}
