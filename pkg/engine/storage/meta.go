package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Metadata file layout, little endian:
//
//	0  magic      [4]byte "SKMT"
//	4  version    uint16
//	6  reserved   uint16
//	8  generation uint32
//	12 offset     uint32
//	16 checksum   uint64 xxhash64 of bytes [0, 16)
const (
	metaSize    = 24
	metaVersion = 1

	metaVersionOff  = 4
	metaGenOff      = 8
	metaOffsetOff   = 12
	metaChecksumOff = 16
)

var metaMagic = [4]byte{'S', 'K', 'M', 'T'}

// ErrCorruptMeta is returned when a slice metadata file fails validation
var ErrCorruptMeta = errors.New("slice metadata is corrupt")

// position is the persisted write cursor of a slice
type position struct {
	generation uint32
	offset     uint32
}

func encodeMeta(buf []byte, pos position) {
	copy(buf[0:4], metaMagic[:])
	binary.LittleEndian.PutUint16(buf[metaVersionOff:], metaVersion)
	binary.LittleEndian.PutUint16(buf[metaVersionOff+2:], 0)
	binary.LittleEndian.PutUint32(buf[metaGenOff:], pos.generation)
	binary.LittleEndian.PutUint32(buf[metaOffsetOff:], pos.offset)
	binary.LittleEndian.PutUint64(buf[metaChecksumOff:], xxhash.Sum64(buf[:metaChecksumOff]))
}

func decodeMeta(buf []byte) (position, error) {
	if len(buf) < metaSize {
		return position{}, fmt.Errorf("%w: %d bytes", ErrCorruptMeta, len(buf))
	}
	if [4]byte(buf[0:4]) != metaMagic {
		return position{}, fmt.Errorf("%w: bad magic", ErrCorruptMeta)
	}
	if v := binary.LittleEndian.Uint16(buf[metaVersionOff:]); v != metaVersion {
		return position{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptMeta, v)
	}
	if sum := binary.LittleEndian.Uint64(buf[metaChecksumOff:]); sum != xxhash.Sum64(buf[:metaChecksumOff]) {
		return position{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptMeta)
	}
	return position{
		generation: binary.LittleEndian.Uint32(buf[metaGenOff:]),
		offset:     binary.LittleEndian.Uint32(buf[metaOffsetOff:]),
	}, nil
}

func isBlankMeta(buf []byte) bool {
	for _, b := range buf[:metaSize] {
		if b != 0 {
			return false
		}
	}
	return true
}
