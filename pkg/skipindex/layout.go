package skipindex

import (
	"encoding/binary"
	"fmt"
)

// On-disk layout. All integers are little-endian.
//
//	header  (24 bytes)
//	  0  magic     [4]byte "SKIX"
//	  4  version   u16
//	  6  keyCap    u16
//	  8  maxLevel  u32
//	 12  count     u32  number of allocated nodes
//	 16  level     u32  highest level in use
//	 20  reserved  u32
//	slot 0           sentinel header node
//	slot 1..count    nodes, append-only
//
//	node (124 bytes)
//	  0  keyLen    u32
//	  4  key       [KeyCapacity]byte, zero padded
//	 36  gen       i32
//	 40  offset    u32
//	 44  length    u32
//	 48  level     u32  top level this node is linked at
//	 52  next      [MaxLevel]u32 slot indices, 0 terminates
const (
	// KeyCapacity is the largest key, in bytes, the index can store
	KeyCapacity = 32

	// MaxLevel is the number of link levels per node
	MaxLevel = 18

	// FormatVersion is the layout version written to new index files
	FormatVersion = 1

	// DefaultInitialSize is the initial size of a new index region
	DefaultInitialSize = 8 * 1024 * 1024

	headerSize = 24
	nodeSize   = 52 + 4*MaxLevel

	// footer terminates every chain. The header node occupies slot 0 and is
	// never the target of a link, so 0 is free to mean "none".
	footer uint32 = 0
)

const (
	offMagic    = 0
	offVersion  = 4
	offKeyCap   = 6
	offMaxLevel = 8
	offCount    = 12
	offLevel    = 16

	nodeOffKeyLen = 0
	nodeOffKey    = 4
	nodeOffGen    = 36
	nodeOffOffset = 40
	nodeOffLength = 44
	nodeOffLevel  = 48
	nodeOffNext   = 52
)

var magic = [4]byte{'S', 'K', 'I', 'X'}

// MinRegionSize is the smallest region that holds the header, the sentinel
// node and one data node
const MinRegionSize = headerSize + 2*nodeSize

var le = binary.LittleEndian

// capacityFor returns how many data nodes fit in a region of size bytes
func capacityFor(size int) uint32 {
	if size < headerSize+nodeSize {
		return 0
	}
	return uint32((size-headerSize)/nodeSize - 1)
}

func nodeOffset(slot uint32) int {
	return headerSize + int(slot)*nodeSize
}

func (ix *Index) count() uint32 {
	return le.Uint32(ix.buf[offCount:])
}

func (ix *Index) setCount(n uint32) {
	le.PutUint32(ix.buf[offCount:], n)
}

func (ix *Index) level() int {
	return int(le.Uint32(ix.buf[offLevel:]))
}

func (ix *Index) setLevel(level int) {
	le.PutUint32(ix.buf[offLevel:], uint32(level))
}

func (ix *Index) next(slot uint32, level int) uint32 {
	return le.Uint32(ix.buf[nodeOffset(slot)+nodeOffNext+4*level:])
}

func (ix *Index) setNext(slot uint32, level int, target uint32) {
	le.PutUint32(ix.buf[nodeOffset(slot)+nodeOffNext+4*level:], target)
}

// keyAt aliases the mapped key bytes of a node
func (ix *Index) keyAt(slot uint32) []byte {
	off := nodeOffset(slot)
	n := le.Uint32(ix.buf[off+nodeOffKeyLen:])
	if n > KeyCapacity {
		n = KeyCapacity
	}
	start := off + nodeOffKey
	return ix.buf[start : start+int(n)]
}

func (ix *Index) locationAt(slot uint32) Location {
	off := nodeOffset(slot)
	return Location{
		Generation: int32(le.Uint32(ix.buf[off+nodeOffGen:])),
		Offset:     le.Uint32(ix.buf[off+nodeOffOffset:]),
		Length:     le.Uint32(ix.buf[off+nodeOffLength:]),
	}
}

func (ix *Index) setLocation(slot uint32, loc Location) {
	off := nodeOffset(slot)
	le.PutUint32(ix.buf[off+nodeOffGen:], uint32(loc.Generation))
	le.PutUint32(ix.buf[off+nodeOffOffset:], loc.Offset)
	le.PutUint32(ix.buf[off+nodeOffLength:], loc.Length)
}

func (ix *Index) writeNode(slot uint32, key []byte, loc Location, level int) {
	off := nodeOffset(slot)
	node := ix.buf[off : off+nodeSize]
	clear(node)
	le.PutUint32(node[nodeOffKeyLen:], uint32(len(key)))
	copy(node[nodeOffKey:nodeOffKey+KeyCapacity], key)
	ix.setLocation(slot, loc)
	le.PutUint32(node[nodeOffLevel:], uint32(level))
}

func (ix *Index) nodeLevel(slot uint32) int {
	return int(le.Uint32(ix.buf[nodeOffset(slot)+nodeOffLevel:]))
}

// initHeader formats an empty index in the region
func (ix *Index) initHeader() {
	clear(ix.buf[:headerSize+nodeSize])
	copy(ix.buf[offMagic:], magic[:])
	le.PutUint16(ix.buf[offVersion:], FormatVersion)
	le.PutUint16(ix.buf[offKeyCap:], KeyCapacity)
	le.PutUint32(ix.buf[offMaxLevel:], MaxLevel)
}

// isBlank reports whether the header area has never been written
func (ix *Index) isBlank() bool {
	for _, b := range ix.buf[:headerSize] {
		if b != 0 {
			return false
		}
	}
	return true
}

// checkHeader validates a header written by a previous process
func (ix *Index) checkHeader() error {
	if [4]byte(ix.buf[offMagic:offMagic+4]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, ix.buf[offMagic:offMagic+4])
	}
	if v := le.Uint16(ix.buf[offVersion:]); v != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if kc := le.Uint16(ix.buf[offKeyCap:]); kc != KeyCapacity {
		return fmt.Errorf("%w: key capacity %d, expected %d", ErrCorrupt, kc, KeyCapacity)
	}
	if ml := le.Uint32(ix.buf[offMaxLevel:]); ml != MaxLevel {
		return fmt.Errorf("%w: max level %d, expected %d", ErrCorrupt, ml, MaxLevel)
	}
	if n, c := ix.count(), capacityFor(len(ix.buf)); n > c {
		return fmt.Errorf("%w: node count %d exceeds capacity %d", ErrCorrupt, n, c)
	}
	if l := ix.level(); l >= MaxLevel {
		return fmt.Errorf("%w: level %d out of range", ErrCorrupt, l)
	}
	return nil
}
