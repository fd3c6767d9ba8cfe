package trace

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// CSVO buffer layout (byte addressed, little endian):
//
//	bytes 0-3   octree scale (f32)
//	bytes 4-9   preamble: u16 pseudo header plus the absolute pointer to
//	            the world octree's root node
//	bytes 10... world octree nodes, chunk blocks and material sections
//
// World and chunk interior nodes carry a u16 header with a 2-bit pointer
// size class per child, followed by the packed pointers. 4-byte pointers
// with the high bit set are absolute offsets to chunk blocks; all others
// are relative forward offsets from the node's start. A chunk block starts
// with its depth byte and the offset of its material section, which lets
// the traversal tolerate level-of-detail changes on chunk boundaries.
// Pre-leaf nodes (mask byte + record offset) and the 9-byte material
// records terminate the descent.

const csvoAbsPtrBit = uint32(1) << 31

// handle levels: csvoWorldLevel marks world octree nodes; inside a chunk
// the level counts down from the chunk's depth byte to the record level.
const (
	csvoWorldLevel  = int8(-1)
	csvoRecordLevel = int8(1)
	csvoPreLeaf     = int8(2)
)

type csvoFormat struct {
	region []byte
}

func (f csvoFormat) header(ptr uint32) uint16 {
	return binary.LittleEndian.Uint16(f.region[ptr:])
}

// describe derives the descriptor of the octant whose node sits at h.
// CSVO nodes are self-describing, so no parent state is needed.
func (f csvoFormat) describe(h nodeHandle) descriptor {
	switch h.level {
	case csvoRecordLevel:
		occ := f.region[h.ptr]
		return descriptor{childMask: occ, leafMask: occ}
	case csvoPreLeaf:
		return descriptor{childMask: f.region[h.ptr]}
	default:
		header := f.header(h.ptr)
		var mask uint8
		for c := uint(0); c < 8; c++ {
			if header>>(2*c)&3 != 0 {
				mask |= 1 << c
			}
		}
		return descriptor{childMask: mask}
	}
}

func (f csvoFormat) root() (nodeHandle, descriptor) {
	ptr := binary.LittleEndian.Uint32(f.region[2:]) &^ csvoAbsPtrBit
	h := nodeHandle{ptr: ptr, level: csvoWorldLevel}
	return h, f.describe(h)
}

// pointerOf extracts child c's raw pointer and whether it is absolute.
func (f csvoFormat) pointerOf(ptr uint32, c uint8) (uint32, bool) {
	header := f.header(ptr)
	offset := ptr + 2
	for i := uint8(0); i < c; i++ {
		offset += classByteSize(uint8(header >> (2 * uint(i)) & 3))
	}

	switch uint8(header >> (2 * uint(c)) & 3) {
	case 1:
		return uint32(f.region[offset]), false
	case 2:
		return uint32(binary.LittleEndian.Uint16(f.region[offset:])), false
	default:
		raw := binary.LittleEndian.Uint32(f.region[offset:])
		if raw&csvoAbsPtrBit != 0 {
			return raw &^ csvoAbsPtrBit, true
		}
		return raw, false
	}
}

func classByteSize(class uint8) uint32 {
	switch class {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 4
	}
}

func (f csvoFormat) child(h nodeHandle, c uint8) (nodeHandle, descriptor) {
	if h.level == csvoPreLeaf {
		recBase := h.matBase + uint32(binary.LittleEndian.Uint16(f.region[h.ptr+1:]))
		index := bits.OnesCount8(f.region[h.ptr] & (1<<c - 1))
		next := nodeHandle{
			ptr:     recBase + uint32(index)*9,
			level:   csvoRecordLevel,
			matBase: h.matBase,
		}
		return next, f.describe(next)
	}

	target, absolute := f.pointerOf(h.ptr, c)
	if absolute {
		// crossing into a chunk block: read its depth byte and material
		// section offset
		depth := int8(f.region[target])
		matOff := binary.LittleEndian.Uint32(f.region[target+1:])
		level := depth
		if level < csvoPreLeaf {
			level = csvoPreLeaf
		}
		next := nodeHandle{ptr: target + 5, level: level, matBase: target + matOff}
		return next, f.describe(next)
	}

	level := h.level
	if level != csvoWorldLevel {
		level--
	}
	next := nodeHandle{ptr: h.ptr + target, level: level, matBase: h.matBase}
	return next, f.describe(next)
}

func (f csvoFormat) leafValue(h nodeHandle, c uint8) uint32 {
	return uint32(f.region[h.ptr+1+uint32(c)])
}

// CastCsvo casts a ray against a full CSVO buffer (scale word included).
func (rt *Raytracer) CastCsvo(buf []byte, in Input) Result {
	scale := math.Float32frombits(binary.LittleEndian.Uint32(buf))
	if scale <= 0 || scale >= 1 {
		return miss(false)
	}
	return rt.cast(csvoFormat{region: buf[4:]}, scale, in)
}

// ReadCsvoVoxel reads one voxel straight from a serialized region (the
// output of Csvo.WriteTo), mirroring ReadEsvoVoxel for the byte format.
func ReadCsvoVoxel(region []byte, depth uint8, x, y, z uint32) (uint32, bool) {
	f := csvoFormat{region: region}
	h, desc := f.root()

	for level := int(depth) - 1; level >= 0; level-- {
		c := uint8((x>>level)&1 | (y>>level)&1<<1 | (z>>level)&1<<2)
		if desc.childMask&(1<<c) == 0 {
			return 0, false
		}
		if desc.leafMask&(1<<c) != 0 {
			return f.leafValue(h, c), true
		}
		h, desc = f.child(h, c)
	}
	return 0, false
}
