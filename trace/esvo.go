package trace

import "math"

// ESVO buffer layout (word = 32 bits, little endian):
//
//	word 0      octree scale (f32): edge length of one voxel in [0,1) space
//	words 1-5   preamble: half-word descriptor of the root octant plus the
//	            absolute pointer to the root's node
//	words 6...  serialized octants, 12 words each: 4 header words holding
//	            two half-word child descriptors per word (low half first),
//	            then 8 pointer words
//
// A half-word descriptor packs the child's masks as childMask<<8 | leafMask.
// Pointer words with the high bit set are relative offsets from the
// pointer's own slot, the rest are absolute word indices into the region
// following the scale word.

const esvoRelPtrBit = uint32(1) << 31

// esvoFormat traverses an ESVO region ([]uint32 starting at the preamble).
type esvoFormat struct {
	region []uint32
}

func (f esvoFormat) halfword(ptr uint32, c uint8) uint32 {
	w := f.region[ptr+uint32(c)/2]
	if c&1 != 0 {
		w >>= 16
	}
	return w & 0xffff
}

func (f esvoFormat) descriptorAt(ptr uint32, c uint8) descriptor {
	hw := f.halfword(ptr, c)
	return descriptor{childMask: uint8(hw >> 8), leafMask: uint8(hw)}
}

func (f esvoFormat) resolve(slot uint32) uint32 {
	raw := f.region[slot]
	if raw&esvoRelPtrBit != 0 {
		return slot + (raw &^ esvoRelPtrBit)
	}
	return raw
}

func (f esvoFormat) root() (nodeHandle, descriptor) {
	// the preamble's slot 0 carries the root octant's descriptor and node
	return nodeHandle{ptr: f.resolve(4)}, f.descriptorAt(0, 0)
}

func (f esvoFormat) child(h nodeHandle, c uint8) (nodeHandle, descriptor) {
	return nodeHandle{ptr: f.resolve(h.ptr + 4 + uint32(c))}, f.descriptorAt(h.ptr, c)
}

func (f esvoFormat) leafValue(h nodeHandle, c uint8) uint32 {
	return f.region[h.ptr+4+uint32(c)]
}

// CastEsvo casts a ray against a full ESVO buffer (scale word included).
func (rt *Raytracer) CastEsvo(buf []uint32, in Input) Result {
	scale := math.Float32frombits(buf[0])
	if scale <= 0 || scale >= 1 {
		return miss(false)
	}
	return rt.cast(esvoFormat{region: buf[1:]}, scale, in)
}

// ReadEsvoVoxel reads one voxel straight from a serialized region (the
// output of Esvo.WriteTo) by walking the pointer structure the same way the
// traversal does. depth is the serialized octree depth; x, y and z address
// the voxel at that depth. It exists to verify serialization round trips
// against octree reads.
func ReadEsvoVoxel(region []uint32, depth uint8, x, y, z uint32) (uint32, bool) {
	f := esvoFormat{region: region}
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
