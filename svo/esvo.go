package svo

import (
	"fmt"
	"sort"

	"github.com/tim-oster/voxel-go/voxel"
)

// PreambleLength is the number of words the serialized entry point occupies.
// The preamble is a pseudo octant whose child slot 0 points at the root
// octant, so the traversal can start without a special case.
const PreambleLength = 5

// NodeLength is the serialized size of one ESVO octant in words: 4 header
// words (8 half-word child descriptors, low half first) followed by 8
// pointer words.
const NodeLength = 12

// RelPtrBit flags a pointer word as a relative offset from the pointer's own
// slot. Pointers without the bit are absolute word indices into the buffer.
const RelPtrBit = uint32(1) << 31

// Serializable values can be stored as leaves of an Esvo and know how to
// write themselves into the word buffer.
type Serializable interface {
	// UniqueID returns a stable id used to track the serialized block when
	// the leaf moves around inside the SVO.
	UniqueID() uint64

	// Serialize appends the leaf's data to dst and returns metadata about
	// the produced layout.
	Serialize(dst *[]uint32, lod uint8) SerializationResult
}

// SerializationResult describes a serialized octant to its parent.
type SerializationResult struct {
	// ChildMask holds one bit per child slot that contains anything.
	ChildMask uint8
	// LeafMask holds one bit per child slot that holds a leaf value instead
	// of another octant. Only valid where ChildMask is set too.
	LeafMask uint8
	// Depth is 0 if nothing was serialized, 1 for plain leaf octants and
	// grows by one per layer of nested octants.
	Depth uint8
}

type changeKind uint8

// Removals sort before additions so freed ranges are available for reuse
// within the same Serialize call.
const (
	changeRemove changeKind = iota
	changeAdd
)

type octantChange struct {
	kind changeKind
	id   uint64
	leaf voxel.LeafID
}

type leafInfo struct {
	// bufOffset is the word offset the serialized data was copied to.
	bufOffset int
	result    SerializationResult
}

// Esvo decorates an octree with serialization into the flat word format the
// GPU traverses.
//
// The root octree is re-serialized as a whole on every Serialize call and
// links its octants with relative pointers. Leaf values are serialized once,
// inserted as standalone blocks and referenced by absolute pointers, which
// makes moving a leaf a matter of swapping one pointer. Removing a leaf
// frees its block's range for reuse.
type Esvo[T Serializable] struct {
	octree    *voxel.Octree[T]
	changeSet map[octantChange]struct{}

	buffer   *RangeBuffer[uint32]
	leafInfo map[uint64]leafInfo
	rootInfo *leafInfo

	// scratch buffer reused across Serialize calls
	tmp []uint32
}

// rootBlockID is the reserved range-buffer id of the root octree's block.
const rootBlockID = ^uint64(0)

// NewEsvo creates an empty SVO with a growable buffer.
func NewEsvo[T Serializable]() *Esvo[T] {
	return newEsvo[T](NewRangeBuffer[uint32](0))
}

// NewEsvoWithCapacity creates an empty SVO with a pre-allocated buffer.
func NewEsvoWithCapacity[T Serializable](capacity int) *Esvo[T] {
	return newEsvo[T](NewRangeBuffer[uint32](capacity))
}

// NewFixedEsvo creates an SVO whose buffer never grows beyond limit words.
// Serialization into a full buffer fails with ErrOutOfSpace.
func NewFixedEsvo[T Serializable](limit int) *Esvo[T] {
	return newEsvo[T](NewFixedRangeBuffer[uint32](limit))
}

func newEsvo[T Serializable](buffer *RangeBuffer[uint32]) *Esvo[T] {
	return &Esvo[T]{
		octree:    voxel.NewOctree[T](),
		changeSet: make(map[octantChange]struct{}),
		buffer:    buffer,
		leafInfo:  make(map[uint64]leafInfo),
	}
}

// Clear drops all data but keeps the allocated memory.
func (s *Esvo[T]) Clear() {
	s.octree.Reset()
	for c := range s.changeSet {
		delete(s.changeSet, c)
	}
	s.buffer.Clear()
	for id := range s.leafInfo {
		delete(s.leafInfo, id)
	}
	s.rootInfo = nil
}

// SetLeaf places the leaf at the given position, expanding the octree as
// needed. If serialize is false and the leaf's block is already in the
// buffer, re-serialization is skipped; useful when a leaf is only moved.
func (s *Esvo[T]) SetLeaf(pos voxel.Position, leaf T, serialize bool) (voxel.LeafID, T, bool) {
	uid := leaf.UniqueID()
	leafID, prev, replaced := s.octree.SetLeaf(pos, leaf)

	if _, known := s.leafInfo[uid]; serialize || !known {
		s.changeSet[octantChange{kind: changeAdd, id: uid, leaf: leafID}] = struct{}{}
	}

	return leafID, prev, replaced
}

// MoveLeaf moves a leaf to a new position without re-serializing its block.
func (s *Esvo[T]) MoveLeaf(id voxel.LeafID, toPos voxel.Position) (voxel.LeafID, T, bool) {
	return s.octree.MoveLeaf(id, toPos)
}

// RemoveLeaf removes the leaf and frees its serialized block.
func (s *Esvo[T]) RemoveLeaf(id voxel.LeafID) (T, bool) {
	value, ok := s.octree.RemoveLeafByID(id)
	if ok {
		s.changeSet[octantChange{kind: changeRemove, id: value.UniqueID()}] = struct{}{}
	}
	return value, ok
}

// GetLeaf reads the leaf at the given position.
func (s *Esvo[T]) GetLeaf(pos voxel.Position) (T, bool) {
	return s.octree.GetLeaf(pos)
}

// Serialize writes all changed leaf blocks and rebuilds the root octree
// block. It must be called before WriteTo or WriteChangesTo for them to pick
// up changes.
//
// On ErrOutOfSpace the failed leaf stays in the change set so a later call
// can retry after space was freed; already processed changes are kept.
func (s *Esvo[T]) Serialize() error {
	if s.octree.Root() == voxel.NilOctant {
		return nil
	}

	// drain changes in deterministic order so identical edits produce
	// identical buffers
	changes := make([]octantChange, 0, len(s.changeSet))
	for c := range s.changeSet {
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].kind != changes[j].kind {
			return changes[i].kind < changes[j].kind
		}
		return changes[i].id < changes[j].id
	})
	for c := range s.changeSet {
		delete(s.changeSet, c)
	}

	for _, c := range changes {
		switch c.kind {
		case changeAdd:
			content, ok := s.octree.LeafAt(c.leaf)
			if !ok {
				continue
			}
			s.tmp = s.tmp[:0]
			result := content.Serialize(&s.tmp, 0)
			if result.Depth == 0 {
				continue
			}
			offset, err := s.buffer.Insert(c.id, s.tmp)
			if err != nil {
				s.changeSet[c] = struct{}{}
				return fmt.Errorf("serializing leaf block %d: %w", c.id, err)
			}
			s.leafInfo[c.id] = leafInfo{bufOffset: offset, result: result}

		case changeRemove:
			s.buffer.Remove(c.id)
			delete(s.leafInfo, c.id)
		}
	}

	// rebuild the root octree block
	s.tmp = s.tmp[:0]
	result := s.serializeRoot(&s.tmp)
	offset, err := s.buffer.Insert(rootBlockID, s.tmp)
	if err != nil {
		return fmt.Errorf("serializing root octree: %w", err)
	}
	s.rootInfo = &leafInfo{bufOffset: offset, result: result}

	return nil
}

// serializeRoot walks the root octree and encodes leaf slots as absolute
// pointers to their standalone blocks.
func (s *Esvo[T]) serializeRoot(dst *[]uint32) SerializationResult {
	return serializeOctant(s.octree, s.octree.Root(), dst, 0, func(p encodeParams[T]) {
		info, ok := s.leafInfo[p.content.UniqueID()]
		if !ok {
			return
		}

		// merge the child's masks into this octant's header half-word
		mask := uint32(info.result.ChildMask)<<8 | uint32(info.result.LeafMask)
		if p.idx%2 != 0 {
			mask <<= 16
		}
		p.dst[p.idx/2] |= mask

		// absolute pointer to the standalone block
		p.dst[4+p.idx] = uint32(info.bufOffset + PreambleLength)
		p.result.Depth = max8(p.result.Depth, info.result.Depth+1)
	})
}

// Depth returns the depth of the serialized SVO.
func (s *Esvo[T]) Depth() uint8 {
	if s.rootInfo == nil {
		return 0
	}
	return s.rootInfo.result.Depth
}

// SizeInBytes returns the size of the serialized buffer.
func (s *Esvo[T]) SizeInBytes() int {
	return s.buffer.SizeInBytes()
}

// WriteTo copies the preamble and the whole serialized buffer into dst and
// returns the number of words written. Must be called after Serialize.
func (s *Esvo[T]) WriteTo(dst []uint32) int {
	if s.rootInfo == nil {
		return 0
	}

	s.writePreamble(dst)
	n := copy(dst[PreambleLength:], s.buffer.Data())
	return PreambleLength + n
}

// WriteChangesTo copies only the ranges updated since the last reset,
// assuming dst already holds the result of an earlier WriteTo. The preamble
// is always rewritten; the root pointer update is a single aligned word
// write, so a concurrent reader sees either the old or the new root. If
// reset is true the change tracker is cleared.
func (s *Esvo[T]) WriteChangesTo(dst []uint32, reset bool) {
	if s.rootInfo == nil {
		return
	}
	if len(s.buffer.UpdatedRanges()) == 0 {
		return
	}

	data := s.buffer.Data()
	for _, r := range s.buffer.UpdatedRanges() {
		if PreambleLength+r.Start+r.Length > len(dst) {
			panic(fmt.Sprintf("svo: dst is not large enough: len=%d range_start=%d range_length=%d",
				len(dst), r.Start, r.Length))
		}
		copy(dst[PreambleLength+r.Start:], data[r.Start:r.Start+r.Length])
	}
	s.writePreamble(dst)

	if reset {
		s.buffer.ResetUpdatedRanges()
	}
}

// writePreamble writes the pseudo octant that wraps the root octant as its
// first child. The root pointer lands in one aligned word.
func (s *Esvo[T]) writePreamble(dst []uint32) {
	info := s.rootInfo
	dst[0] = uint32(info.result.ChildMask) << 8
	dst[1] = 0
	dst[2] = 0
	dst[3] = 0
	dst[4] = uint32(info.bufOffset + PreambleLength)
}

// encodeParams is handed to the child encoder for every leaf slot that is
// reached during octant serialization.
type encodeParams[T any] struct {
	parentID voxel.OctantID
	idx      uint8
	result   *SerializationResult
	dst      []uint32
	content  T
}

// serializeOctant encodes the given octant and all octants below it into dst
// in depth-first order. Every octant takes NodeLength words: 4 header words
// holding the child & leaf masks of its children, and 8 pointer words.
// Octant children become relative pointers measured from the pointer's own
// slot; leaf slots are delegated to the child encoder.
//
// For lod > 0 the recursion is limited to lod layers; pickLeafForLod
// substitutes the first reachable leaf for cut-off subtrees.
func serializeOctant[T any](tree *voxel.Octree[T], octantID voxel.OctantID, dst *[]uint32, lod uint8, encode func(encodeParams[T])) SerializationResult {
	startOffset := len(*dst)
	*dst = append(*dst, make([]uint32, NodeLength)...)

	var result SerializationResult

	for idx := uint8(0); idx < 8; idx++ {
		c, ok := tree.Child(octantID, idx)
		if !ok {
			continue
		}

		result.ChildMask |= 1 << idx

		if c.IsLeaf || lod == 1 {
			content := c.Leaf
			found := c.IsLeaf
			if !found {
				content, found = pickLeafForLod(tree, c.Octant)
			}
			if !found {
				continue
			}

			encode(encodeParams[T]{
				parentID: octantID,
				idx:      idx,
				result:   &result,
				dst:      (*dst)[startOffset:],
				content:  content,
			})
			continue
		}

		childLod := lod
		if childLod > 0 {
			childLod--
		}
		childOffset := len(*dst) - startOffset
		childResult := serializeOctant(tree, c.Octant, dst, childLod, encode)

		mask := uint32(childResult.ChildMask)<<8 | uint32(childResult.LeafMask)
		if idx%2 != 0 {
			mask <<= 16
		}
		(*dst)[startOffset+int(idx)/2] |= mask

		// offset from the pointer's own slot to the child block
		relPtr := uint32(childOffset) - 4 - uint32(idx)
		if relPtr&RelPtrBit != 0 {
			panic("svo: relative pointer is too large")
		}
		(*dst)[startOffset+4+int(idx)] = relPtr | RelPtrBit

		result.Depth = max8(result.Depth, childResult.Depth+1)
	}

	return result
}

// pickLeafForLod returns the first leaf reachable from the given octant,
// breadth first, so cut-off subtrees keep a representative value.
func pickLeafForLod[T any](tree *voxel.Octree[T], octantID voxel.OctantID) (T, bool) {
	for idx := uint8(0); idx < 8; idx++ {
		c, ok := tree.Child(octantID, idx)
		if ok && c.IsLeaf {
			return c.Leaf, true
		}
	}
	for idx := uint8(0); idx < 8; idx++ {
		c, ok := tree.Child(octantID, idx)
		if !ok || c.IsLeaf {
			continue
		}
		if leaf, found := pickLeafForLod(tree, c.Octant); found {
			return leaf, true
		}
	}
	var zero T
	return zero, false
}

func max8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}
