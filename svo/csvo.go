package svo

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tim-oster/voxel-go/voxel"
)

// The CSVO format trades the fixed 48-byte ESVO nodes for byte-packed nodes
// with per-child pointer widths. It is denser but costs more arithmetic per
// traversal step. Both formats are semantically equivalent.
//
// Chunk block layout (all integers little endian):
//
//	[0]     depth byte: number of octree layers inside this block
//	[1..4]  u32 byte offset from the block start to the material section
//	[5..]   root node, followed by its descendants in depth-first order
//	...     material section: one record per pre-leaf child, 1 occupancy
//	        byte + 8 packed material-id bytes
//
// Interior node: u16 header holding a 2-bit size class per child
// {0 = absent, 1/2/3 = pointer stored in 1/2/4 bytes}, followed by the
// present children's pointers in slot order. Pointers are forward byte
// offsets from the node's start. 4-byte pointers with CsvoAbsPtrBit set are
// absolute byte offsets into the buffer instead; they link the world octree
// to chunk blocks.
//
// Pre-leaf node (two layers above the voxels): 1-byte child mask plus a u16
// offset into the chunk's material section where the node's leaf records
// start, one 9-byte record per set mask bit, in slot order.

// CsvoAbsPtrBit flags a 4-byte CSVO pointer as absolute.
const CsvoAbsPtrBit = uint32(1) << 31

// CsvoPreambleLength is the byte size of the serialized entry point: a
// pseudo node whose only child pointer is the absolute offset of the root.
const CsvoPreambleLength = 6

// csvoLeafRecordLength is the byte size of one material-section record.
const csvoLeafRecordLength = 9

// CsvoResult describes a serialized CSVO block to its parent.
type CsvoResult struct {
	// ChildMask holds one bit per occupied child slot of the block's root.
	ChildMask uint8
	// Depth of the serialized block; 0 means nothing was serialized.
	Depth uint8
}

// ByteSerializable values can be stored as leaves of a Csvo.
type ByteSerializable interface {
	UniqueID() uint64
	Serialize(dst *[]byte, lod uint8) CsvoResult
}

// CsvoSerializedChunk wraps a borrowed chunk and serializes its storage
// octree into the CSVO byte format on creation.
type CsvoSerializedChunk struct {
	Pos voxel.ChunkPos
	Lod uint8

	Borrowed *voxel.BorrowedChunk

	pool   *BufferPool[uint8]
	buffer *[]byte
	result CsvoResult
}

// NewCsvoSerializedChunk serializes the borrowed chunk's octree using a
// scratch buffer from the given pool.
func NewCsvoSerializedChunk(chunk *voxel.BorrowedChunk, pool *BufferPool[uint8]) *CsvoSerializedChunk {
	sc := &CsvoSerializedChunk{
		Pos:      chunk.Pos,
		Lod:      chunk.Lod,
		Borrowed: chunk,
		pool:     pool,
	}

	buf := pool.Allocate()
	sc.result = SerializeChunkOctreeCsvo(chunk.Storage(), buf, chunk.Lod)
	if sc.result.Depth > 0 {
		sc.buffer = buf
	} else {
		pool.Release(buf)
	}
	return sc
}

// TakeBorrowedChunk releases the chunk ownership back to the caller.
func (sc *CsvoSerializedChunk) TakeBorrowedChunk() *voxel.BorrowedChunk {
	bc := sc.Borrowed
	sc.Borrowed = nil
	return bc
}

// HasData reports whether the chunk serialized to anything.
func (sc *CsvoSerializedChunk) HasData() bool {
	return sc.buffer != nil
}

func (sc *CsvoSerializedChunk) UniqueID() uint64 {
	return sc.Pos.UID()
}

// Serialize copies the cached block into dst, releasing the scratch buffer
// on first use.
func (sc *CsvoSerializedChunk) Serialize(dst *[]byte, _ uint8) CsvoResult {
	if sc.buffer != nil {
		*dst = append(*dst, (*sc.buffer)...)
		sc.pool.Release(sc.buffer)
		sc.buffer = nil
	}
	return sc.result
}

// SerializeChunkOctreeCsvo encodes a chunk's block octree into a CSVO chunk
// block. For lod > 0 the tree is cut off after lod layers, substituting the
// first reachable material for collapsed subtrees; the block's depth byte
// reflects the reduced depth so the traversal can tolerate LOD changes at
// chunk boundaries.
func SerializeChunkOctreeCsvo(tree *voxel.Octree[voxel.BlockID], dst *[]byte, lod uint8) CsvoResult {
	if tree.Root() == voxel.NilOctant {
		return CsvoResult{}
	}

	depth := tree.Depth()
	if lod > 0 && lod < depth {
		depth = lod
	}
	if depth < 2 {
		depth = 2
	}

	var materials []byte
	nodes, mask := serializeCsvoOctant(tree, tree.Root(), depth, &materials)
	if nodes == nil {
		return CsvoResult{}
	}

	start := len(*dst)
	*dst = append(*dst, depth)
	*dst = append(*dst, 0, 0, 0, 0)
	*dst = append(*dst, nodes...)
	binary.LittleEndian.PutUint32((*dst)[start+1:], uint32(len(*dst)-start))
	*dst = append(*dst, materials...)

	return CsvoResult{ChildMask: mask, Depth: depth}
}

// serializeCsvoOctant encodes one octant and its subtree. level counts the
// remaining layers: level 2 octants become pre-leaf nodes whose children are
// material-section records. Returns nil bytes for fully empty subtrees.
func serializeCsvoOctant(tree *voxel.Octree[voxel.BlockID], id voxel.OctantID, level uint8, materials *[]byte) ([]byte, uint8) {
	if level == 2 {
		return serializeCsvoPreLeaf(tree, id, materials)
	}

	var children [8][]byte
	var mask uint8
	for idx := uint8(0); idx < 8; idx++ {
		c, ok := tree.Child(id, idx)
		if !ok {
			continue
		}
		if c.IsLeaf {
			panic("csvo: leaves must sit at the bottom two layers")
		}
		enc, childMask := serializeCsvoOctant(tree, c.Octant, level-1, materials)
		if childMask == 0 {
			continue
		}
		children[idx] = enc
		mask |= 1 << idx
	}
	if mask == 0 {
		return nil, 0
	}

	return packCsvoNode(children), mask
}

// serializeCsvoPreLeaf encodes the two bottom layers: a child-mask byte and
// one material-section offset; the node's leaf records land in the chunk's
// material section.
func serializeCsvoPreLeaf(tree *voxel.Octree[voxel.BlockID], id voxel.OctantID, materials *[]byte) ([]byte, uint8) {
	var records []byte
	var mask uint8

	for idx := uint8(0); idx < 8; idx++ {
		c, ok := tree.Child(id, idx)
		if !ok {
			continue
		}

		var record [csvoLeafRecordLength]byte
		if c.IsLeaf {
			// a leaf above the voxel layer fills its whole octant
			record[0] = 0xff
			for i := 1; i < csvoLeafRecordLength; i++ {
				record[i] = uint8(c.Leaf)
			}
		} else {
			for vi := uint8(0); vi < 8; vi++ {
				vc, vok := tree.Child(c.Octant, vi)
				if !vok {
					continue
				}
				leaf := vc.Leaf
				if !vc.IsLeaf {
					leaf, vok = pickLeafForLod(tree, vc.Octant)
					if !vok {
						continue
					}
				}
				record[0] |= 1 << vi
				record[1+vi] = uint8(leaf)
			}
			if record[0] == 0 {
				continue
			}
		}

		mask |= 1 << idx
		records = append(records, record[:]...)
	}
	if mask == 0 {
		return nil, 0
	}

	offset := len(*materials)
	if offset > 0xffff {
		panic("csvo: material section exceeds 64k")
	}
	*materials = append(*materials, records...)

	node := make([]byte, 3)
	node[0] = mask
	binary.LittleEndian.PutUint16(node[1:], uint16(offset))
	return node, mask
}

// packCsvoNode assembles an interior node from its encoded children. The
// pointer widths and the forward offsets depend on each other, so the node
// size is iterated to a fixpoint starting from the smallest classes.
func packCsvoNode(children [8][]byte) []byte {
	classes := [8]uint8{}
	for {
		nodeSize := 2
		for i := 0; i < 8; i++ {
			nodeSize += classSize(classes[i])
		}

		changed := false
		offset := nodeSize
		for i := 0; i < 8; i++ {
			if children[i] == nil {
				continue
			}
			need := classForOffset(uint32(offset))
			if need > classes[i] {
				classes[i] = need
				changed = true
			}
			offset += len(children[i])
		}
		if !changed {
			break
		}
	}

	nodeSize := 2
	for i := 0; i < 8; i++ {
		nodeSize += classSize(classes[i])
	}

	var header uint16
	for i := 0; i < 8; i++ {
		header |= uint16(classes[i]) << (2 * uint(i))
	}

	node := make([]byte, 2, nodeSize)
	binary.LittleEndian.PutUint16(node, header)

	offset := nodeSize
	for i := 0; i < 8; i++ {
		if children[i] == nil {
			if classes[i] != 0 {
				panic("csvo: pointer class for absent child")
			}
			continue
		}
		node = appendCsvoPointer(node, classes[i], uint32(offset))
		offset += len(children[i])
	}

	for i := 0; i < 8; i++ {
		node = append(node, children[i]...)
	}
	return node
}

func classSize(class uint8) int {
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

func classForOffset(offset uint32) uint8 {
	switch {
	case offset <= 0xff:
		return 1
	case offset <= 0xffff:
		return 2
	default:
		return 3
	}
}

func appendCsvoPointer(node []byte, class uint8, value uint32) []byte {
	switch class {
	case 1:
		return append(node, uint8(value))
	case 2:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(value))
		return append(node, b[:]...)
	default:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], value)
		return append(node, b[:]...)
	}
}

type csvoLeafInfo struct {
	bufOffset int
	result    CsvoResult
}

// Csvo is the byte-addressed counterpart of Esvo: an octree of serializable
// chunk blocks linked by absolute pointers from a relative-pointer world
// octree.
type Csvo[T ByteSerializable] struct {
	octree    *voxel.Octree[T]
	changeSet map[octantChange]struct{}

	buffer   *RangeBuffer[uint8]
	leafInfo map[uint64]csvoLeafInfo
	rootInfo *csvoLeafInfo

	tmp []byte
}

// NewCsvo creates an empty CSVO with a growable buffer.
func NewCsvo[T ByteSerializable]() *Csvo[T] {
	return &Csvo[T]{
		octree:    voxel.NewOctree[T](),
		changeSet: make(map[octantChange]struct{}),
		buffer:    NewRangeBuffer[uint8](0),
		leafInfo:  make(map[uint64]csvoLeafInfo),
	}
}

// Clear drops all data but keeps the allocated memory.
func (s *Csvo[T]) Clear() {
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

// SetLeaf places the leaf at the given position. See Esvo.SetLeaf.
func (s *Csvo[T]) SetLeaf(pos voxel.Position, leaf T, serialize bool) (voxel.LeafID, T, bool) {
	uid := leaf.UniqueID()
	leafID, prev, replaced := s.octree.SetLeaf(pos, leaf)

	if _, known := s.leafInfo[uid]; serialize || !known {
		s.changeSet[octantChange{kind: changeAdd, id: uid, leaf: leafID}] = struct{}{}
	}

	return leafID, prev, replaced
}

// MoveLeaf moves a leaf to a new position without re-serializing its block.
func (s *Csvo[T]) MoveLeaf(id voxel.LeafID, toPos voxel.Position) (voxel.LeafID, T, bool) {
	return s.octree.MoveLeaf(id, toPos)
}

// RemoveLeaf removes the leaf and frees its serialized block.
func (s *Csvo[T]) RemoveLeaf(id voxel.LeafID) (T, bool) {
	value, ok := s.octree.RemoveLeafByID(id)
	if ok {
		s.changeSet[octantChange{kind: changeRemove, id: value.UniqueID()}] = struct{}{}
	}
	return value, ok
}

// GetLeaf reads the leaf at the given position.
func (s *Csvo[T]) GetLeaf(pos voxel.Position) (T, bool) {
	return s.octree.GetLeaf(pos)
}

// Serialize writes all changed chunk blocks and rebuilds the world octree.
func (s *Csvo[T]) Serialize() error {
	if s.octree.Root() == voxel.NilOctant {
		return nil
	}

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
				return fmt.Errorf("serializing chunk block %d: %w", c.id, err)
			}
			s.leafInfo[c.id] = csvoLeafInfo{bufOffset: offset, result: result}

		case changeRemove:
			s.buffer.Remove(c.id)
			delete(s.leafInfo, c.id)
		}
	}

	s.tmp = s.tmp[:0]
	result := s.serializeWorldOctant(s.octree.Root(), &s.tmp)
	offset, err := s.buffer.Insert(rootBlockID, s.tmp)
	if err != nil {
		return fmt.Errorf("serializing world octree: %w", err)
	}
	s.rootInfo = &csvoLeafInfo{bufOffset: offset, result: result}

	return nil
}

// serializeWorldOctant encodes one octant of the world octree. Child octants
// become relative forward pointers inside the block; chunk leaves become
// 4-byte absolute pointers into the buffer.
func (s *Csvo[T]) serializeWorldOctant(id voxel.OctantID, dst *[]byte) CsvoResult {
	var children [8][]byte
	var abs [8]uint32
	var mask uint8
	depth := uint8(0)

	for idx := uint8(0); idx < 8; idx++ {
		c, ok := s.octree.Child(id, idx)
		if !ok {
			continue
		}

		if c.IsLeaf {
			info, known := s.leafInfo[c.Leaf.UniqueID()]
			if !known {
				continue
			}
			abs[idx] = CsvoAbsPtrBit | uint32(info.bufOffset+CsvoPreambleLength)
			mask |= 1 << idx
			depth = max8(depth, info.result.Depth+1)
			continue
		}

		var sub []byte
		subResult := s.serializeWorldOctant(c.Octant, &sub)
		if subResult.Depth == 0 {
			continue
		}
		children[idx] = sub
		mask |= 1 << idx
		depth = max8(depth, subResult.Depth+1)
	}

	if mask == 0 {
		return CsvoResult{}
	}

	*dst = append(*dst, packCsvoWorldNode(children, abs)...)
	return CsvoResult{ChildMask: mask, Depth: depth}
}

// packCsvoWorldNode is packCsvoNode extended with absolute chunk pointers,
// which are always 4 bytes wide.
func packCsvoWorldNode(children [8][]byte, abs [8]uint32) []byte {
	classes := [8]uint8{}
	for i := 0; i < 8; i++ {
		if abs[i] != 0 {
			classes[i] = 3
		}
	}

	for {
		nodeSize := 2
		for i := 0; i < 8; i++ {
			nodeSize += classSize(classes[i])
		}

		changed := false
		offset := nodeSize
		for i := 0; i < 8; i++ {
			if children[i] == nil {
				continue
			}
			need := classForOffset(uint32(offset))
			if need > classes[i] {
				classes[i] = need
				changed = true
			}
			offset += len(children[i])
		}
		if !changed {
			break
		}
	}

	nodeSize := 2
	for i := 0; i < 8; i++ {
		nodeSize += classSize(classes[i])
	}

	var header uint16
	for i := 0; i < 8; i++ {
		header |= uint16(classes[i]) << (2 * uint(i))
	}

	node := make([]byte, 2, nodeSize)
	binary.LittleEndian.PutUint16(node, header)

	offset := nodeSize
	for i := 0; i < 8; i++ {
		switch {
		case abs[i] != 0:
			node = appendCsvoPointer(node, 3, abs[i])
		case children[i] != nil:
			node = appendCsvoPointer(node, classes[i], uint32(offset))
			offset += len(children[i])
		}
	}

	for i := 0; i < 8; i++ {
		node = append(node, children[i]...)
	}
	return node
}

// Depth returns the depth of the serialized CSVO.
func (s *Csvo[T]) Depth() uint8 {
	if s.rootInfo == nil {
		return 0
	}
	return s.rootInfo.result.Depth
}

// SizeInBytes returns the size of the serialized buffer.
func (s *Csvo[T]) SizeInBytes() int {
	return s.buffer.SizeInBytes()
}

// WriteTo copies the preamble and the whole serialized buffer into dst and
// returns the number of bytes written.
func (s *Csvo[T]) WriteTo(dst []byte) int {
	if s.rootInfo == nil {
		return 0
	}

	s.writePreamble(dst)
	n := copy(dst[CsvoPreambleLength:], s.buffer.Data())
	return CsvoPreambleLength + n
}

// WriteChangesTo copies only the ranges updated since the last reset. See
// Esvo.WriteChangesTo.
func (s *Csvo[T]) WriteChangesTo(dst []byte, reset bool) {
	if s.rootInfo == nil {
		return
	}
	if len(s.buffer.UpdatedRanges()) == 0 {
		return
	}

	data := s.buffer.Data()
	for _, r := range s.buffer.UpdatedRanges() {
		if CsvoPreambleLength+r.Start+r.Length > len(dst) {
			panic(fmt.Sprintf("svo: dst is not large enough: len=%d range_start=%d range_length=%d",
				len(dst), r.Start, r.Length))
		}
		copy(dst[CsvoPreambleLength+r.Start:], data[r.Start:r.Start+r.Length])
	}
	s.writePreamble(dst)

	if reset {
		s.buffer.ResetUpdatedRanges()
	}
}

// writePreamble writes the pseudo node pointing at the world octree's root.
func (s *Csvo[T]) writePreamble(dst []byte) {
	binary.LittleEndian.PutUint16(dst, 3) // child 0, 4-byte pointer
	binary.LittleEndian.PutUint32(dst[2:], CsvoAbsPtrBit|uint32(s.rootInfo.bufOffset+CsvoPreambleLength))
}
