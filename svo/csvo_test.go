package svo

import (
	"encoding/binary"
	"testing"

	"github.com/tim-oster/voxel-go/voxel"
)

// A minimal chunk with one voxel must serialize into the documented block
// layout: depth byte, material section offset, packed nodes, one record.
func TestSerializeChunkOctreeCsvoSingleVoxel(t *testing.T) {
	tree := voxel.NewOctree[voxel.BlockID]()
	tree.SetLeaf(voxel.Position{0, 0, 0}, 7)
	tree.ExpandTo(voxel.ChunkDepth)

	var buf []byte
	result := SerializeChunkOctreeCsvo(tree, &buf, 0)

	if result.Depth != voxel.ChunkDepth {
		t.Fatalf("expected depth %d, got %d", voxel.ChunkDepth, result.Depth)
	}
	if result.ChildMask != 1 {
		t.Fatalf("expected child mask 1, got %08b", result.ChildMask)
	}

	if buf[0] != voxel.ChunkDepth {
		t.Fatalf("expected depth byte %d, got %d", voxel.ChunkDepth, buf[0])
	}

	matOffset := binary.LittleEndian.Uint32(buf[1:])
	if int(matOffset) != len(buf)-csvoLeafRecordLength {
		t.Fatalf("material section offset %d does not point at the single record (len=%d)", matOffset, len(buf))
	}

	// walk: levels 5 and 4 are interior nodes with a single 1-byte pointer
	node := buf[5:]
	for level := 0; level < 2; level++ {
		header := binary.LittleEndian.Uint16(node)
		if header != 1 {
			t.Fatalf("level %d: expected header 0x0001 (child 0, 1-byte pointer), got %04x", level, header)
		}
		ptr := int(node[2])
		if ptr != 3 {
			t.Fatalf("level %d: expected forward pointer 3, got %d", level, ptr)
		}
		node = node[ptr:]
	}

	// level 3 is the last interior node before the pre-leaf
	header := binary.LittleEndian.Uint16(node)
	if header != 1 {
		t.Fatalf("pre-leaf parent: unexpected header %04x", header)
	}
	node = node[int(node[2]):]

	// pre-leaf: mask byte + material offset
	if node[0] != 1 {
		t.Fatalf("pre-leaf: expected child mask 1, got %08b", node[0])
	}
	if off := binary.LittleEndian.Uint16(node[1:]); off != 0 {
		t.Fatalf("pre-leaf: expected record offset 0, got %d", off)
	}

	// material record: occupancy bit 0 plus the material id
	record := buf[matOffset:]
	if record[0] != 1 {
		t.Fatalf("record: expected occupancy 00000001, got %08b", record[0])
	}
	if record[1] != 7 {
		t.Fatalf("record: expected material 7, got %d", record[1])
	}
}

// An empty chunk octree must serialize to nothing.
func TestSerializeChunkOctreeCsvoEmpty(t *testing.T) {
	tree := voxel.NewOctree[voxel.BlockID]()
	tree.ExpandTo(voxel.ChunkDepth)

	var buf []byte
	result := SerializeChunkOctreeCsvo(tree, &buf, 0)
	if result.Depth != 0 || len(buf) != 0 {
		t.Fatalf("expected empty result, got %+v with %d bytes", result, len(buf))
	}
}

// The world container must link chunk blocks through absolute pointers and
// rewrite only the world octree when chunks move.
func TestCsvoSerializeChunkLeaf(t *testing.T) {
	pool := NewBufferPool[uint8]()

	tree := voxel.NewOctree[voxel.BlockID]()
	tree.SetLeaf(voxel.Position{0, 0, 0}, 9)
	tree.ExpandTo(voxel.ChunkDepth)

	chunk := voxel.NewChunk(voxel.NewChunkPos(0, 0, 0), 0, tree)
	world := voxel.NewWorld()
	world.SetChunk(chunk)
	sc := NewCsvoSerializedChunk(world.Borrow(chunk.Pos), pool)

	s := NewCsvo[*CsvoSerializedChunk]()
	s.SetLeaf(voxel.Position{0, 0, 0}, sc, true)
	if err := s.Serialize(); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	if s.Depth() != voxel.ChunkDepth+1 {
		t.Fatalf("expected depth %d, got %d", voxel.ChunkDepth+1, s.Depth())
	}

	out := make([]byte, s.SizeInBytes()+CsvoPreambleLength)
	n := s.WriteTo(out)
	if n != len(out) {
		t.Fatalf("unexpected write size %d, want %d", n, len(out))
	}

	// preamble: pseudo node with a single absolute 4-byte pointer
	if header := binary.LittleEndian.Uint16(out); header != 3 {
		t.Fatalf("preamble header %04x, want 0003", header)
	}
	rootPtr := binary.LittleEndian.Uint32(out[2:])
	if rootPtr&CsvoAbsPtrBit == 0 {
		t.Fatalf("root pointer must be absolute")
	}

	// the world root node holds one absolute chunk pointer
	root := out[rootPtr&^CsvoAbsPtrBit:]
	if header := binary.LittleEndian.Uint16(root); header != 3 {
		t.Fatalf("world root header %04x, want 0003", header)
	}
	chunkPtr := binary.LittleEndian.Uint32(root[2:])
	if chunkPtr&CsvoAbsPtrBit == 0 {
		t.Fatalf("chunk pointer must be absolute")
	}
	block := out[chunkPtr&^CsvoAbsPtrBit:]
	if block[0] != voxel.ChunkDepth {
		t.Fatalf("chunk block depth byte %d, want %d", block[0], voxel.ChunkDepth)
	}

	// the chunk's scratch buffer was handed back to the pool
	if pool.UsedCount() != 0 {
		t.Fatalf("expected scratch buffer release, %d still in use", pool.UsedCount())
	}
}
