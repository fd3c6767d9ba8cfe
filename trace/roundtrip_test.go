package trace_test

import (
	"testing"

	"github.com/tim-oster/voxel-go/svo"
	"github.com/tim-oster/voxel-go/trace"
	"github.com/tim-oster/voxel-go/voxel"
)

// fillChunk writes v = (x+y+z)%8+1 into every voxel of the chunk.
func fillChunk(c *voxel.Chunk) {
	for z := uint32(0); z < voxel.ChunkSize; z++ {
		for y := uint32(0); y < voxel.ChunkSize; y++ {
			for x := uint32(0); x < voxel.ChunkSize; x++ {
				c.SetBlock(x, y, z, voxel.BlockID((x+y+z)%8+1))
			}
		}
	}
}

// Deserializing an ESVO buffer must reproduce every voxel of the source
// octree, across a dense and a sparse chunk.
func TestEsvoSerializationRoundTrip(t *testing.T) {
	builders := map[string]func(*voxel.Chunk){
		"dense": fillChunk,
		"sparse": func(c *voxel.Chunk) {
			c.SetBlock(0, 0, 0, 1)
			c.SetBlock(31, 31, 31, 2)
			c.SetBlock(13, 7, 22, 3)
		},
	}

	for name, build := range builders {
		buf := buildEsvoWorld(t, voxel.Position{0, 0, 0}, build)
		region := buf[1:]

		reference := voxel.NewOctree[voxel.BlockID]()
		probe := voxel.NewChunk(voxel.NewChunkPos(0, 0, 0), 0, reference)
		build(probe)

		depth := uint8(voxel.ChunkDepth + 1) // one world octree layer above the chunk
		for z := uint32(0); z < voxel.ChunkSize; z++ {
			for y := uint32(0); y < voxel.ChunkSize; y++ {
				for x := uint32(0); x < voxel.ChunkSize; x++ {
					want := probe.GetBlock(x, y, z)
					got, ok := trace.ReadEsvoVoxel(region, depth, x, y, z)
					if (want == voxel.NoBlock) == ok || (ok && got != uint32(want)) {
						t.Fatalf("%s: voxel (%d,%d,%d): got %d/%v, want %d", name, x, y, z, got, ok, want)
					}
				}
			}
		}
	}
}

// The CSVO round trip must agree with the source octree as well.
func TestCsvoSerializationRoundTrip(t *testing.T) {
	build := func(c *voxel.Chunk) {
		c.SetBlock(0, 0, 0, 1)
		c.SetBlock(31, 31, 31, 2)
		c.SetBlock(13, 7, 22, 3)
		c.SetBlock(13, 7, 23, 9)
	}

	buf := buildCsvoWorld(t, voxel.Position{0, 0, 0}, build)
	region := buf[4:]

	reference := voxel.NewOctree[voxel.BlockID]()
	probe := voxel.NewChunk(voxel.NewChunkPos(0, 0, 0), 0, reference)
	build(probe)

	depth := uint8(voxel.ChunkDepth + 1)
	for z := uint32(0); z < voxel.ChunkSize; z++ {
		for y := uint32(0); y < voxel.ChunkSize; y++ {
			for x := uint32(0); x < voxel.ChunkSize; x++ {
				want := probe.GetBlock(x, y, z)
				got, ok := trace.ReadCsvoVoxel(region, depth, x, y, z)
				if (want == voxel.NoBlock) == ok || (ok && got != uint32(want)) {
					t.Fatalf("voxel (%d,%d,%d): got %d/%v, want %d", x, y, z, got, ok, want)
				}
			}
		}
	}
}

// Building via the z-order constructor, serializing and reading back must
// agree with the generator function for every position.
func TestZOrderBuildSerializeReadBack(t *testing.T) {
	const side = voxel.ChunkSize

	data := make([]voxel.BlockID, side*side*side)
	for z := uint32(0); z < side; z++ {
		for y := uint32(0); y < side; y++ {
			for x := uint32(0); x < side; x++ {
				data[x+y*side+z*side*side] = voxel.BlockID((x+y+z)%8 + 1)
			}
		}
	}
	tree := voxel.BuildZOrder[voxel.BlockID](voxel.ChunkDepth, voxel.ZOrderFromDense[voxel.BlockID](side, data))

	pool := svo.NewBufferPool[uint32]()
	world := voxel.NewWorld()
	world.SetChunk(voxel.NewChunk(voxel.NewChunkPos(0, 0, 0), 0, tree))
	sc := svo.NewSerializedChunk(world.Borrow(voxel.NewChunkPos(0, 0, 0)), pool)

	s := svo.NewEsvo[*svo.SerializedChunk]()
	s.SetLeaf(voxel.Position{0, 0, 0}, sc, true)
	if err := s.Serialize(); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	region := make([]uint32, svo.PreambleLength+s.SizeInBytes()/4)
	s.WriteTo(region)

	depth := uint8(voxel.ChunkDepth + 1)
	for z := uint32(0); z < side; z++ {
		for y := uint32(0); y < side; y++ {
			for x := uint32(0); x < side; x++ {
				want := uint32((x+y+z)%8 + 1)
				got, ok := trace.ReadEsvoVoxel(region, depth, x, y, z)
				if !ok || got != want {
					t.Fatalf("voxel (%d,%d,%d): got %d/%v, want %d", x, y, z, got, ok, want)
				}
			}
		}
	}
}

// Editing a chunk and re-serializing must produce a fresh block, update the
// pointer and free the old range.
func TestEditReserializeFreesOldRange(t *testing.T) {
	alloc := voxel.NewStorageAllocator()
	pool := svo.NewBufferPool[uint32]()
	world := voxel.NewWorld()
	pos := voxel.NewChunkPos(0, 0, 0)

	serialize := func(s *svo.Esvo[*svo.SerializedChunk]) {
		sc := svo.NewSerializedChunk(world.Borrow(pos), pool)
		s.SetLeaf(voxel.Position{0, 0, 0}, sc, true)
		if err := s.Serialize(); err != nil {
			t.Fatalf("serialize: %v", err)
		}
		sc.TakeBorrowedChunk().Return()
	}

	chunk := voxel.NewChunk(pos, 0, alloc.Allocate())
	chunk.SetBlock(0, 0, 0, 5)
	world.SetChunk(chunk)

	s := svo.NewEsvo[*svo.SerializedChunk]()
	serialize(s)

	region := make([]uint32, svo.PreambleLength+s.SizeInBytes()/4)
	s.WriteTo(region)
	p1 := region[4]
	if v, ok := trace.ReadEsvoVoxel(region, voxel.ChunkDepth+1, 0, 0, 0); !ok || v != 5 {
		t.Fatalf("expected voxel 5 after first serialize, got %d/%v", v, ok)
	}

	// edit the chunk and serialize again
	world.SetBlock(7, 7, 7, 6)
	serialize(s)

	region = make([]uint32, svo.PreambleLength+s.SizeInBytes()/4)
	s.WriteTo(region)
	p2 := region[4]

	if v, ok := trace.ReadEsvoVoxel(region, voxel.ChunkDepth+1, 7, 7, 7); !ok || v != 6 {
		t.Fatalf("expected voxel 6 after edit, got %d/%v", v, ok)
	}
	if v, ok := trace.ReadEsvoVoxel(region, voxel.ChunkDepth+1, 0, 0, 0); !ok || v != 5 {
		t.Fatalf("expected voxel 5 to survive the edit, got %d/%v", v, ok)
	}
	if p1 == p2 {
		t.Fatalf("expected a fresh block pointer after re-serialization")
	}
}
