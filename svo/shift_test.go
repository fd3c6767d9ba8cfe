package svo

import (
	"testing"

	"github.com/tim-oster/voxel-go/types"
	"github.com/tim-oster/voxel-go/voxel"
)

// Chunk shifting in positive x direction must slide all leaves one slot and
// drop the chunk that falls off the back.
func TestShiftChunksXPositive(t *testing.T) {
	leafIDs := make(map[voxel.ChunkPos]voxel.LeafID)
	store := NewEsvo[testLeaf]()

	c0, _, _ := store.SetLeaf(voxel.Position{0, 1, 1}, 1, true)
	leafIDs[voxel.NewChunkPos(-1, 0, 0)] = c0
	c1, _, _ := store.SetLeaf(voxel.Position{1, 1, 1}, 2, true)
	leafIDs[voxel.NewChunkPos(0, 0, 0)] = c1
	c2, _, _ := store.SetLeaf(voxel.Position{2, 1, 1}, 3, true)
	leafIDs[voxel.NewChunkPos(1, 0, 0)] = c2

	// camera moves one chunk in +x
	cs := NewCoordSpace(voxel.NewChunkPos(1, 0, 0), 1)
	ShiftChunks[testLeaf](cs, leafIDs, store)

	if len(leafIDs) != 2 {
		t.Fatalf("expected 2 surviving chunks, got %d", len(leafIDs))
	}
	if _, ok := leafIDs[voxel.NewChunkPos(-1, 0, 0)]; ok {
		t.Fatalf("chunk at x=-1 must be dropped")
	}

	if v, ok := store.GetLeaf(voxel.Position{0, 1, 1}); !ok || v != 2 {
		t.Fatalf("expected chunk 2 at slot x=0, got %d (ok=%v)", v, ok)
	}
	if v, ok := store.GetLeaf(voxel.Position{1, 1, 1}); !ok || v != 3 {
		t.Fatalf("expected chunk 3 at slot x=1, got %d (ok=%v)", v, ok)
	}
	if _, ok := store.GetLeaf(voxel.Position{2, 1, 1}); ok {
		t.Fatalf("slot x=2 must be empty pending generation")
	}
}

// Shifting against the slot ring must behave symmetrically in -x.
func TestShiftChunksXNegative(t *testing.T) {
	leafIDs := make(map[voxel.ChunkPos]voxel.LeafID)
	store := NewEsvo[testLeaf]()

	for i, x := range []int32{-1, 0, 1} {
		id, _, _ := store.SetLeaf(voxel.Position{uint32(i), 1, 1}, testLeaf(i+1), true)
		leafIDs[voxel.NewChunkPos(x, 0, 0)] = id
	}

	cs := NewCoordSpace(voxel.NewChunkPos(-1, 0, 0), 1)
	ShiftChunks[testLeaf](cs, leafIDs, store)

	if _, ok := leafIDs[voxel.NewChunkPos(1, 0, 0)]; ok {
		t.Fatalf("chunk at x=1 must be dropped")
	}
	if v, ok := store.GetLeaf(voxel.Position{1, 1, 1}); !ok || v != 1 {
		t.Fatalf("expected chunk 1 at slot x=1, got %d (ok=%v)", v, ok)
	}
	if v, ok := store.GetLeaf(voxel.Position{2, 1, 1}); !ok || v != 2 {
		t.Fatalf("expected chunk 2 at slot x=2, got %d (ok=%v)", v, ok)
	}
}

// After a shift by delta, every surviving slot must hold the chunk that was
// at slot+delta before the shift.
func TestShiftChunksProperty(t *testing.T) {
	const dst = 4

	leafIDs := make(map[voxel.ChunkPos]voxel.LeafID)
	store := NewEsvo[testLeaf]()

	preShift := make(map[voxel.Position]testLeaf)
	cs := NewCoordSpace(voxel.NewChunkPos(0, 0, 0), dst)
	next := testLeaf(1)
	for x := int32(-2); x <= 2; x++ {
		for y := int32(-2); y <= 2; y++ {
			for z := int32(-2); z <= 2; z++ {
				pos := voxel.NewChunkPos(x, y, z)
				slot, inside := cs.CnvChunkPos(pos)
				if !inside {
					continue
				}
				id, _, _ := store.SetLeaf(slot, next, true)
				leafIDs[pos] = id
				preShift[slot] = next
				next++
			}
		}
	}

	shifted := NewCoordSpace(voxel.NewChunkPos(1, 0, 0), dst)
	ShiftChunks[testLeaf](shifted, leafIDs, store)

	for slot, want := range preShift {
		// the chunk that was at slot now sits one slot lower in x
		newSlot := voxel.Position{X: slot.X - 1, Y: slot.Y, Z: slot.Z}
		if _, inside := shifted.CnvChunkPos(voxel.NewChunkPos(int32(slot.X)-dst, int32(slot.Y)-dst, int32(slot.Z)-dst)); !inside {
			continue
		}
		got, ok := store.GetLeaf(newSlot)
		if !ok || got != want {
			t.Fatalf("slot %+v: expected chunk %d, got %d (ok=%v)", newSlot, want, got, ok)
		}
	}
}

// Block position conversion must round-trip through SVO space, for positive
// and negative world coordinates.
func TestCoordSpaceBlockPos(t *testing.T) {
	cs := NewCoordSpace(voxel.NewChunkPos(4, 5, 12), 2)

	worldPos := types.XYZ(32*5+16.25, 32*3+4.25, 32*10+20.5)
	svoPos := cs.CnvBlockPos(worldPos)
	if svoPos != types.XYZ(32*3+16.25, 4.25, 20.5) {
		t.Fatalf("unexpected svo pos: %v", svoPos)
	}
	if back := cs.CnvSvoPos(svoPos); back != worldPos {
		t.Fatalf("round trip failed: %v != %v", back, worldPos)
	}

	neg := NewCoordSpace(voxel.NewChunkPos(-1, -1, -1), 2)
	worldPos = types.XYZ(-16.25, -4.25, -20.5)
	svoPos = neg.CnvBlockPos(worldPos)
	if svoPos != types.XYZ(32*2+15.75, 32*2+27.75, 32*2+11.5) {
		t.Fatalf("unexpected negative svo pos: %v", svoPos)
	}
	if back := neg.CnvSvoPos(svoPos); back != worldPos {
		t.Fatalf("negative round trip failed: %v != %v", back, worldPos)
	}
}

// Chunk position conversion covers the center, the ring and out-of-range
// cases, including the radial x/z check.
func TestCoordSpaceChunkPos(t *testing.T) {
	cs := NewCoordSpace(voxel.NewChunkPos(0, 0, 0), 1)

	cases := []struct {
		pos    voxel.ChunkPos
		want   voxel.Position
		inside bool
	}{
		{voxel.NewChunkPos(-1, 0, 0), voxel.Position{0, 1, 1}, true},
		{voxel.NewChunkPos(0, 0, 0), voxel.Position{1, 1, 1}, true},
		{voxel.NewChunkPos(1, 0, 0), voxel.Position{2, 1, 1}, true},
		{voxel.NewChunkPos(-2, 0, 0), voxel.Position{}, false},
		{voxel.NewChunkPos(2, 0, 0), voxel.Position{}, false},
		{voxel.NewChunkPos(1, 0, 1), voxel.Position{}, false},
	}
	for _, c := range cases {
		got, inside := cs.CnvChunkPos(c.pos)
		if inside != c.inside || (inside && got != c.want) {
			t.Fatalf("%+v: got %+v/%v, want %+v/%v", c.pos, got, inside, c.want, c.inside)
		}
	}
}
