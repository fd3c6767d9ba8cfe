package svo

import (
	"github.com/tim-oster/voxel-go/types"
	"github.com/tim-oster/voxel-go/voxel"
)

// The SVO can only grow in the positive direction of each axis, so an
// unbounded world cannot be addressed directly. Instead the camera's chunk
// is kept in the center slot of the world octree and all chunk pointers are
// rotated in the opposite direction whenever the camera crosses into a
// neighboring chunk. Chunk contents are never copied during a shift; only
// one pointer per occupied slot moves.

// CoordSpace maps world chunk positions into SVO space. Center is the chunk
// the camera currently occupies, Dst the render distance in chunks.
type CoordSpace struct {
	Center voxel.ChunkPos
	Dst    uint32
}

func NewCoordSpace(center voxel.ChunkPos, dst uint32) CoordSpace {
	return CoordSpace{Center: center, Dst: dst}
}

// CnvBlockPos converts a position from world space to SVO space.
func (cs CoordSpace) CnvBlockPos(pos types.Vec3) types.Vec3 {
	chunk, local := splitBlockPos(pos)
	delta := chunk.Sub(cs.Center)

	rd := int32(cs.Dst)
	return joinBlockPos(voxel.NewChunkPos(rd+delta.X, rd+delta.Y, rd+delta.Z), local)
}

// CnvSvoPos converts a position from SVO space back to world space.
func (cs CoordSpace) CnvSvoPos(pos types.Vec3) types.Vec3 {
	chunk, local := splitBlockPos(pos)

	rd := int32(cs.Dst)
	delta := chunk.Sub(voxel.NewChunkPos(rd, rd, rd))
	return joinBlockPos(voxel.NewChunkPos(cs.Center.X+delta.X, cs.Center.Y+delta.Y, cs.Center.Z+delta.Z), local)
}

// CnvChunkPos converts a world chunk position to its slot in SVO space, if
// it falls inside the coordinate space. The y axis is height based and uses
// the full radius in both directions; x and z are checked radially.
func (cs CoordSpace) CnvChunkPos(pos voxel.ChunkPos) (voxel.Position, bool) {
	r := float32(cs.Dst)

	delta := pos.Sub(cs.Center)
	rd := int32(cs.Dst)
	sx := rd + delta.X
	sy := rd + delta.Y
	sz := rd + delta.Z

	dcy := float32(sy) - r
	if dcy < -r || dcy > r {
		return voxel.Position{}, false
	}

	dcx := float32(sx) - r
	dcz := float32(sz) - r
	if dcx*dcx+dcz*dcz > r*r {
		return voxel.Position{}, false
	}

	return voxel.Position{X: uint32(sx), Y: uint32(sy), Z: uint32(sz)}, true
}

func splitBlockPos(pos types.Vec3) (voxel.ChunkPos, types.Vec3) {
	chunk := voxel.ChunkPosFromBlock(floorInt32(pos[0]), floorInt32(pos[1]), floorInt32(pos[2]))
	local := types.XYZ(
		pos[0]-float32(chunk.X*voxel.ChunkSize),
		pos[1]-float32(chunk.Y*voxel.ChunkSize),
		pos[2]-float32(chunk.Z*voxel.ChunkSize),
	)
	return chunk, local
}

func joinBlockPos(chunk voxel.ChunkPos, local types.Vec3) types.Vec3 {
	return types.XYZ(
		float32(chunk.X*voxel.ChunkSize)+local[0],
		float32(chunk.Y*voxel.ChunkSize)+local[1],
		float32(chunk.Z*voxel.ChunkSize)+local[2],
	)
}

func floorInt32(v float32) int32 {
	i := int32(v)
	if float32(i) > v {
		i--
	}
	return i
}

// LeafStore is the subset of the Esvo/Csvo API the shifter needs.
type LeafStore[T any] interface {
	SetLeaf(pos voxel.Position, leaf T, serialize bool) (voxel.LeafID, T, bool)
	MoveLeaf(id voxel.LeafID, toPos voxel.Position) (voxel.LeafID, T, bool)
	RemoveLeaf(id voxel.LeafID) (T, bool)
}

// ShiftChunks moves every chunk leaf to its slot under the given coordinate
// space. Leaves whose new slot falls outside the space are removed from the
// octree; their entry disappears from leafIDs. Chains of moves forward
// overridden leaves so that their already serialized blocks survive without
// re-serialization.
func ShiftChunks[T any](cs CoordSpace, leafIDs map[voxel.ChunkPos]voxel.LeafID, store LeafStore[T]) {
	overridden := make(map[voxel.LeafID]T)
	removed := make(map[voxel.ChunkPos]bool)

	for chunkPos, leafID := range leafIDs {
		newPos, inside := cs.CnvChunkPos(chunkPos)
		if !inside {
			// drop the leaf unless another move already replaced it
			if _, wasOverridden := overridden[leafID]; !wasOverridden {
				store.RemoveLeaf(leafID)
			}
			delete(overridden, leafID)
			removed[chunkPos] = true
			continue
		}

		var newID voxel.LeafID
		var old T
		var hadOld bool
		if value, wasOverridden := overridden[leafID]; wasOverridden {
			// the leaf was displaced by an earlier move; its block is
			// still serialized, so skip re-serialization
			delete(overridden, leafID)
			newID, old, hadOld = store.SetLeaf(newPos, value, false)
		} else {
			newID, old, hadOld = store.MoveLeaf(leafID, newPos)
		}

		leafIDs[chunkPos] = newID
		if hadOld {
			overridden[newID] = old
		}
	}

	for pos := range removed {
		delete(leafIDs, pos)
	}
}
