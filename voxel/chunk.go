package voxel

import (
	"sync"
	"sync/atomic"
)

// BlockID identifies a voxel material. The engine treats it as opaque; 0 is
// reserved for empty space.
type BlockID uint32

// NoBlock marks empty space.
const NoBlock BlockID = 0

// ChunkSize is the edge length of one chunk in voxels.
const ChunkSize = 32

// ChunkDepth is the octree depth covering one chunk.
const ChunkDepth = 5

// ChunkPos is the position of a chunk in chunk coordinates.
type ChunkPos struct {
	X, Y, Z int32
}

func NewChunkPos(x, y, z int32) ChunkPos {
	return ChunkPos{X: x, Y: y, Z: z}
}

// ChunkPosFromBlock returns the chunk containing the given block coordinate.
func ChunkPosFromBlock(x, y, z int32) ChunkPos {
	return ChunkPos{X: x >> 5, Y: y >> 5, Z: z >> 5}
}

func (p ChunkPos) Sub(o ChunkPos) ChunkPos {
	return ChunkPos{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// UID packs the chunk position into a stable unique id used to track the
// chunk's serialized block inside the SVO buffer.
func (p ChunkPos) UID() uint64 {
	const mask = 0x1fffff // 21 bits per axis
	return uint64(uint32(p.X))&mask | (uint64(uint32(p.Y))&mask)<<21 | (uint64(uint32(p.Z))&mask)<<42
}

// Chunk is one cube of the world covering ChunkSize^3 voxels. Its content is
// stored as an octree so sparse chunks stay cheap and serialization can walk
// the structure directly.
type Chunk struct {
	Pos ChunkPos

	// Lod is the level of detail the chunk serializes at. 0 means full
	// detail; n > 0 limits the serialized tree to n layers.
	Lod uint8

	storage *Octree[BlockID]
}

// NewChunk creates a chunk at the given position using storage taken from the
// given allocator.
func NewChunk(pos ChunkPos, lod uint8, storage *Octree[BlockID]) *Chunk {
	return &Chunk{Pos: pos, Lod: lod, storage: storage}
}

// GetBlock returns the block at the given chunk-local coordinate.
func (c *Chunk) GetBlock(x, y, z uint32) BlockID {
	v, ok := c.storage.GetLeaf(Position{x, y, z})
	if !ok {
		return NoBlock
	}
	return v
}

// SetBlock places the given block at the given chunk-local coordinate.
// Setting NoBlock removes the voxel and releases emptied subtrees.
func (c *Chunk) SetBlock(x, y, z uint32, block BlockID) {
	if x >= ChunkSize || y >= ChunkSize || z >= ChunkSize {
		panic("chunk: block coordinate out of range")
	}
	if block == NoBlock {
		c.storage.RemoveLeaf(Position{x, y, z})
		return
	}
	c.storage.ExpandTo(ChunkDepth)
	c.storage.SetLeaf(Position{x, y, z}, block)
}

// Storage exposes the chunk's octree to the serializers.
func (c *Chunk) Storage() *Octree[BlockID] {
	return c.storage
}

// Compact drops dead branches from the chunk's storage. Serializers assume
// compacted storage so empty subtrees do not inflate the output.
func (c *Chunk) Compact() {
	c.storage.Compact()
}

// StorageAllocator pools chunk storage octrees so that arenas are reused
// across chunk loads instead of being reallocated per chunk.
type StorageAllocator struct {
	pool      sync.Pool
	allocated atomic.Int64
	used      atomic.Int64
}

func NewStorageAllocator() *StorageAllocator {
	a := &StorageAllocator{}
	a.pool.New = func() interface{} {
		a.allocated.Add(1)
		tree := NewOctree[BlockID]()
		tree.ExpandTo(ChunkDepth)
		return tree
	}
	return a
}

// Allocate returns a reset storage octree, reusing a pooled one if available.
func (a *StorageAllocator) Allocate() *Octree[BlockID] {
	a.used.Add(1)
	return a.pool.Get().(*Octree[BlockID])
}

// Release resets the octree and returns it to the pool.
func (a *StorageAllocator) Release(tree *Octree[BlockID]) {
	tree.Reset()
	tree.ExpandTo(ChunkDepth)
	a.used.Add(-1)
	a.pool.Put(tree)
}

// AllocatedCount returns how many storage octrees were ever constructed.
func (a *StorageAllocator) AllocatedCount() int {
	return int(a.allocated.Load())
}

// UsedCount returns how many storage octrees are currently checked out.
func (a *StorageAllocator) UsedCount() int {
	return int(a.used.Load())
}
