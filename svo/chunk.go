package svo

import (
	"sync"
	"sync/atomic"

	"github.com/tim-oster/voxel-go/voxel"
)

// BufferPool recycles serialization scratch buffers. Chunk sizes depend
// heavily on world content, so pooled buffers start at an average capacity
// and grow as needed instead of pre-allocating the worst case.
type BufferPool[T Word] struct {
	pool      sync.Pool
	allocated atomic.Int64
	used      atomic.Int64
}

const defaultBufferCapacity = 100_000

func NewBufferPool[T Word]() *BufferPool[T] {
	p := &BufferPool[T]{}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		buf := make([]T, 0, defaultBufferCapacity)
		return &buf
	}
	return p
}

// Allocate returns an empty buffer, reusing a pooled one if available.
func (p *BufferPool[T]) Allocate() *[]T {
	p.used.Add(1)
	return p.pool.Get().(*[]T)
}

// Release clears the buffer and returns it to the pool.
func (p *BufferPool[T]) Release(buf *[]T) {
	*buf = (*buf)[:0]
	p.used.Add(-1)
	p.pool.Put(buf)
}

// AllocatedCount returns how many buffers were ever constructed.
func (p *BufferPool[T]) AllocatedCount() int {
	return int(p.allocated.Load())
}

// UsedCount returns how many buffers are currently checked out.
func (p *BufferPool[T]) UsedCount() int {
	return int(p.used.Load())
}

// SerializedChunk wraps a borrowed chunk and serializes its storage octree
// into the ESVO word format on creation.
type SerializedChunk struct {
	Pos voxel.ChunkPos
	Lod uint8

	// Borrowed keeps the chunk's ownership until the engine hands it back
	// to the world.
	Borrowed *voxel.BorrowedChunk

	pool   *BufferPool[uint32]
	buffer *[]uint32
	result SerializationResult
}

// NewSerializedChunk serializes the borrowed chunk's octree using a scratch
// buffer from the given pool.
func NewSerializedChunk(chunk *voxel.BorrowedChunk, pool *BufferPool[uint32]) *SerializedChunk {
	sc := &SerializedChunk{
		Pos:      chunk.Pos,
		Lod:      chunk.Lod,
		Borrowed: chunk,
		pool:     pool,
	}

	buf := pool.Allocate()
	sc.result = SerializeChunkOctree(chunk.Storage(), buf, chunk.Lod)
	if sc.result.Depth > 0 {
		sc.buffer = buf
	} else {
		pool.Release(buf)
	}
	return sc
}

// TakeBorrowedChunk releases the chunk ownership back to the caller.
func (sc *SerializedChunk) TakeBorrowedChunk() *voxel.BorrowedChunk {
	bc := sc.Borrowed
	sc.Borrowed = nil
	return bc
}

// HasData reports whether the chunk serialized to anything.
func (sc *SerializedChunk) HasData() bool {
	return sc.buffer != nil
}

// UniqueID returns the chunk position's packed id.
func (sc *SerializedChunk) UniqueID() uint64 {
	return sc.Pos.UID()
}

// Serialize copies the cached serialization result into dst. The scratch
// buffer is released on first use: once the block lives in the SVO buffer it
// is indexed by an absolute pointer, and content changes build a new
// SerializedChunk anyway.
func (sc *SerializedChunk) Serialize(dst *[]uint32, _ uint8) SerializationResult {
	if sc.buffer != nil {
		*dst = append(*dst, (*sc.buffer)...)
		sc.pool.Release(sc.buffer)
		sc.buffer = nil
	}
	return sc.result
}

// SerializeChunkOctree encodes a chunk's block octree into the ESVO word
// format. Block ids are written verbatim into the pointer slots of their
// parent octant, marked by the leaf mask.
func SerializeChunkOctree(tree *voxel.Octree[voxel.BlockID], dst *[]uint32, lod uint8) SerializationResult {
	if tree.Root() == voxel.NilOctant {
		return SerializationResult{}
	}

	return serializeOctant(tree, tree.Root(), dst, lod, func(p encodeParams[voxel.BlockID]) {
		p.result.LeafMask |= 1 << p.idx
		p.dst[4+p.idx] = uint32(p.content)
		p.result.Depth = 1
	})
}
