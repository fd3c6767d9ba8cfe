package voxel

// World owns all currently loaded chunks and tracks which of them changed
// since the last drain. Chunks can be borrowed by workers; a borrowed chunk
// is removed from the map and invisible until it is returned.
type World struct {
	chunks   map[ChunkPos]*Chunk
	borrowed map[ChunkPos]bool
	// removed marks borrowed chunks whose removal was requested while they
	// were checked out; their return must not rejoin them
	removed    map[ChunkPos]bool
	changedSet map[ChunkPos]bool
	changed    []ChunkPos
}

func NewWorld() *World {
	return &World{
		chunks:     make(map[ChunkPos]*Chunk),
		borrowed:   make(map[ChunkPos]bool),
		removed:    make(map[ChunkPos]bool),
		changedSet: make(map[ChunkPos]bool),
	}
}

func (w *World) markChunkAsChanged(pos ChunkPos) {
	if !w.changedSet[pos] {
		w.changedSet[pos] = true
		w.changed = append(w.changed, pos)
	}
}

// SetChunk adds or replaces a chunk and marks it as changed.
func (w *World) SetChunk(chunk *Chunk) {
	w.chunks[chunk.Pos] = chunk
	w.markChunkAsChanged(chunk.Pos)
}

// RemoveChunk drops a chunk from the world and marks its slot as changed.
// If the chunk is currently borrowed, it is flagged for removal and stays
// gone when the borrow returns; nil is returned in that case.
func (w *World) RemoveChunk(pos ChunkPos) *Chunk {
	if w.borrowed[pos] {
		w.removed[pos] = true
		w.markChunkAsChanged(pos)
		return nil
	}
	chunk := w.chunks[pos]
	delete(w.chunks, pos)
	w.markChunkAsChanged(pos)
	return chunk
}

// GetChunk returns the chunk at the given position, or nil if it is not
// loaded or currently borrowed.
func (w *World) GetChunk(pos ChunkPos) *Chunk {
	return w.chunks[pos]
}

// ChunkCount returns the number of resident (non-borrowed) chunks.
func (w *World) ChunkCount() int {
	return len(w.chunks)
}

// GetBlock reads a block at a world coordinate. Missing chunks read as empty.
func (w *World) GetBlock(x, y, z int32) BlockID {
	chunk := w.chunks[ChunkPosFromBlock(x, y, z)]
	if chunk == nil {
		return NoBlock
	}
	return chunk.GetBlock(uint32(x&31), uint32(y&31), uint32(z&31))
}

// SetBlock writes a block at a world coordinate and marks the containing
// chunk as changed. Returns false if the chunk is not loaded.
func (w *World) SetBlock(x, y, z int32, block BlockID) bool {
	pos := ChunkPosFromBlock(x, y, z)
	chunk := w.chunks[pos]
	if chunk == nil {
		return false
	}
	chunk.SetBlock(uint32(x&31), uint32(y&31), uint32(z&31), block)
	w.markChunkAsChanged(pos)
	return true
}

// GetChangedChunks drains up to limit changed chunk positions in FIFO order.
func (w *World) GetChangedChunks(limit int) []ChunkPos {
	n := limit
	if n > len(w.changed) {
		n = len(w.changed)
	}
	drained := make([]ChunkPos, n)
	copy(drained, w.changed[:n])
	w.changed = w.changed[n:]
	for _, pos := range drained {
		delete(w.changedSet, pos)
	}
	return drained
}

// BorrowedChunk holds the exclusive ownership of a chunk that was taken out
// of the world for background work. While it exists, the world does not see
// the chunk.
type BorrowedChunk struct {
	*Chunk
	world *World
}

// Borrow transfers exclusive ownership of the chunk at pos to the caller.
// Borrowing a chunk twice is a contract violation and panics; borrowing an
// unloaded chunk returns nil.
func (w *World) Borrow(pos ChunkPos) *BorrowedChunk {
	if w.borrowed[pos] {
		panic("world: chunk is already borrowed")
	}
	chunk := w.chunks[pos]
	if chunk == nil {
		return nil
	}
	delete(w.chunks, pos)
	w.borrowed[pos] = true
	return &BorrowedChunk{Chunk: chunk, world: w}
}

// Return rejoins the borrowed chunk with the world. A cancelled borrow calls
// this with the chunk untouched; the world treats both the same. A chunk
// that was removed while borrowed is dropped instead of rejoining.
func (bc *BorrowedChunk) Return() {
	if bc.world == nil {
		return
	}
	delete(bc.world.borrowed, bc.Pos)
	if bc.world.removed[bc.Pos] {
		delete(bc.world.removed, bc.Pos)
		bc.world = nil
		return
	}
	bc.world.chunks[bc.Pos] = bc.Chunk
	bc.world = nil
}
