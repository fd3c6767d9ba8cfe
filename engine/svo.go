package engine

import (
	"errors"
	"math"

	"github.com/tim-oster/voxel-go/log"
	"github.com/tim-oster/voxel-go/svo"
	"github.com/tim-oster/voxel-go/voxel"
)

// WorldSvo owns the serialized world: it serializes chunks in the
// background, attaches the resulting blocks to the world octree, rotates
// chunk slots when the camera crosses a chunk boundary and uploads changed
// buffer ranges. All methods must be called from the single owner
// goroutine; only the serialization jobs run on workers.
type WorldSvo struct {
	logger log.Logger

	processor *ChunkProcessor[*svo.SerializedChunk]
	world     *svo.Esvo[*svo.SerializedChunk]
	pool      *svo.BufferPool[uint32]

	leafIDs    map[voxel.ChunkPos]voxel.LeafID
	hasChanged bool
	coordSpace svo.CoordSpace

	sink Sink
}

// NewWorldSvo creates a world SVO with the given render distance (in
// chunks) and worker count. bufferLimit > 0 makes the serialized buffer
// fixed-size in words; chunks that do not fit are deferred.
func NewWorldSvo(renderDistance uint32, workerCount, bufferLimit int, sink Sink) *WorldSvo {
	var world *svo.Esvo[*svo.SerializedChunk]
	if bufferLimit > 0 {
		world = svo.NewFixedEsvo[*svo.SerializedChunk](bufferLimit)
	} else {
		world = svo.NewEsvo[*svo.SerializedChunk]()
	}
	if sink == nil {
		sink = NewStats()
	}

	return &WorldSvo{
		logger:     log.New("worldsvo"),
		processor:  NewChunkProcessor[*svo.SerializedChunk](workerCount, 4096),
		world:      world,
		pool:       svo.NewBufferPool[uint32](),
		leafIDs:    make(map[voxel.ChunkPos]voxel.LeafID),
		coordSpace: svo.NewCoordSpace(voxel.NewChunkPos(0, 0, 0), renderDistance),
		sink:       sink,
	}
}

// SetChunk enqueues the borrowed chunk for serialization. The chunk's
// ownership travels with the job and is reclaimed through Update.
func (s *WorldSvo) SetChunk(chunk *voxel.BorrowedChunk) {
	pool := s.pool
	sink := s.sink
	s.processor.Enqueue(chunk.Pos, func() *svo.SerializedChunk {
		chunk.Compact()
		sink.CountChunkSerialized()
		return svo.NewSerializedChunk(chunk, pool)
	})
	s.sink.QueueDepth(s.processor.PendingCount())
}

// RemoveChunk drops the chunk from the world octree and cancels any
// serialization still in flight for it.
func (s *WorldSvo) RemoveChunk(pos voxel.ChunkPos) {
	s.processor.Dequeue(pos)

	if id, ok := s.leafIDs[pos]; ok {
		delete(s.leafIDs, pos)
		s.world.RemoveLeaf(id)
		s.hasChanged = true
	}
}

// HasPendingJobs reports whether chunk serializations are still in flight.
func (s *WorldSvo) HasPendingJobs() bool {
	return s.processor.HasPending()
}

// RenderDistance returns the current render distance in chunks.
func (s *WorldSvo) RenderDistance() uint32 {
	return s.coordSpace.Dst
}

// SetRenderDistance resizes the coordinate space and re-shifts all chunks.
func (s *WorldSvo) SetRenderDistance(radius uint32) {
	s.coordSpace.Dst = radius
	s.onCoordSpaceChange()
}

// CoordSpace returns the current world-to-SVO mapping, e.g. for
// transforming ray origins before casting.
func (s *WorldSvo) CoordSpace() svo.CoordSpace {
	return s.coordSpace
}

// Update recenters the world on the given chunk, attaches finished chunk
// serializations and re-serializes the world octree if anything changed.
// It returns the borrowed chunk ownerships reclaimed from finished jobs.
func (s *WorldSvo) Update(worldCenter voxel.ChunkPos) []*voxel.BorrowedChunk {
	if s.coordSpace.Center != worldCenter {
		s.coordSpace.Center = worldCenter
		s.onCoordSpaceChange()
	}

	results := s.processor.Results(400)
	s.sink.QueueDepth(s.processor.PendingCount())
	chunks := s.attachSerializedChunks(results)

	if !s.hasChanged {
		return chunks
	}

	if err := s.world.Serialize(); err != nil {
		if errors.Is(err, svo.ErrOutOfSpace) {
			// the failed chunks stay queued inside the svo; retry next
			// frame after ranges were freed
			s.sink.CountOutOfSpace()
			return chunks
		}
		s.logger.Errorf("world serialization failed: %v", err)
		return chunks
	}
	s.hasChanged = false

	return chunks
}

func (s *WorldSvo) onCoordSpaceChange() {
	s.hasChanged = true
	s.sink.CountShiftedChunks(len(s.leafIDs))
	svo.ShiftChunks[*svo.SerializedChunk](s.coordSpace, s.leafIDs, s.world)
}

func (s *WorldSvo) attachSerializedChunks(results []ChunkResult[*svo.SerializedChunk]) []*voxel.BorrowedChunk {
	var chunks []*voxel.BorrowedChunk

	for _, result := range results {
		if bc := result.Value.TakeBorrowedChunk(); bc != nil {
			chunks = append(chunks, bc)
		}

		slot, inside := s.coordSpace.CnvChunkPos(result.Pos)
		if !inside {
			continue
		}

		id, _, _ := s.world.SetLeaf(slot, result.Value, true)
		s.leafIDs[result.Pos] = id
		s.hasChanged = true
	}

	return chunks
}

// Depth returns the serialized world depth.
func (s *WorldSvo) Depth() uint8 {
	return s.world.Depth()
}

// OctreeScale returns the voxel edge length in normalized [0,1) space,
// i.e. the value of the buffer's scale word.
func (s *WorldSvo) OctreeScale() float32 {
	return float32(math.Exp2(float64(-int(s.world.Depth()))))
}

// SizeInWords returns the serialized buffer size including scale word and
// preamble.
func (s *WorldSvo) SizeInWords() int {
	return 1 + svo.PreambleLength + s.world.SizeInBytes()/4
}

// WriteTo writes the full buffer: scale word, preamble and all blocks.
func (s *WorldSvo) WriteTo(dst []uint32) int {
	dst[0] = math.Float32bits(s.OctreeScale())
	return 1 + s.world.WriteTo(dst[1:])
}

// WriteChangesTo applies only the ranges changed since the last write. The
// scale word and root pointer are single aligned word writes, so a GPU
// reading the buffer concurrently sees either the old or the new world,
// never a torn pointer.
func (s *WorldSvo) WriteChangesTo(dst []uint32) {
	dst[0] = math.Float32bits(s.OctreeScale())
	s.world.WriteChangesTo(dst[1:], true)
}

// Stop terminates the background workers.
func (s *WorldSvo) Stop() {
	s.processor.Stop()
}
