package engine

import (
	"sync/atomic"

	"github.com/tim-oster/voxel-go/log"
)

// Sink receives engine telemetry counters. Implementations must be safe for
// concurrent use.
type Sink interface {
	// CountChunkSerialized is emitted once per chunk serialization job.
	CountChunkSerialized()
	// CountOutOfSpace is emitted when a serialized chunk could not be
	// placed into the SVO buffer and was deferred to the next frame.
	CountOutOfSpace()
	// CountShiftedChunks is emitted with the number of occupied slots a
	// world shift touched.
	CountShiftedChunks(n int)
	// QueueDepth is emitted with the current number of pending jobs.
	QueueDepth(n int)
}

// Stats is the default sink: plain counters with a logging hook for
// out-of-space events.
type Stats struct {
	ChunksSerialized atomic.Int64
	OutOfSpace       atomic.Int64
	ShiftedChunks    atomic.Int64
	LastQueueDepth   atomic.Int64

	logger log.Logger
}

func NewStats() *Stats {
	return &Stats{logger: log.New("engine")}
}

func (s *Stats) CountChunkSerialized() {
	s.ChunksSerialized.Add(1)
}

func (s *Stats) CountOutOfSpace() {
	s.OutOfSpace.Add(1)
	s.logger.Warning("svo buffer out of space, deferring chunk to next frame")
}

func (s *Stats) CountShiftedChunks(n int) {
	s.ShiftedChunks.Add(int64(n))
}

func (s *Stats) QueueDepth(n int) {
	s.LastQueueDepth.Store(int64(n))
}
