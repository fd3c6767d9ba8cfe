package cmd

import (
	"time"

	"github.com/tim-oster/voxel-go/config"
	"github.com/tim-oster/voxel-go/engine"
	"github.com/tim-oster/voxel-go/voxel"
)

// demoGenerator fills chunks with a solid floor and a centered sphere, just
// enough structure to give the tracer something interesting without pulling
// a full terrain generator into the core.
var demoGenerator = engine.GeneratorFunc(func(chunk *voxel.Chunk) {
	if chunk.Pos.Y != 0 {
		return
	}
	for z := uint32(0); z < voxel.ChunkSize; z++ {
		for x := uint32(0); x < voxel.ChunkSize; x++ {
			chunk.SetBlock(x, 0, z, 1)
		}
	}

	if chunk.Pos.X == 0 && chunk.Pos.Z == 0 {
		const r = 8
		for z := uint32(0); z < voxel.ChunkSize; z++ {
			for y := uint32(0); y < voxel.ChunkSize; y++ {
				for x := uint32(0); x < voxel.ChunkSize; x++ {
					dx, dy, dz := int(x)-16, int(y)-16, int(z)-16
					if dx*dx+dy*dy+dz*dz <= r*r {
						chunk.SetBlock(x, y, z, 2)
					}
				}
			}
		}
	}
})

// buildDemoWorld generates chunks around the origin, pushes them through
// the serialization pipeline and returns the fully written buffer together
// with the world svo.
func buildDemoWorld(cfg *config.Config, radius int32) (*engine.WorldSvo, []uint32) {
	start := time.Now()

	alloc := voxel.NewStorageAllocator()
	world := voxel.NewWorld()
	svoWorld := engine.NewWorldSvo(cfg.World.RenderDistance, cfg.World.Workers, cfg.Buffer.CapacityWords, nil)

	count := 0
	for x := -radius; x <= radius; x++ {
		for y := -radius; y <= radius; y++ {
			for z := -radius; z <= radius; z++ {
				chunk := voxel.NewChunk(voxel.NewChunkPos(x, y, z), 0, alloc.Allocate())
				world.SetChunk(chunk)

				borrowed := world.Borrow(chunk.Pos)
				demoGenerator.GenerateChunk(borrowed.Chunk)
				svoWorld.SetChunk(borrowed)
				count++
			}
		}
	}

	for svoWorld.HasPendingJobs() {
		for _, chunk := range svoWorld.Update(voxel.NewChunkPos(0, 0, 0)) {
			chunk.Return()
		}
		time.Sleep(time.Millisecond)
	}
	for _, chunk := range svoWorld.Update(voxel.NewChunkPos(0, 0, 0)) {
		chunk.Return()
	}

	buf := make([]uint32, svoWorld.SizeInWords())
	svoWorld.WriteTo(buf)

	logger.Noticef("generated and serialized %d chunks in %d ms (%d words)",
		count, time.Since(start).Nanoseconds()/1e6, len(buf))
	return svoWorld, buf
}
