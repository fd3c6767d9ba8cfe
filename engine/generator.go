package engine

import "github.com/tim-oster/voxel-go/voxel"

// Generator produces chunk content. Terrain generation lives outside the
// core; implementations must be pure functions of seed and position so
// workers can share them without synchronization.
type Generator interface {
	// GenerateChunk fills the given chunk with content.
	GenerateChunk(chunk *voxel.Chunk)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(chunk *voxel.Chunk)

func (f GeneratorFunc) GenerateChunk(chunk *voxel.Chunk) {
	f(chunk)
}
