package engine

import (
	"testing"
	"time"

	"github.com/tim-oster/voxel-go/voxel"
)

func drain(t *testing.T, p *ChunkProcessor[int]) []ChunkResult[int] {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var out []ChunkResult[int]
	for p.HasPending() {
		out = append(out, p.Results(100)...)
		if time.Now().After(deadline) {
			t.Fatalf("timed out draining processor")
		}
		time.Sleep(time.Millisecond)
	}
	return append(out, p.Results(100)...)
}

// Jobs complete on workers and surface exactly once through Results.
func TestChunkProcessorRunsJobs(t *testing.T) {
	p := NewChunkProcessor[int](2, 16)
	defer p.Stop()

	for i := 0; i < 8; i++ {
		pos := voxel.NewChunkPos(int32(i), 0, 0)
		i := i
		p.Enqueue(pos, func() int { return i * i })
	}

	results := drain(t, p)
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Value != int(r.Pos.X*r.Pos.X) {
			t.Fatalf("result mismatch for %+v: %d", r.Pos, r.Value)
		}
	}
}

// A dequeued chunk's job never surfaces.
func TestChunkProcessorDequeue(t *testing.T) {
	p := NewChunkProcessor[int](1, 16)
	defer p.Stop()

	block := make(chan struct{})
	p.Enqueue(voxel.NewChunkPos(0, 0, 0), func() int { <-block; return 1 })
	p.Enqueue(voxel.NewChunkPos(1, 0, 0), func() int { return 2 })

	p.Dequeue(voxel.NewChunkPos(1, 0, 0))
	close(block)

	results := drain(t, p)
	if len(results) != 1 || results[0].Pos != voxel.NewChunkPos(0, 0, 0) {
		t.Fatalf("expected only the first chunk's result, got %+v", results)
	}
}

// Re-enqueueing a chunk replaces its pending job: only the newest result
// surfaces.
func TestChunkProcessorReplacesPendingJob(t *testing.T) {
	p := NewChunkProcessor[int](1, 16)
	defer p.Stop()

	block := make(chan struct{})
	// occupy the single worker so the next jobs stay queued
	p.Enqueue(voxel.NewChunkPos(9, 9, 9), func() int { <-block; return 0 })

	pos := voxel.NewChunkPos(0, 0, 0)
	p.Enqueue(pos, func() int { return 1 })
	p.Enqueue(pos, func() int { return 2 })
	close(block)

	results := drain(t, p)
	got := map[voxel.ChunkPos]int{}
	for _, r := range results {
		got[r.Pos] = r.Value
	}
	if got[pos] != 2 {
		t.Fatalf("expected the replacing job's value, got %+v", results)
	}
}
