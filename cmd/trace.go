package cmd

import (
	"fmt"
	"time"

	"github.com/tim-oster/voxel-go/config"
	"github.com/tim-oster/voxel-go/trace"
	"github.com/tim-oster/voxel-go/types"
	"github.com/urfave/cli"
)

// Trace builds the demo world and casts a single ray through it, printing
// the intersection record.
func Trace(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	world, buf := buildDemoWorld(cfg, 1)
	defer world.Stop()

	origin := types.XYZ(
		float32(ctx.Float64("x")),
		float32(ctx.Float64("y")),
		float32(ctx.Float64("z")),
	)
	dir := types.XYZ(
		float32(ctx.Float64("dx")),
		float32(ctx.Float64("dy")),
		float32(ctx.Float64("dz")),
	).Normalize()

	rt := trace.NewRaytracer(nil, nil, trace.Options{MaxSteps: cfg.Tracer.MaxSteps})
	in := trace.Input{
		MaxDst:          float32(ctx.Float64("max-dst")),
		CastTranslucent: ctx.Bool("translucent"),
		Pos:             world.CoordSpace().CnvBlockPos(origin),
		Dir:             dir,
	}

	start := time.Now()
	res := rt.CastEsvo(buf, in)
	elapsed := time.Since(start)

	if res.T < 0 {
		fmt.Printf("miss (inside_voxel=%v) in %s\n", res.InsideVoxel, elapsed)
		return nil
	}

	hit := world.CoordSpace().CnvSvoPos(res.Pos)
	fmt.Printf("hit value=%d face=%d t=%.4f pos=(%.4f, %.4f, %.4f) uv=(%.4f, %.4f) inside_voxel=%v in %s\n",
		res.Value, res.FaceID, res.T, hit[0], hit[1], hit[2], res.UV[0], res.UV[1], res.InsideVoxel, elapsed)
	return nil
}

// Bench casts a bundle of rays against the demo world and reports the
// throughput of the reference tracer.
func Bench(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	world, buf := buildDemoWorld(cfg, 1)
	defer world.Stop()

	rays := ctx.Int("rays")
	rt := trace.NewRaytracer(nil, nil, trace.Options{MaxSteps: cfg.Tracer.MaxSteps})

	hits := 0
	start := time.Now()
	for i := 0; i < rays; i++ {
		f := float32(i) / float32(rays)
		in := trace.Input{
			MaxDst: 256,
			Pos:    world.CoordSpace().CnvBlockPos(types.XYZ(-16+64*f, 18, -16+64*(1-f))),
			Dir:    types.XYZ(0.3-f*0.6, -1, 0.3-(1-f)*0.6).Normalize(),
		}
		if res := rt.CastEsvo(buf, in); res.T >= 0 {
			hits++
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("%d rays, %d hits, %.2f us/ray\n", rays, hits, float64(elapsed.Microseconds())/float64(rays))
	return nil
}
