package main

import (
	"os"

	"github.com/tim-oster/voxel-go/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "voxel-go"
	app.Usage = "sparse voxel octree engine"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "engine configuration file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "trace",
			Usage: "cast a single ray through a generated world",
			Description: `
Generate a small demo world, serialize it into the SVO buffer format and
cast one ray with the CPU reference tracer, printing the intersection
record the GPU program has to reproduce.`,
			Flags: []cli.Flag{
				cli.Float64Flag{Name: "x", Value: -8, Usage: "ray origin x (block units)"},
				cli.Float64Flag{Name: "y", Value: 16, Usage: "ray origin y (block units)"},
				cli.Float64Flag{Name: "z", Value: 16, Usage: "ray origin z (block units)"},
				cli.Float64Flag{Name: "dx", Value: 1, Usage: "ray direction x"},
				cli.Float64Flag{Name: "dy", Value: 0, Usage: "ray direction y"},
				cli.Float64Flag{Name: "dz", Value: 0, Usage: "ray direction z"},
				cli.Float64Flag{Name: "max-dst", Value: 256, Usage: "maximum ray distance in blocks"},
				cli.BoolFlag{Name: "translucent", Usage: "pass through translucent texels"},
			},
			Action: cmd.Trace,
		},
		{
			Name:   "info",
			Usage:  "print buffer statistics for a generated world",
			Action: cmd.Info,
		},
		{
			Name:  "bench",
			Usage: "measure reference tracer throughput",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "rays", Value: 10000, Usage: "number of rays to cast"},
			},
			Action: cmd.Bench,
		},
	}

	app.Run(os.Args)
}
