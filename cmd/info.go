package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/tim-oster/voxel-go/config"
	"github.com/urfave/cli"
)

// Info builds the demo world and prints buffer and pipeline statistics.
func Info(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	world, buf := buildDemoWorld(cfg, 1)
	defer world.Stop()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Property", "Value"})
	table.Append([]string{"world depth", fmt.Sprintf("%d", world.Depth())})
	table.Append([]string{"octree scale", fmt.Sprintf("%g", world.OctreeScale())})
	table.Append([]string{"buffer words", fmt.Sprintf("%d", len(buf))})
	table.Append([]string{"buffer bytes", fmt.Sprintf("%d", len(buf)*4)})
	table.Append([]string{"render distance", fmt.Sprintf("%d chunks", world.RenderDistance())})
	table.Render()

	return nil
}
