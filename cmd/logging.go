package cmd

import (
	"github.com/tim-oster/voxel-go/log"
	"github.com/urfave/cli"
)

var logger = log.New("voxel-go")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
