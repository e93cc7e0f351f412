package main

import (
	"log"
	"os"

	"github.com/breez/bcli/build"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "bcli"
	app.Version = build.Version()
	app.Usage = "Core Lightning bitcoin backend plugin talking to bitcoind"
	app.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:   "disable-method",
			EnvVar: "BCLI_DISABLE_METHODS",
			Usage:  "Do not register this backend method with lightningd. Can be repeated.",
		},
	}
	app.Action = runPlugin
	app.Commands = []cli.Command{
		checkCommand,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
