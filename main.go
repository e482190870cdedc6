package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/lumen/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	// Flags shared by all commands that set up a render session.
	sessionFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "width",
			Value: 512,
			Usage: "frame width",
		},
		cli.IntFlag{
			Name:  "height",
			Value: 512,
			Usage: "frame height",
		},
		cli.IntFlag{
			Name:  "spp",
			Value: 1,
			Usage: "samples per pixel accumulated by each step",
		},
		cli.IntFlag{
			Name:  "gpus",
			Usage: "number of (simulated) gpu devices to render on",
		},
		cli.StringFlag{
			Name:  "denoiser",
			Usage: "denoiser to apply: none, bilateral, lwr or eaw",
		},
	}

	outputFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "out, o",
			Value: "frame.png",
			Usage: "image filename (.png or .tiff) for the rendered frame",
		},
		cli.Float64Flag{
			Name:  "exposure",
			Value: 1.0,
			Usage: "exposure multiplier applied before quantization",
		},
	}

	app := cli.NewApp()
	app.Name = "lumen"
	app.Usage = "progressive multi-aov rendering with denoising filter graphs"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "list-devices",
			Usage:     "list available render and denoise devices",
			ArgsUsage: "[config_file]",
			Flags:     sessionFlags,
			Action:    cmd.ListDevices,
		},
		{
			Name:  "render",
			Usage: "render a still frame",
			Description: `
Render the scene until the configured time or iteration limit is reached and
write the selected AOV to an image file. Settings are read from an optional
TOML or YAML configuration file; command line flags override file values.`,
			ArgsUsage: "[config_file]",
			Flags: append(append(append([]cli.Flag{}, sessionFlags...), outputFlags...),
				cli.IntFlag{
					Name:  "iterations",
					Usage: "stop after this many iterations",
				},
				cli.DurationFlag{
					Name:  "time-limit",
					Usage: "stop after this much time",
				},
				cli.StringFlag{
					Name:  "aov",
					Usage: "aov or render pass name to export (defaults to the displayed aov)",
				},
			),
			Action: cmd.RenderFrame,
		},
		{
			Name:  "watch",
			Usage: "render interactively while following configuration changes",
			Description: `
Start an interactive session and reload the configuration file whenever it
changes. Each change restarts accumulation; the displayed AOV is written to
the output file whenever a render completes.`,
			ArgsUsage: "config_file",
			Flags:     append(append([]cli.Flag{}, sessionFlags...), outputFlags...),
			Action:    cmd.WatchSession,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
