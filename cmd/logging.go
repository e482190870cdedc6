package cmd

import (
	"github.com/achilleasa/lumen/log"
	"github.com/urfave/cli"
)

var logger = log.New("lumen")

// Apply the configured log level; the global -v/-vv flags take precedence.
func setupLogging(ctx *cli.Context, configured string) {
	if level, err := log.ParseLevel(configured); err == nil {
		log.SetLevel(level)
	}

	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
