package cmd

import (
	"bytes"
	"fmt"

	rsoftware "github.com/achilleasa/lumen/backend/software"
	fsoftware "github.com/achilleasa/lumen/denoise/software"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List the render and denoise devices available for the configured device
// flags.
func ListDevices(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	setupLogging(ctx, cfg.LogLevel)

	rctx, err := rsoftware.New(rsoftware.Options{Flags: cfg.CreationFlags()})
	if err != nil {
		return err
	}
	defer rctx.Close()

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Device", "Type", "Speed"})

	for idx, dev := range rctx.Devices() {
		table.Append([]string{
			fmt.Sprintf("[%02d] %s", idx, dev.Name),
			"render",
			fmt.Sprintf("%3.1f", dev.Speed),
		})
	}

	provider := fsoftware.NewProvider(fsoftware.Options{Kinds: filterKinds(cfg)})
	for idx, dev := range provider.Devices() {
		table.Append([]string{
			fmt.Sprintf("[%02d] %s", idx, dev.Name),
			fmt.Sprintf("denoise (%s)", dev.Kind),
			"-",
		})
	}

	table.Render()
	logger.Noticef("system provides the following device(s):\n%s", buf.String())
	return nil
}
