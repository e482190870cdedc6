package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/renderer"
	"github.com/achilleasa/lumen/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Render a still frame until the configured limit is reached and write it
// to disk.
func RenderFrame(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	setupLogging(ctx, cfg.LogLevel)

	if limits, _ := cfg.Limits(); limits.Type == loop.NoLimit {
		return errors.New("rendering a still frame requires a time or iteration limit")
	}

	target, err := exportedAOV(ctx, cfg.AOV.DisplayedAOV())
	if err != nil {
		return err
	}
	if target != aov.Color && !hasPass(cfg.AOV, target) {
		cfg.AOV.Enable = true
		cfg.AOV.Passes = append(cfg.AOV.Passes, target)
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Notice("rendering frame")
	start := time.Now()
	if err = s.renderer.StartNoninteractive(); err != nil {
		return err
	}
	s.renderer.Wait()
	if err = s.renderer.Err(); err != nil {
		return err
	}
	logger.Noticef("rendered frame in %d ms", time.Since(start).Nanoseconds()/1000000)

	imgFile := ctx.String("out")
	if err = exportFrame(s.renderer, target, cfg.Resolution, imgFile, float32(ctx.Float64("exposure"))); err != nil {
		return err
	}

	displayFrameStats(s.renderer.Stats())
	return nil
}

func exportedAOV(ctx *cli.Context, fallback aov.AOV) (aov.AOV, error) {
	name := ctx.String("aov")
	if name == "" {
		return fallback, nil
	}
	if a, ok := aov.FromPass(name); ok {
		return a, nil
	}
	if a := aov.AOV(name); a.Valid() {
		return a, nil
	}
	return "", fmt.Errorf("unknown aov %q", name)
}

func hasPass(settings aov.Settings, a aov.AOV) bool {
	for _, pass := range settings.Passes {
		if pass == a {
			return true
		}
	}
	return false
}

func exportFrame(r *renderer.SceneRenderer, a aov.AOV, res types.Resolution, path string, exposure float32) error {
	pix := r.GetImage(a)
	if pix == nil {
		return fmt.Errorf("%w: %s", renderer.ErrNoImage, a)
	}
	img, err := toImage(pix, res, exposure)
	if err != nil {
		return err
	}

	start := time.Now()
	if err = writeImage(path, img); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	logger.Noticef("wrote %s to %s in %d ms", a, path, time.Since(start).Nanoseconds()/1000000)
	return nil
}

func displayFrameStats(stats renderer.RenderStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Statistic", "Value"})
	table.AppendBulk([][]string{
		{"Devices", fmt.Sprintf("%d", stats.Devices)},
		{"Iterations", fmt.Sprintf("%d", stats.Iterations)},
		{"Iteration budget", fmt.Sprintf("%d", stats.UsedIterations)},
		{"Samples per step", fmt.Sprintf("%d", stats.SamplesPerStep)},
		{"Failed steps", fmt.Sprintf("%d", stats.FailedSteps)},
		{"Last step", stats.LastStep.String()},
		{"Color supplier", stats.Supplier.String()},
	})
	if stats.Denoiser.Active {
		table.AppendBulk([][]string{
			{"Denoiser", fmt.Sprintf("%s (%s context)", stats.Denoiser.Kind, stats.Denoiser.Context)},
			{"Denoiser runs", fmt.Sprintf("%d", stats.Denoiser.Runs)},
		})
	}
	table.SetFooter([]string{"Render time", stats.RenderTime.String()})

	table.Render()
	logger.Noticef("frame statistics\n%s", buf.String())
}
