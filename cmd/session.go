package cmd

import (
	"fmt"

	rsoftware "github.com/achilleasa/lumen/backend/software"
	"github.com/achilleasa/lumen/config"
	"github.com/achilleasa/lumen/denoise"
	"github.com/achilleasa/lumen/denoise/filter"
	fsoftware "github.com/achilleasa/lumen/denoise/software"
	"github.com/achilleasa/lumen/renderer"
	"github.com/urfave/cli"
)

// A render session: the renderer context, the filter provider and the
// scene renderer driving them.
type session struct {
	cfg      config.Config
	rctx     *rsoftware.Context
	provider *fsoftware.Provider
	renderer *renderer.SceneRenderer
}

// Load the configuration file passed as the first argument (if any) and
// apply command line overrides.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if ctx.NArg() > 0 {
		var err error
		if cfg, err = config.Load(ctx.Args().First()); err != nil {
			return cfg, err
		}
	}

	if ctx.IsSet("width") {
		cfg.Resolution.Width = uint32(ctx.Int("width"))
	}
	if ctx.IsSet("height") {
		cfg.Resolution.Height = uint32(ctx.Int("height"))
	}
	if ctx.IsSet("spp") {
		cfg.Samples = uint32(ctx.Int("spp"))
	}
	if ctx.IsSet("iterations") {
		cfg.Limit = config.LimitConfig{Type: "iterations", Iterations: uint32(ctx.Int("iterations"))}
	}
	if ctx.IsSet("time-limit") {
		cfg.Limit = config.LimitConfig{Type: "time", Time: ctx.Duration("time-limit").String()}
	}
	if ctx.IsSet("gpus") {
		cfg.Device.GPUs = ctx.Int("gpus")
	}
	if ctx.IsSet("denoiser") {
		name := ctx.String("denoiser")
		if name == "none" {
			cfg.Denoiser.Enable = false
		} else {
			kind, err := denoise.ParseKind(name)
			if err != nil {
				return cfg, err
			}
			cfg.Denoiser.Enable = true
			cfg.Denoiser.Kind = kind
		}
	}

	return cfg, cfg.Validate()
}

// Filter context kinds the reference provider exposes for a device
// configuration.
func filterKinds(cfg config.Config) []filter.ContextKind {
	kinds := []filter.ContextKind{filter.CPU}
	if cfg.Device.GPUs > 0 {
		kinds = append(kinds, filter.OpenCL)
	}
	if cfg.Device.Metal {
		kinds = append(kinds, filter.Metal)
	}
	return kinds
}

func newSession(cfg config.Config) (*session, error) {
	rctx, err := rsoftware.New(rsoftware.Options{Flags: cfg.CreationFlags()})
	if err != nil {
		return nil, err
	}

	opts, err := cfg.RendererOptions()
	if err != nil {
		rctx.Close()
		return nil, err
	}

	provider := fsoftware.NewProvider(fsoftware.Options{Kinds: filterKinds(cfg)})
	r, err := renderer.New(rctx, provider, opts)
	if err != nil {
		rctx.Close()
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	r.UpdateRegion(cfg.Region)

	logger.Noticef("rendering %s on %d device(s) (flags 0x%x)", cfg.Resolution, rctx.DeviceCount(), uint32(cfg.CreationFlags()))
	return &session{
		cfg:      cfg,
		rctx:     rctx,
		provider: provider,
		renderer: r,
	}, nil
}

func (s *session) Close() {
	s.renderer.Close()
	s.rctx.Close()
}
