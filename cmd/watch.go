package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achilleasa/lumen/config"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/types"
	"github.com/urfave/cli"
)

// Run an interactive session that follows the changes of a configuration
// file. The displayed AOV is written to disk whenever a render completes.
func WatchSession(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("missing configuration file argument")
	}
	path := ctx.Args().First()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	setupLogging(ctx, cfg.LogLevel)

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	reloads := make(chan config.Config, 1)
	watcher, err := config.Watch(path, func(next config.Config, err error) {
		if err != nil {
			return
		}
		// Only the latest reload matters
		select {
		case <-reloads:
		default:
		}
		reloads <- next
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err = s.renderer.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	imgFile := ctx.String("out")
	exposure := float32(ctx.Float64("exposure"))
	exported := false
	for {
		select {
		case <-signals:
			logger.Notice("shutting down")
			return nil
		case next := <-reloads:
			s.apply(next)
			exported = false
		case <-ticker.C:
			if err = s.renderer.Err(); err != nil {
				return err
			}
			if !s.renderer.IsRenderCompleted() {
				stats := s.renderer.Stats()
				logger.Infof("accumulated %d iteration(s) in %s", stats.Iterations, stats.Elapsed)
				continue
			}
			if exported {
				continue
			}
			exported = true
			if err := exportFrame(s.renderer, s.cfg.AOV.DisplayedAOV(), s.cfg.Resolution, imgFile, exposure); err != nil {
				logger.Warning(err.Error())
				continue
			}
			displayFrameStats(s.renderer.Stats())
		}
	}
}

// Forward the fields that differ from the active configuration to the
// renderer.
func (s *session) apply(next config.Config) {
	prev := s.cfg

	if next.Resolution != prev.Resolution {
		if err := s.renderer.UpdateResolution(next.Resolution.Width, next.Resolution.Height); err != nil {
			logger.Warningf("ignoring resolution: %v", err)
			next.Resolution = prev.Resolution
		}
	}
	if !types.RegionEqual(next.Region, prev.Region) {
		s.renderer.UpdateRegion(next.Region)
	}
	if !next.Camera.Equal(prev.Camera) {
		s.renderer.UpdateCamera(next.Camera)
	}
	if !next.AOV.Equal(prev.AOV) {
		if err := s.renderer.UpdateAOV(next.AOV); err != nil {
			logger.Warningf("ignoring aov settings: %v", err)
			next.AOV = prev.AOV
		}
	}
	if !next.Denoiser.Equal(prev.Denoiser) {
		if err := s.renderer.SetDenoiser(next.Denoiser); err != nil {
			logger.Warningf("ignoring denoiser settings: %v", err)
			next.Denoiser = prev.Denoiser
		}
	}
	if next.Samples != prev.Samples || next.Limit != prev.Limit {
		limits, err := next.Limits()
		if err == nil {
			err = s.renderer.UpdateSampling(next.Samples, limits)
		}
		if err != nil {
			logger.Warningf("ignoring sampling settings: %v", err)
			next.Samples, next.Limit = prev.Samples, prev.Limit
		}
	}
	if next.Device != prev.Device {
		logger.Warning("device changes require a restart; ignoring")
		next.Device = prev.Device
	}
	if next.LogLevel != prev.LogLevel {
		if level, err := log.ParseLevel(next.LogLevel); err == nil {
			log.SetLevel(level)
		}
	}

	s.cfg = next
}
