package renderer

import (
	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/denoise"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/types"
)

type Options struct {
	// Frame dims.
	Resolution types.Resolution

	Camera types.Camera

	// Render output configuration.
	Output OutputSettings
}

// OutputSettings groups everything that reshapes the render targets or the
// accumulation budget. Changes are queued and applied as a single update.
type OutputSettings struct {
	AOV      aov.Settings
	Denoiser denoise.Settings

	// Number of samples per pixel accumulated by each step.
	Samples uint32

	Limits loop.Limits
}

// Equal returns true if both settings produce the same render.
func (s OutputSettings) Equal(other OutputSettings) bool {
	return s.AOV.Equal(other.AOV) &&
		s.Denoiser.Equal(other.Denoiser) &&
		s.Samples == other.Samples &&
		s.Limits == other.Limits
}

// Deep copy of the settings.
func (s OutputSettings) clone() OutputSettings {
	s.AOV.Passes = append([]aov.AOV(nil), s.AOV.Passes...)
	return s
}
