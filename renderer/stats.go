package renderer

import (
	"time"

	"github.com/achilleasa/lumen/target"
)

type DenoiserStat struct {
	// False if denoising is off or no filter device was available.
	Active bool

	Kind    string
	Context string

	Builds       int
	ParamUpdates int
	Runs         int
}

type RenderStats struct {
	// Accumulation progress.
	Iterations uint32
	Resolved   uint32

	// Steps issued by the loop and how many of them failed.
	Steps       uint32
	FailedSteps uint32

	// Iteration budget (0 without an iteration limit) and samples per step.
	UsedIterations uint32
	SamplesPerStep uint32

	// Time since the current run started and the duration of the last step.
	Elapsed  time.Duration
	LastStep time.Duration

	// Time spent inside native render calls.
	RenderTime time.Duration

	// The source of the color pixels.
	Supplier target.Supplier

	Denoiser DenoiserStat

	// Number of devices engaged by the renderer context.
	Devices int

	Completed bool
}
