package denoise

import (
	"errors"
	"fmt"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/denoise/filter"
)

var (
	ErrRunPending      = errors.New("denoise: no completed run for the bound inputs")
	ErrNotBound        = errors.New("denoise: engine is not bound to any inputs")
	ErrMissingInput    = errors.New("denoise: required input is not bound")
	ErrRebindRequired  = errors.New("denoise: settings require inputs that are not bound")
	ErrEngineClosed    = errors.New("denoise: engine is closed")
	ErrUnknownImageRef = errors.New("denoise: filter graph references an unknown image")
)

// DeviceUnavailableError is returned when no filter context can be opened
// for a renderer context.
type DeviceUnavailableError struct {
	// The preferred context kind for the renderer context.
	Requested filter.ContextKind
	Err       error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("denoise: no filter device available (requested %s)", e.Requested)
	}
	return fmt.Sprintf("denoise: no filter device available (requested %s): %v", e.Requested, e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}

// BufferSizeMismatchError is returned when a bound frame buffer no longer
// matches the size of the filter image it is copied into.
type BufferSizeMismatchError struct {
	AOV         aov.AOV
	ImageBytes  int
	BufferBytes int
}

func (e *BufferSizeMismatchError) Error() string {
	return fmt.Sprintf("denoise: input %s has %d bytes but its filter image has %d bytes", e.AOV, e.BufferBytes, e.ImageBytes)
}
