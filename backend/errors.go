package backend

import (
	"errors"
	"fmt"
)

var (
	ErrContextClosed  = errors.New("backend: context is closed")
	ErrBufferReleased = errors.New("backend: frame buffer has been released")
	ErrSizeMismatch   = errors.New("backend: frame buffer size mismatch")
	ErrNotAttached    = errors.New("backend: aov not attached")
)

// SetupError reports a failure to create a context, frame buffer or filter.
// Setup errors are fatal to the call that triggered them.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("backend: %s failed: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Wrap err in a *SetupError unless it is nil or already one.
func Setup(op string, err error) error {
	if err == nil {
		return nil
	}
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return err
	}
	return &SetupError{Op: op, Err: err}
}

// RenderError reports the failure of a single progressive render step. The
// step is treated as a no-op and rendering continues.
type RenderError struct {
	Iteration uint32
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("backend: render step %d failed: %v", e.Iteration, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
