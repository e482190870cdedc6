package renderer

import "errors"

var (
	ErrClosed         = errors.New("renderer: renderer has been closed")
	ErrNoImage        = errors.New("renderer: no image has been resolved yet")
	ErrInvalidRequest = errors.New("renderer: invalid update request")
)
