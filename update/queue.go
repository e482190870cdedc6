// Package update coalesces configuration changes produced by any number of
// goroutines into at most one pending value per kind of change, to be
// applied by the render goroutine between progressive steps.
package update

import (
	"sync"

	"github.com/achilleasa/lumen/types"
)

// Applier applies drained changes. It is invoked while the queue lock is
// held so it must not call back into the queue.
type Applier[S any] interface {
	ApplyResolution(res types.Resolution) error
	ApplyOutput(settings S) error
	ApplyRegion(region *types.Region) error
	ApplyCamera(cam types.Camera) error
}

// Queue holds the pending and committed values for every kind of change,
// plus a redraw flag. S is the type of the output (aov and denoiser)
// settings.
type Queue[S any] struct {
	mu sync.Mutex

	resolution *Block[types.Resolution]
	output     *Block[S]
	region     *Block[*types.Region]
	camera     *Block[types.Camera]

	committedResolution types.Resolution
	committedOutput     S
	committedRegion     *types.Region
	committedCamera     types.Camera

	redraw bool
}

// Create a new queue. equalOutput compares two output settings values.
func NewQueue[S any](equalOutput func(a, b S) bool) *Queue[S] {
	return &Queue[S]{
		resolution: NewBlock(func(a, b types.Resolution) bool { return a == b }),
		output:     NewBlock(equalOutput),
		region:     NewBlock(types.RegionEqual),
		camera:     NewBlock(func(a, b types.Camera) bool { return a.Equal(b) }),
	}
}

func (q *Queue[S]) UpdateResolution(res types.Resolution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolution.Offer(q.committedResolution, res)
}

func (q *Queue[S]) UpdateOutput(settings S) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.output.Offer(q.committedOutput, settings)
}

// UpdateRegion queues a region change. A nil region selects the full frame.
func (q *Queue[S]) UpdateRegion(region *types.Region) {
	if region != nil {
		r := *region
		region = &r
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.region.Offer(q.committedRegion, region)
}

func (q *Queue[S]) UpdateCamera(cam types.Camera) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.camera.Offer(q.committedCamera, cam)
}

// HasPending returns true if any change is waiting to be applied.
func (q *Queue[S]) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasPendingLocked()
}

func (q *Queue[S]) hasPendingLocked() bool {
	return q.resolution.HasValue() || q.output.HasValue() || q.region.HasValue() || q.camera.HasValue()
}

// Request a redraw.
func (q *Queue[S]) SetRedraw() {
	q.mu.Lock()
	q.redraw = true
	q.mu.Unlock()
}

// NeedsRedraw returns the value of the redraw flag.
func (q *Queue[S]) NeedsRedraw() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.redraw
}

// Drain applies every pending change, at most once per kind, in the order
// resolution, output, region, camera. Applied values become the committed
// values and set the redraw flag. If clearRedraw is set the redraw flag is
// consumed and its previous value returned; otherwise Drain returns whether
// the flag is set after applying. The first apply error aborts the drain;
// the failed value is dropped.
func (q *Queue[S]) Drain(apply Applier[S], clearRedraw bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if res, ok := q.resolution.Pop(); ok {
		if err := apply.ApplyResolution(res); err != nil {
			return q.redraw, err
		}
		q.committedResolution = res
		q.redraw = true
	}
	if settings, ok := q.output.Pop(); ok {
		if err := apply.ApplyOutput(settings); err != nil {
			return q.redraw, err
		}
		q.committedOutput = settings
		q.redraw = true
	}
	if region, ok := q.region.Pop(); ok {
		if err := apply.ApplyRegion(region); err != nil {
			return q.redraw, err
		}
		q.committedRegion = region
		q.redraw = true
	}
	if cam, ok := q.camera.Pop(); ok {
		if err := apply.ApplyCamera(cam); err != nil {
			return q.redraw, err
		}
		q.committedCamera = cam
		q.redraw = true
	}

	redraw := q.redraw
	if clearRedraw {
		q.redraw = false
	}
	return redraw, nil
}

// Committed values.

func (q *Queue[S]) Resolution() types.Resolution {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committedResolution
}

func (q *Queue[S]) Output() S {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committedOutput
}

func (q *Queue[S]) Region() *types.Region {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.committedRegion == nil {
		return nil
	}
	r := *q.committedRegion
	return &r
}

func (q *Queue[S]) Camera() types.Camera {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committedCamera
}
