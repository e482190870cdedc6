// Package driver runs a render loop on a dedicated goroutine, applying
// queued configuration changes between progressive steps.
package driver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/update"
)

var logger = log.New("render driver")

var ErrAlreadyRunning = errors.New("driver: render goroutine is already running")

// Delays between steps.
const (
	InteractiveDelay    = 10 * time.Millisecond
	NoninteractiveDelay = 0
)

// Driver owns the render goroutine of a session. S is the type of the
// output settings carried by the update queue.
type Driver[S any] struct {
	mu sync.Mutex

	queue   *update.Queue[S]
	applier update.Applier[S]
	loop    *loop.Loop

	// A channel for signaling the worker to exit and a channel closed by
	// the worker once it has exited.
	closeChan chan struct{}
	doneChan  chan struct{}

	delay          time.Duration
	noninteractive bool

	completed atomic.Bool
	err       error
	stats     loop.Stats
}

// Create a new driver.
func New[S any](queue *update.Queue[S], applier update.Applier[S], l *loop.Loop) *Driver[S] {
	return &Driver[S]{
		queue:   queue,
		applier: applier,
		loop:    l,
	}
}

// Start the render goroutine in interactive mode. The goroutine idles until
// a change is queued and polls for changes every InteractiveDelay.
func (d *Driver[S]) Start() error {
	return d.start(InteractiveDelay, false)
}

// StartNoninteractive starts a render that runs until the loop reaches a stop
// condition. A redraw is forced so rendering starts immediately.
func (d *Driver[S]) StartNoninteractive() error {
	d.queue.SetRedraw()
	return d.start(NoninteractiveDelay, true)
}

func (d *Driver[S]) start(delay time.Duration, noninteractive bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closeChan != nil {
		select {
		case <-d.doneChan:
			// The worker exited on its own after an error
		default:
			return ErrAlreadyRunning
		}
	}

	d.delay = delay
	d.noninteractive = noninteractive
	d.err = nil
	d.completed.Store(false)
	d.closeChan = make(chan struct{})
	d.doneChan = make(chan struct{})

	go d.worker(d.closeChan, d.doneChan)
	logger.Debugf("render goroutine started (delay %s)", delay)
	return nil
}

// Stop the render goroutine. Stop blocks until the in-flight step, if any, has
// completed.
func (d *Driver[S]) Stop() {
	d.mu.Lock()
	closeChan, doneChan := d.closeChan, d.doneChan
	d.mu.Unlock()

	if closeChan == nil {
		return
	}

	d.loop.RequestStop()
	d.mu.Lock()
	select {
	case <-closeChan:
	default:
		close(closeChan)
	}
	d.mu.Unlock()

	// Wait for worker to exit
	<-doneChan

	d.mu.Lock()
	if d.closeChan == closeChan {
		d.closeChan = nil
		d.doneChan = nil
	}
	d.mu.Unlock()
	logger.Debug("render goroutine stopped")
}

// Running returns true while the render goroutine is alive.
func (d *Driver[S]) Running() bool {
	d.mu.Lock()
	doneChan := d.doneChan
	d.mu.Unlock()

	if doneChan == nil {
		return false
	}
	select {
	case <-doneChan:
		return false
	default:
		return true
	}
}

// IsRenderCompleted returns true once the loop reached a stop condition and
// no change has been requested since, or if the render goroutine is not
// running.
func (d *Driver[S]) IsRenderCompleted() bool {
	if !d.Running() {
		return true
	}
	return d.completed.Load() && !d.queue.HasPending() && !d.queue.NeedsRedraw()
}

// Wait blocks until the render goroutine exits.
func (d *Driver[S]) Wait() {
	d.mu.Lock()
	doneChan := d.doneChan
	d.mu.Unlock()

	if doneChan != nil {
		<-doneChan
	}
}

// Err returns the error that terminated the render goroutine, if any.
func (d *Driver[S]) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stats returns the loop statistics published after the last step.
func (d *Driver[S]) Stats() loop.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Driver[S]) fail(err error) {
	logger.Errorf("render goroutine terminated: %v", err)
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *Driver[S]) publishStats() {
	stats := d.loop.Stats()
	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()
}

func (d *Driver[S]) worker(closeChan, doneChan chan struct{}) {
	defer close(doneChan)

	for {
		if closing(closeChan) {
			return
		}

		redraw, err := d.queue.Drain(d.applier, true)
		if err != nil {
			d.fail(err)
			return
		}
		if !redraw {
			if !sleep(closeChan, InteractiveDelay) {
				return
			}
			continue
		}

		d.completed.Store(false)
		if err = d.loop.Start(); err != nil {
			d.fail(err)
			return
		}

		done, err := d.run(closeChan)
		if err != nil {
			d.fail(err)
			return
		}
		if done && d.noninteractive {
			return
		}
	}
}

// Run the loop until it stops, a change is queued or the driver is
// stopped. The return value is true if the loop reached a stop condition.
func (d *Driver[S]) run(closeChan chan struct{}) (bool, error) {
	for {
		if closing(closeChan) {
			return false, nil
		}

		redraw, err := d.queue.Drain(d.applier, false)
		if err != nil {
			return false, err
		}
		if redraw {
			logger.Debug("change detected; restarting accumulation")
			return false, nil
		}

		// Steps run outside the queue lock
		res, err := d.loop.Step()
		d.publishStats()
		if err != nil {
			return false, err
		}
		if res.Stopped {
			logger.Debugf("render completed: %s", res.Reason)
			d.loop.Reset()
			d.completed.Store(true)
			return true, nil
		}

		if !sleep(closeChan, d.delay) {
			return false, nil
		}
	}
}

func closing(closeChan chan struct{}) bool {
	select {
	case <-closeChan:
		return true
	default:
		return false
	}
}

// Sleep for delay or until closeChan is closed. Returns false if the driver
// is stopping.
func sleep(closeChan chan struct{}, delay time.Duration) bool {
	if delay <= 0 {
		return !closing(closeChan)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-closeChan:
		return false
	case <-timer.C:
		return true
	}
}
