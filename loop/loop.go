// Package loop implements the progressive accumulation state machine that
// drives a render session one step at a time.
package loop

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/types"
)

var logger = log.New("render loop")

var ErrNotStarted = errors.New("loop: Start must be called before Step")

// The render targets driven by the loop.
type Target interface {
	Clear() error
	Render(region *types.Region) error
	Resolve() error
}

// SampleSetter pushes the number of samples per step to the renderer.
type SampleSetter interface {
	SetSamplesPerStep(samples uint32) error
}

type LimitType uint8

// Supported render limits.
const (
	NoLimit LimitType = iota
	TimeLimit
	IterationLimit
)

func (l LimitType) String() string {
	switch l {
	case NoLimit:
		return "none"
	case TimeLimit:
		return "time"
	case IterationLimit:
		return "iterations"
	}
	return fmt.Sprintf("limit(%d)", uint8(l))
}

// Limits bound the length of a run.
type Limits struct {
	Type       LimitType
	Time       time.Duration
	Iterations uint32
}

// Loop options.
type Options struct {
	Limits Limits

	// The user visible sample target per step.
	UserSamples uint32

	// Number of compute devices engaged by the renderer.
	DeviceCount int
}

type State uint8

// Loop states.
const (
	Idle State = iota
	Accumulating
	StoppedByLimit
	StoppedByRequest
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case StoppedByLimit:
		return "stopped by limit"
	case StoppedByRequest:
		return "stopped by request"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type StopReason uint8

// Reasons for stopping a run.
const (
	NotStopped StopReason = iota
	StopRequested
	TimeBudgetExceeded
	IterationBudgetExceeded
)

func (r StopReason) String() string {
	switch r {
	case NotStopped:
		return "not stopped"
	case StopRequested:
		return "stop requested"
	case TimeBudgetExceeded:
		return "time budget exceeded"
	case IterationBudgetExceeded:
		return "iteration budget exceeded"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// The outcome of a Step call.
type Result struct {
	Stopped bool
	Reason  StopReason
}

// Continue is returned by Step while the run is in progress.
var Continue = Result{}

func stopped(reason StopReason) Result {
	return Result{Stopped: true, Reason: reason}
}

// Loop statistics.
type Stats struct {
	Steps       uint32
	FailedSteps uint32

	// Wall clock time since Start and duration of the last step.
	Elapsed  time.Duration
	LastStep time.Duration

	UsedIterations uint32
	SamplesPerStep uint32
}

// Loop accumulates progressive render steps into a Target until a stop
// condition is met. Step must be called from a single goroutine;
// RequestStop may be called from any goroutine.
type Loop struct {
	target  Target
	sampler SampleSetter

	opts           Options
	usedIterations uint32
	samples        uint32

	region *types.Region

	state State
	step  uint32
	start time.Time
	stats Stats

	stopRequested atomic.Bool

	now func() time.Time
}

// Create a new loop.
func New(target Target, sampler SampleSetter, opts Options) *Loop {
	l := &Loop{
		target:  target,
		sampler: sampler,
		now:     time.Now,
	}
	l.SetOptions(opts)
	return l
}

// SetOptions updates the loop options and recomputes the iteration budget.
// The new sample count is pushed to the renderer on the next Start.
func (l *Loop) SetOptions(opts Options) {
	l.opts = opts

	user := opts.UserSamples
	if user == 0 {
		user = 1
	}

	l.samples = user
	l.usedIterations = 0
	if opts.Limits.Type == IterationLimit {
		l.samples = EffectiveSamples(opts.DeviceCount, user)
		l.usedIterations = IterationBudget(opts.Limits.Iterations, user, l.samples)
	}
	logger.Debugf("limit %s: %d sample(s) per step, iteration budget %d", opts.Limits.Type, l.samples, l.usedIterations)
}

// Options returns the current loop options.
func (l *Loop) Options() Options {
	return l.opts
}

// Restrict rendering to a region of the frame; nil renders the full frame.
func (l *Loop) SetRegion(region *types.Region) {
	if region == nil {
		l.region = nil
		return
	}
	r := *region
	l.region = &r
}

// State returns the current loop state.
func (l *Loop) State() State {
	return l.state
}

// UsedIterations returns the iteration budget for the current options or 0
// if no iteration limit is active.
func (l *Loop) UsedIterations() uint32 {
	return l.usedIterations
}

// Start a new run. Targets are cleared and the per-step sample count is
// pushed to the renderer.
func (l *Loop) Start() error {
	l.stopRequested.Store(false)
	l.step = 0
	l.stats = Stats{UsedIterations: l.usedIterations, SamplesPerStep: l.samples}
	l.state = Idle

	if err := l.target.Clear(); err != nil {
		return err
	}
	if l.sampler != nil {
		if err := l.sampler.SetSamplesPerStep(l.samples); err != nil {
			return backend.Setup("set samples per step", err)
		}
	}

	l.start = l.now()
	l.state = Accumulating
	return nil
}

// RequestStop asks the loop to stop before the next step.
func (l *Loop) RequestStop() {
	l.stopRequested.Store(true)
}

// Reset returns a stopped loop to the idle state.
func (l *Loop) Reset() {
	l.state = Idle
}

// Step checks the stop conditions and, if none is met, renders and resolves
// one progressive step. Render failures are counted and do not stop the
// run; other errors are returned to the caller.
func (l *Loop) Step() (Result, error) {
	switch l.state {
	case Idle:
		return Continue, ErrNotStarted
	case StoppedByRequest:
		return stopped(StopRequested), nil
	case StoppedByLimit:
		return l.limitResult(), nil
	}

	if reason := l.checkStop(); reason != NotStopped {
		if reason == StopRequested {
			l.state = StoppedByRequest
		} else {
			l.state = StoppedByLimit
		}
		l.stats.Elapsed = l.now().Sub(l.start)
		logger.Debugf("run stopped after %d step(s): %s", l.step, reason)
		return stopped(reason), nil
	}

	stepStart := l.now()
	err := l.target.Render(l.region)
	l.step++
	l.stats.Steps = l.step

	var renderErr *backend.RenderError
	switch {
	case errors.As(err, &renderErr):
		l.stats.FailedSteps++
	case err != nil:
		return Continue, err
	}

	if err := l.target.Resolve(); err != nil {
		return Continue, err
	}

	end := l.now()
	l.stats.LastStep = end.Sub(stepStart)
	l.stats.Elapsed = end.Sub(l.start)
	return Continue, nil
}

func (l *Loop) checkStop() StopReason {
	if l.stopRequested.Load() {
		return StopRequested
	}

	limits := l.opts.Limits
	switch limits.Type {
	case TimeLimit:
		if limits.Time > 0 && l.region == nil && l.now().Sub(l.start) >= limits.Time {
			return TimeBudgetExceeded
		}
	case IterationLimit:
		if l.usedIterations != 0 && l.step >= l.usedIterations {
			return IterationBudgetExceeded
		}
	}
	return NotStopped
}

func (l *Loop) limitResult() Result {
	if l.opts.Limits.Type == TimeLimit {
		return stopped(TimeBudgetExceeded)
	}
	return stopped(IterationBudgetExceeded)
}

// Get loop statistics.
func (l *Loop) Stats() Stats {
	return l.stats
}
