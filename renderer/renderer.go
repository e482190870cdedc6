// Package renderer exposes a render session of a scene. A SceneRenderer
// owns the render targets, the progressive loop and the render goroutine;
// configuration changes may be issued from any goroutine and are applied
// between progressive steps.
package renderer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise"
	"github.com/achilleasa/lumen/denoise/filter"
	"github.com/achilleasa/lumen/driver"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/target"
	"github.com/achilleasa/lumen/types"
	"github.com/achilleasa/lumen/update"
)

var logger = log.New("scene renderer")

// SceneRenderer renders a scene through a backend context.
type SceneRenderer struct {
	rctx     backend.Context
	provider filter.Provider

	targets *target.Targets
	loop    *loop.Loop
	queue   *update.Queue[OutputSettings]
	driver  *driver.Driver[OutputSettings]

	// Replaced only by the render goroutine.
	engine atomic.Pointer[denoise.Engine]

	// Guarded by imageLock.
	transparent bool

	// Latest requested output settings; the base for per-field updates.
	// Lock order: mu, then the queue lock, then imageLock. The render
	// goroutine takes imageLock while holding the queue lock, so code
	// holding imageLock must never take mu or the queue lock.
	mu        sync.Mutex
	requested OutputSettings
	closed    atomic.Bool

	// Serializes image reads against resizes and guards the image cache.
	imageLock sync.Mutex
	images    *imageCache
}

// Create a new scene renderer. The provider may be nil in which case
// denoising is unavailable.
func New(rctx backend.Context, provider filter.Provider, opts Options) (*SceneRenderer, error) {
	if rctx == nil {
		return nil, fmt.Errorf("%w: no renderer context", ErrInvalidRequest)
	}
	if err := validateOutput(opts.Output); err != nil {
		return nil, err
	}

	r := &SceneRenderer{
		rctx:      rctx,
		provider:  provider,
		targets:   target.New(rctx),
		requested: opts.Output.clone(),
		images:    newImageCache(),
	}
	r.loop = loop.New(r.targets, rctx, r.loopOptions(opts.Output))
	r.queue = update.NewQueue(func(a, b OutputSettings) bool { return a.Equal(b) })
	r.driver = driver.New[OutputSettings](r.queue, r, r.loop)

	if opts.Resolution.Pixels() != 0 {
		r.queue.UpdateResolution(opts.Resolution)
	}
	r.queue.UpdateOutput(r.requested.clone())
	r.queue.UpdateCamera(opts.Camera)
	return r, nil
}

func validateOutput(s OutputSettings) error {
	for _, a := range s.AOV.Passes {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown aov %q", ErrInvalidRequest, a)
		}
	}
	if s.Denoiser.Enable {
		if err := s.Denoiser.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *SceneRenderer) loopOptions(s OutputSettings) loop.Options {
	return loop.Options{
		Limits:      s.Limits,
		UserSamples: s.Samples,
		DeviceCount: r.rctx.DeviceCount(),
	}
}

// Start rendering interactively. Accumulation restarts whenever a change
// is applied and idles once a limit is reached.
func (r *SceneRenderer) Start() error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.driver.Start()
}

// StartNoninteractive renders until a limit is reached and then stops the
// render goroutine.
func (r *SceneRenderer) StartNoninteractive() error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.driver.StartNoninteractive()
}

// Stop rendering. Stop blocks until the in-flight step completes.
func (r *SceneRenderer) Stop() {
	r.driver.Stop()
}

// Wait blocks until the render goroutine exits.
func (r *SceneRenderer) Wait() {
	r.driver.Wait()
}

// IsRenderCompleted returns true once a limit was reached and no change was
// requested since, or if the renderer is not running.
func (r *SceneRenderer) IsRenderCompleted() bool {
	return r.driver.IsRenderCompleted()
}

// Err returns the error that stopped the render goroutine, if any.
func (r *SceneRenderer) Err() error {
	return r.driver.Err()
}

// UpdateResolution resizes the frame. Both dimensions must be non-zero.
func (r *SceneRenderer) UpdateResolution(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidRequest, width, height)
	}
	if r.isClosed() {
		return ErrClosed
	}
	r.queue.UpdateResolution(types.Resolution{Width: width, Height: height})
	return nil
}

// UpdateRegion restricts rendering to a region of the frame. A nil region
// renders the full frame.
func (r *SceneRenderer) UpdateRegion(region *types.Region) {
	r.queue.UpdateRegion(region)
}

func (r *SceneRenderer) UpdateCamera(cam types.Camera) {
	r.queue.UpdateCamera(cam)
}

// UpdateAOV replaces the aov settings.
func (r *SceneRenderer) UpdateAOV(settings aov.Settings) error {
	return r.updateOutput(func(s *OutputSettings) {
		s.AOV = settings
	})
}

// SetDenoiser replaces the denoiser settings. The change goes through the
// same path as aov changes.
func (r *SceneRenderer) SetDenoiser(settings denoise.Settings) error {
	return r.updateOutput(func(s *OutputSettings) {
		s.Denoiser = settings
	})
}

// UpdateSampling replaces the samples per step and the render limits.
func (r *SceneRenderer) UpdateSampling(samples uint32, limits loop.Limits) error {
	return r.updateOutput(func(s *OutputSettings) {
		s.Samples = samples
		s.Limits = limits
	})
}

func (r *SceneRenderer) updateOutput(modify func(s *OutputSettings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	next := r.requested.clone()
	modify(&next)
	if err := validateOutput(next); err != nil {
		return err
	}
	r.requested = next
	r.queue.UpdateOutput(next.clone())
	return nil
}

// Stats returns a snapshot of the render progress.
func (r *SceneRenderer) Stats() RenderStats {
	loopStats := r.driver.Stats()
	state := r.targets.State()

	stats := RenderStats{
		Iterations:     state.Iterations,
		Resolved:       state.Resolved,
		Steps:          loopStats.Steps,
		FailedSteps:    loopStats.FailedSteps,
		UsedIterations: loopStats.UsedIterations,
		SamplesPerStep: loopStats.SamplesPerStep,
		Elapsed:        loopStats.Elapsed,
		LastStep:       loopStats.LastStep,
		RenderTime:     state.Elapsed,
		Supplier:       r.targets.ColorSupplier(),
		Devices:        r.rctx.DeviceCount(),
		Completed:      r.driver.IsRenderCompleted(),
		Denoiser:       r.denoiserStat(),
	}
	return stats
}

func (r *SceneRenderer) denoiserStat() DenoiserStat {
	engine := r.engine.Load()
	if engine == nil {
		return DenoiserStat{}
	}
	es := engine.Stats()
	return DenoiserStat{
		Active:       true,
		Kind:         engine.Settings().Kind.String(),
		Context:      engine.ContextKind().String(),
		Builds:       es.Builds,
		ParamUpdates: es.ParamUpdates,
		Runs:         es.Runs,
	}
}

// Close stops rendering and releases the render targets and the denoiser.
// The renderer context is owned by the caller and is not closed.
func (r *SceneRenderer) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.driver.Stop()

	r.imageLock.Lock()
	defer r.imageLock.Unlock()

	r.targets.Close()
	if engine := r.engine.Swap(nil); engine != nil {
		engine.Close()
	}
	r.images.purge()
}

func (r *SceneRenderer) isClosed() bool {
	return r.closed.Load()
}

// ApplyResolution resizes the render targets. It runs on the render
// goroutine with the update queue locked.
func (r *SceneRenderer) ApplyResolution(res types.Resolution) error {
	r.imageLock.Lock()
	defer r.imageLock.Unlock()

	logger.Debugf("applying resolution %s", res)
	if err := r.targets.SetResolution(res.Width, res.Height); err != nil {
		return err
	}
	r.images.purge()
	return nil
}

// ApplyOutput reshapes the render targets, the denoiser and the loop
// budget.
func (r *SceneRenderer) ApplyOutput(settings OutputSettings) error {
	r.imageLock.Lock()
	defer r.imageLock.Unlock()
	defer r.images.purge()

	logger.Debugf("applying output settings: aovs %v, denoiser %t (%s)", settings.AOV.Enabled(), settings.Denoiser.Enable, settings.Denoiser.Kind)

	if err := r.targets.SetCatchers(settings.AOV.ShadowCatcher, settings.AOV.ReflectionCatcher, settings.AOV.Transparent); err != nil {
		return err
	}
	if err := r.applyDenoiser(settings.Denoiser); err != nil {
		return err
	}
	// Inputs of the composite and the denoiser stay enabled
	if err := r.targets.SyncAOVs(settings.AOV.Enabled()); err != nil {
		return err
	}
	r.transparent = settings.AOV.Transparent

	r.loop.SetOptions(r.loopOptions(settings))
	return nil
}

func (r *SceneRenderer) applyDenoiser(settings denoise.Settings) error {
	current := r.engine.Load()
	if !settings.Enable {
		if current != nil {
			r.targets.DisableDenoiser()
			r.engine.Store(nil)
			current.Close()
			logger.Info("denoiser disabled")
		}
		return nil
	}

	if current == nil {
		if r.provider == nil {
			logger.Warning("denoising requested but no filter provider is configured")
			return nil
		}
		engine, err := denoise.New(r.rctx, r.provider, settings)
		var devErr *denoise.DeviceUnavailableError
		if errors.As(err, &devErr) {
			logger.Warningf("%v; rendering without denoiser", err)
			return nil
		} else if err != nil {
			return err
		}
		r.engine.Store(engine)
		logger.Infof("denoiser enabled: %s on %s context", settings.Kind, engine.ContextKind())
		return r.targets.EnableDenoiser(engine)
	}

	if !current.Settings().SameKind(settings) {
		// Unbind first so the graph is built once for the new inputs
		r.targets.DisableDenoiser()
		if err := current.Update(settings); err != nil {
			return err
		}
		return r.targets.EnableDenoiser(current)
	}

	err := current.Update(settings)
	if errors.Is(err, denoise.ErrRebindRequired) {
		return r.targets.EnableDenoiser(current)
	}
	return err
}

func (r *SceneRenderer) ApplyRegion(region *types.Region) error {
	r.loop.SetRegion(region)
	return nil
}

func (r *SceneRenderer) ApplyCamera(cam types.Camera) error {
	if err := r.rctx.SetCamera(cam); err != nil {
		return backend.Setup("set camera", err)
	}
	return nil
}
