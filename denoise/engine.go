// Package denoise builds image filter graphs that denoise the resolved
// color AOV using auxiliary AOVs as edge guides.
package denoise

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise/filter"
	"github.com/achilleasa/lumen/log"
)

var logger = log.New("denoiser")

// Candidate filter context kinds for a renderer context in order of
// preference.
func candidates(flags backend.CreationFlag) []filter.ContextKind {
	var kinds []filter.ContextKind
	if flags.Has(backend.Metal) {
		kinds = append(kinds, filter.Metal)
	}
	if flags.GPUEnabled() {
		kinds = append(kinds, filter.OpenCL)
	}
	return append(kinds, filter.CPU)
}

// SelectBackend opens the preferred filter context for a renderer context.
// Metal and OpenCL contexts share memory with the renderer; the cpu context
// copies its inputs. Kinds the provider does not offer are skipped.
func SelectBackend(rctx backend.Context, provider filter.Provider) (filter.Context, error) {
	kinds := candidates(rctx.CreationFlags())

	var errs []error
	for _, kind := range kinds {
		fctx, err := provider.Open(kind, rctx)
		if err == nil {
			logger.Infof("using %s filter context", kind)
			return fctx, nil
		}
		if !errors.Is(err, filter.ErrUnavailable) && !errors.Is(err, filter.ErrSharingUnsupported) {
			return nil, backend.Setup("open filter context", err)
		}
		logger.Debugf("%s filter context unavailable: %v", kind, err)
		errs = append(errs, err)
	}
	return nil, &DeviceUnavailableError{Requested: kinds[0], Err: errors.Join(errs...)}
}

// Engine statistics.
type Stats struct {
	// Number of filter graph builds.
	Builds int

	// Number of in-place parameter updates.
	ParamUpdates int

	Runs int
}

// Engine denoises the bound color AOV with the filter graph selected by its
// settings. It implements target.Denoiser.
type Engine struct {
	mu sync.Mutex

	fctx     filter.Context
	settings Settings
	spec     FilterSpec

	width, height uint32
	inputs        map[aov.AOV]backend.FrameBuffer
	bound         bool

	images map[Ref]filter.Image

	// Input images that are copies of their frame buffers.
	copied map[aov.AOV]filter.Image

	queue filter.CommandQueue
	nodes map[string]filter.Filter

	ran    bool
	stats  Stats
	closed bool
}

// Create an engine for a renderer context.
func New(rctx backend.Context, provider filter.Provider, settings Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	fctx, err := SelectBackend(rctx, provider)
	if err != nil {
		return nil, err
	}
	return &Engine{
		fctx:     fctx,
		settings: settings,
		spec:     SpecFor(settings),
	}, nil
}

// The kind of filter context in use.
func (e *Engine) ContextKind() filter.ContextKind {
	return e.fctx.Kind()
}

// Get the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Get a snapshot of the engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// RequiredAOVs lists the AOVs read by the current filter graph.
func (e *Engine) RequiredAOVs() []aov.AOV {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]aov.AOV(nil), e.spec.Inputs...)
}

// Bind creates the filter images for the given inputs and builds the filter
// graph. Any previous binding is released first.
func (e *Engine) Bind(inputs map[aov.AOV]backend.FrameBuffer, width, height uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	e.teardownLocked()

	e.inputs = make(map[aov.AOV]backend.FrameBuffer, len(inputs))
	for a, fb := range inputs {
		e.inputs[a] = fb
	}
	e.width, e.height = width, height
	return e.buildLocked()
}

// Unbind releases the filter graph and its images.
func (e *Engine) Unbind() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	e.inputs = nil
}

// Update applies new settings. A kind change rebuilds the graph; any other
// change updates the filter parameters in place. If the new graph needs
// inputs that are not bound the engine unbinds itself and returns
// ErrRebindRequired.
func (e *Engine) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.settings.Equal(settings) {
		return nil
	}
	sameKind := e.settings.SameKind(settings)
	e.settings = settings
	e.spec = SpecFor(settings)

	if !e.bound {
		return nil
	}
	if sameKind {
		return e.applyParamsLocked()
	}

	e.teardownLocked()
	for _, a := range e.spec.Inputs {
		if _, ok := e.inputs[a]; !ok {
			e.inputs = nil
			return fmt.Errorf("%w: %s", ErrRebindRequired, a)
		}
	}
	return e.buildLocked()
}

// Run executes the filter graph once. Inputs of copying contexts are
// refreshed from their frame buffers first.
func (e *Engine) Run() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}
	e.ran = false

	// Check every input before touching any image
	for _, a := range sortedAOVs(e.copied) {
		img := e.copied[a]
		if have := e.inputs[a].Desc().ByteSize(); have != img.ByteSize() {
			return &BufferSizeMismatchError{AOV: a, ImageBytes: img.ByteSize(), BufferBytes: have}
		}
	}
	for _, a := range sortedAOVs(e.copied) {
		pix, err := e.inputs[a].Pixels()
		if err != nil {
			return fmt.Errorf("denoise: read input %s: %w", a, err)
		}
		if err = e.copied[a].Write(pix); err != nil {
			return fmt.Errorf("denoise: upload input %s: %w", a, err)
		}
	}

	if err := e.queue.Execute(); err != nil {
		return fmt.Errorf("denoise: execute %s graph: %w", e.spec.Kind, err)
	}
	e.ran = true
	e.stats.Runs++
	return nil
}

// Output returns a copy of the output image of the last run.
func (e *Engine) Output() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return nil, ErrNotBound
	}
	if !e.ran {
		return nil, ErrRunPending
	}

	img := e.images[Output]
	pix, err := img.Map()
	if err != nil {
		return nil, fmt.Errorf("denoise: map output: %w", err)
	}
	out := make([]float32, len(pix))
	copy(out, pix)
	if err = img.Unmap(); err != nil {
		return nil, fmt.Errorf("denoise: unmap output: %w", err)
	}
	return out, nil
}

// Close releases the graph and the filter context.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.teardownLocked()
	e.inputs = nil
	e.fctx.Close()
	e.closed = true
}

func (e *Engine) buildLocked() (err error) {
	defer func() {
		if err != nil {
			e.teardownLocked()
			err = backend.Setup("build "+e.spec.Kind.String()+" filter graph", err)
		}
	}()

	e.images = make(map[Ref]filter.Image)
	e.copied = make(map[aov.AOV]filter.Image)
	e.nodes = make(map[string]filter.Filter)

	desc := filter.ImageDesc{Width: e.width, Height: e.height, Channels: 4}
	shared := e.fctx.Kind().Shared()
	for _, a := range e.spec.Inputs {
		fb, ok := e.inputs[a]
		if !ok || fb == nil {
			return fmt.Errorf("%w: %s", ErrMissingInput, a)
		}
		var img filter.Image
		if shared {
			img, err = e.fctx.CreateSharedImage(fb)
		} else {
			img, err = e.fctx.CreateImage(desc)
			if err == nil {
				e.copied[a] = img
			}
		}
		if err != nil {
			return fmt.Errorf("input %s: %w", a, err)
		}
		e.images[Input(a)] = img
	}

	for _, name := range append([]string{string(Output)}, e.spec.AuxImages...) {
		img, err := e.fctx.CreateImage(desc)
		if err != nil {
			return fmt.Errorf("image %s: %w", name, err)
		}
		ref := Output
		if name != string(Output) {
			ref = Aux(name)
		}
		e.images[ref] = img
	}

	if e.queue, err = e.fctx.CreateCommandQueue(); err != nil {
		return err
	}

	for _, n := range e.spec.Nodes() {
		f, err := e.fctx.CreateFilter(n.Kind)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
		e.nodes[n.Name] = f

		if err = e.setImagesLocked(f, n); err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
		if err = setParams(f, n); err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
		in, out := e.images[n.In], e.images[n.Out]
		if in == nil || out == nil {
			return fmt.Errorf("node %s: %w", n.Name, ErrUnknownImageRef)
		}
		if err = e.queue.Attach(f, in, out); err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
	}

	e.bound = true
	e.ran = false
	e.stats.Builds++
	logger.Debugf("built %s filter graph with %d nodes at %dx%d", e.spec.Kind, len(e.nodes), e.width, e.height)
	return nil
}

func (e *Engine) setImagesLocked(f filter.Filter, n Node) error {
	for _, name := range sortedKeys(n.Images) {
		img := e.images[n.Images[name]]
		if img == nil {
			return fmt.Errorf("%w: %s", ErrUnknownImageRef, n.Images[name])
		}
		if err := f.SetImage(name, img); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(n.ImageArrays) {
		refs := n.ImageArrays[name]
		imgs := make([]filter.Image, 0, len(refs))
		for _, ref := range refs {
			img := e.images[ref]
			if img == nil {
				return fmt.Errorf("%w: %s", ErrUnknownImageRef, ref)
			}
			imgs = append(imgs, img)
		}
		if err := f.SetImageArray(name, imgs); err != nil {
			return err
		}
	}
	return nil
}

// Push the scalar parameters of the current spec to the existing nodes.
func (e *Engine) applyParamsLocked() error {
	for _, n := range e.spec.Nodes() {
		f, ok := e.nodes[n.Name]
		if !ok {
			return fmt.Errorf("denoise: graph has no node %q", n.Name)
		}
		if err := setParams(f, n); err != nil {
			return fmt.Errorf("denoise: update node %s: %w", n.Name, err)
		}
	}
	e.ran = false
	e.stats.ParamUpdates++
	return nil
}

func setParams(f filter.Filter, n Node) error {
	for _, name := range sortedKeys(n.Uints) {
		if err := f.SetUint(name, n.Uints[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(n.Floats) {
		if err := f.SetFloat(name, n.Floats[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(n.FloatArrays) {
		if err := f.SetFloatArray(name, n.FloatArrays[name]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) teardownLocked() {
	if e.queue != nil {
		e.queue.Release()
		e.queue = nil
	}
	for _, f := range e.nodes {
		f.Release()
	}
	for _, img := range e.images {
		img.Release()
	}
	e.nodes = nil
	e.images = nil
	e.copied = nil
	e.bound = false
	e.ran = false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAOVs(m map[aov.AOV]filter.Image) []aov.AOV {
	out := make([]aov.AOV, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
