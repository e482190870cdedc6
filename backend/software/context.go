// Package software implements a CPU reference renderer backend. It traces a
// small procedural scene and splits the frame rows between a set of
// simulated devices.
package software

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/cache"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/types"
	"golang.org/x/sync/errgroup"
)

var logger = log.New("software renderer")

var (
	ErrUnsupportedComponent = errors.New("software: only float32 frame buffers are supported")
	ErrNoGLInterop          = errors.New("software: context was created without gl interop")
	ErrForeignFrameBuffer   = errors.New("software: frame buffer was not created by this context")
)

// Default number of baked environments kept by a context.
const defaultEnvCacheSize = 4

// A simulated compute device.
type Device struct {
	Name string

	// Speed estimate relative to a baseline cpu device.
	Speed float32
}

// Context options.
type Options struct {
	Flags backend.CreationFlag

	// Devices to split the frame between. If empty, devices are derived
	// from the creation flags.
	Devices []Device

	// The shader to render. Defaults to NewScene(DefaultScene()).
	Shader Shader

	EnvCacheSize int
}

// Context statistics.
type Stats struct {
	FrameBuffersCreated  int
	FrameBuffersReleased int

	Renders     int
	TileRenders int
	Resolves    int

	EnvCacheHits   uint64
	EnvCacheMisses uint64

	// Time spent in the last render call.
	LastRenderTime time.Duration
}

// Shaders implementing this interface get a baked environment table before
// each render call.
type environmentUser interface {
	Environment() Environment
	useEnvironment(envTable)
}

// Context is a backend.Context rendering on the host cpu.
type Context struct {
	sync.Mutex

	flags     backend.CreationFlag
	devices   []Device
	devStats  []deviceStats
	scheduler rowScheduler

	shader   Shader
	envCache *cache.Bounded[envKey, envTable]

	attached map[aov.AOV]*frameBuffer
	live     int

	samples uint32
	camera  types.Camera

	basis       types.CameraBasis
	basisAspect float32
	basisDirty  bool

	// Number of render calls issued so far; seeds the sample jitter.
	step uint32

	stats      Stats
	renderHook func(step uint32) error

	closed bool
}

// Create a new software context.
func New(opts Options) (*Context, error) {
	flags := opts.Flags
	if !flags.GPUEnabled() && !flags.Has(backend.CPU) && !flags.Has(backend.Metal) {
		flags |= backend.CPU
	}

	devices := opts.Devices
	if len(devices) == 0 {
		devices = devicesFor(flags)
	}
	for _, dev := range devices {
		if dev.Speed < 0 {
			return nil, backend.Setup("create context", fmt.Errorf("software: device %q has negative speed", dev.Name))
		}
	}

	shader := opts.Shader
	if shader == nil {
		shader = NewScene(DefaultScene())
	}

	size := opts.EnvCacheSize
	if size <= 0 {
		size = defaultEnvCacheSize
	}

	ctx := &Context{
		flags:      flags,
		devices:    devices,
		devStats:   make([]deviceStats, len(devices)),
		shader:     shader,
		attached:   make(map[aov.AOV]*frameBuffer),
		samples:    1,
		camera:     types.NewCamera(45),
		basisDirty: true,
	}
	ctx.envCache = cache.New[envKey, envTable](size, func(key envKey, _ envTable) {
		logger.Debugf("evicted baked environment (%d entries)", key.size)
	})
	for idx, dev := range devices {
		ctx.devStats[idx].Speed = dev.Speed
	}

	logger.Infof("created context with %d device(s) (flags 0x%x)", len(devices), uint32(flags))
	return ctx, nil
}

func devicesFor(flags backend.CreationFlag) []Device {
	var devices []Device
	if flags.Has(backend.Metal) {
		devices = append(devices, Device{Name: "Simulated Metal device", Speed: 8})
	}
	for i := 0; i < flags.GPUCount(); i++ {
		devices = append(devices, Device{Name: fmt.Sprintf("Simulated GPU %d", i), Speed: 4})
	}
	if flags.Has(backend.CPU) || len(devices) == 0 {
		devices = append(devices, Device{Name: "Host CPU", Speed: 1})
	}
	return devices
}

func (ctx *Context) CreationFlags() backend.CreationFlag {
	return ctx.flags
}

func (ctx *Context) DeviceCount() int {
	return len(ctx.devices)
}

// Devices engaged by this context.
func (ctx *Context) Devices() []Device {
	out := make([]Device, len(ctx.devices))
	copy(out, ctx.devices)
	return out
}

func (ctx *Context) CreateFrameBuffer(desc backend.FrameBufferDesc) (backend.FrameBuffer, error) {
	return ctx.createFrameBuffer(desc, false)
}

func (ctx *Context) CreateGLFrameBuffer(desc backend.FrameBufferDesc) (backend.FrameBuffer, error) {
	if !ctx.flags.Has(backend.GLInterop) {
		return nil, backend.Setup("create gl frame buffer", ErrNoGLInterop)
	}
	return ctx.createFrameBuffer(desc, true)
}

func (ctx *Context) createFrameBuffer(desc backend.FrameBufferDesc, gl bool) (backend.FrameBuffer, error) {
	ctx.Lock()
	defer ctx.Unlock()

	if ctx.closed {
		return nil, backend.Setup("create frame buffer", backend.ErrContextClosed)
	}
	if desc.Component != backend.Float32 {
		return nil, backend.Setup("create frame buffer", ErrUnsupportedComponent)
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Channels == 0 || desc.Channels > 4 {
		return nil, backend.Setup("create frame buffer", fmt.Errorf("software: invalid frame buffer dimensions %dx%dx%d", desc.Width, desc.Height, desc.Channels))
	}

	ctx.stats.FrameBuffersCreated++
	ctx.live++
	return newFrameBuffer(ctx, desc, gl), nil
}

func (ctx *Context) onRelease(fb *frameBuffer) {
	ctx.Lock()
	defer ctx.Unlock()

	ctx.stats.FrameBuffersReleased++
	ctx.live--
	for a, attached := range ctx.attached {
		if attached == fb {
			delete(ctx.attached, a)
		}
	}
}

// Number of frame buffers created and not yet released.
func (ctx *Context) LiveFrameBuffers() int {
	ctx.Lock()
	defer ctx.Unlock()
	return ctx.live
}

func (ctx *Context) AttachAOV(a aov.AOV, fb backend.FrameBuffer) error {
	if !a.Valid() {
		return fmt.Errorf("software: unknown aov %q", a)
	}
	sfb, ok := fb.(*frameBuffer)
	if !ok || sfb.ctx != ctx {
		return ErrForeignFrameBuffer
	}

	ctx.Lock()
	defer ctx.Unlock()

	if ctx.closed {
		return backend.ErrContextClosed
	}
	sfb.mu.Lock()
	released := sfb.released
	sfb.mean = a == aov.ShadowCatcher
	sfb.mu.Unlock()
	if released {
		return backend.ErrBufferReleased
	}

	ctx.attached[a] = sfb
	return nil
}

func (ctx *Context) DetachAOV(a aov.AOV) error {
	ctx.Lock()
	defer ctx.Unlock()

	if _, ok := ctx.attached[a]; !ok {
		return fmt.Errorf("%w: %s", backend.ErrNotAttached, a)
	}
	delete(ctx.attached, a)
	return nil
}

func (ctx *Context) SetSamplesPerStep(samples uint32) error {
	if samples == 0 {
		samples = 1
	}

	ctx.Lock()
	defer ctx.Unlock()
	if ctx.closed {
		return backend.ErrContextClosed
	}
	ctx.samples = samples
	return nil
}

func (ctx *Context) SetCamera(cam types.Camera) error {
	ctx.Lock()
	defer ctx.Unlock()
	if ctx.closed {
		return backend.ErrContextClosed
	}
	ctx.camera = cam
	ctx.basisDirty = true
	return nil
}

// Install a hook that runs before each render call. A non-nil error fails
// the call without touching any frame buffer.
func (ctx *Context) SetRenderHook(hook func(step uint32) error) {
	ctx.Lock()
	ctx.renderHook = hook
	ctx.Unlock()
}

// Get context statistics.
func (ctx *Context) Stats() Stats {
	ctx.Lock()
	stats := ctx.stats
	ctx.Unlock()

	stats.EnvCacheHits, stats.EnvCacheMisses = ctx.envCache.Stats()
	return stats
}

func (ctx *Context) Render() error {
	return ctx.render(nil)
}

func (ctx *Context) RenderTile(xmin, xmax, ymin, ymax uint32) error {
	return ctx.render(&types.PixelRect{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax})
}

func (ctx *Context) render(tile *types.PixelRect) error {
	ctx.Lock()
	defer ctx.Unlock()

	if ctx.closed {
		return backend.ErrContextClosed
	}
	if len(ctx.attached) == 0 {
		return backend.ErrNotAttached
	}

	targets := ctx.sortedTargets()
	res := types.Resolution{Width: targets[0].fb.desc.Width, Height: targets[0].fb.desc.Height}
	for _, t := range targets[1:] {
		if t.fb.desc.Width != res.Width || t.fb.desc.Height != res.Height {
			return fmt.Errorf("%w: aov %s is %dx%d; expected %s", backend.ErrSizeMismatch, t.aov, t.fb.desc.Width, t.fb.desc.Height, res)
		}
	}

	rect := types.PixelRect{XMax: res.Width, YMax: res.Height}
	if tile != nil {
		rect = clampRect(*tile, res)
	}

	step := ctx.step
	ctx.step++
	if ctx.renderHook != nil {
		if err := ctx.renderHook(step); err != nil {
			return err
		}
	}
	if rect.Empty() {
		return nil
	}

	ctx.updateBasis(res)
	if err := ctx.bindEnvironment(); err != nil {
		return err
	}

	for _, t := range targets {
		t.fb.mu.Lock()
		if t.fb.released {
			t.fb.mu.Unlock()
			for _, locked := range targets {
				if locked == t {
					break
				}
				locked.fb.mu.Unlock()
			}
			return fmt.Errorf("%w: aov %s", backend.ErrBufferReleased, t.aov)
		}
	}
	defer func() {
		for _, t := range targets {
			t.fb.mu.Unlock()
		}
	}()

	start := time.Now()
	bands := ctx.scheduler.Schedule(ctx.devStats, rect.YMax-rect.YMin)

	var g errgroup.Group
	y := rect.YMin
	for idx, rows := range bands {
		if rows == 0 {
			continue
		}
		devIdx, y0, y1 := idx, y, y+rows
		y += rows
		g.Go(func() error {
			bandStart := time.Now()
			ctx.renderBand(targets, res, rect.XMin, rect.XMax, y0, y1, step)
			ctx.devStats[devIdx].Rows = y1 - y0
			ctx.devStats[devIdx].RowsTime = time.Since(bandStart)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ctx.stats.LastRenderTime = time.Since(start)
	if tile != nil {
		ctx.stats.TileRenders++
	} else {
		ctx.stats.Renders++
	}
	return nil
}

type renderTarget struct {
	aov aov.AOV
	fb  *frameBuffer
}

func (ctx *Context) sortedTargets() []*renderTarget {
	targets := make([]*renderTarget, 0, len(ctx.attached))
	for a, fb := range ctx.attached {
		targets = append(targets, &renderTarget{aov: a, fb: fb})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].aov < targets[j].aov })
	return targets
}

func clampRect(r types.PixelRect, res types.Resolution) types.PixelRect {
	if r.XMax > res.Width {
		r.XMax = res.Width
	}
	if r.YMax > res.Height {
		r.YMax = res.Height
	}
	return r
}

// Refresh the camera basis if the camera or the frame aspect changed. The
// caller holds the context lock.
func (ctx *Context) updateBasis(res types.Resolution) {
	aspect := res.Aspect()
	if !ctx.basisDirty && aspect == ctx.basisAspect {
		return
	}

	basis, err := ctx.camera.Basis(aspect)
	if err != nil {
		logger.Warning(err.Error())
	}
	ctx.basis = basis
	ctx.basisAspect = aspect
	ctx.basisDirty = false
}

func (ctx *Context) bindEnvironment() error {
	user, ok := ctx.shader.(environmentUser)
	if !ok {
		return nil
	}

	key := envKey{env: user.Environment(), size: envTableSize}
	table, err := ctx.envCache.GetOrCreate(key, func() (envTable, error) {
		return bakeEnvironment(key), nil
	})
	if err != nil {
		return err
	}
	user.useEnvironment(table)
	return nil
}

// Trace rows [y0, y1) of the frame. Each goroutine writes a disjoint set of
// rows so the frame buffer locks held by the caller cover all writers.
func (ctx *Context) renderBand(targets []*renderTarget, res types.Resolution, x0, x1, y0, y1, step uint32) {
	var (
		sample Sample
		sums   = make([]types.Vec4, len(targets))
		count  = float32(ctx.samples)
	)

	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			for i := range sums {
				sums[i] = types.Vec4{}
			}

			for s := uint32(0); s < ctx.samples; s++ {
				u := (float32(px) + jitter(px, py, step, s, 0)) / float32(res.Width)
				v := (float32(py) + jitter(px, py, step, s, 1)) / float32(res.Height)
				origin, dir := ctx.basis.Ray(u, v)

				sample.reset()
				ctx.shader.Shade(Ray{
					Origin:      origin,
					Dir:         dir,
					PixelX:      px,
					PixelY:      py,
					SampleIndex: s,
					Step:        step,
				}, &sample)

				for i, t := range targets {
					val := sample.Get(t.aov)
					for c := 0; c < 4; c++ {
						sums[i][c] += val[c]
					}
				}
			}

			idx := int(py)*int(res.Width) + int(px)
			for i, t := range targets {
				t.fb.accumulate(idx, sums[i], count)
			}
		}
	}
}

func (ctx *Context) Resolve(src, dst backend.FrameBuffer, normalize bool) error {
	s, ok := src.(*frameBuffer)
	if !ok || s.ctx != ctx {
		return ErrForeignFrameBuffer
	}
	d, ok := dst.(*frameBuffer)
	if !ok || d.ctx != ctx {
		return ErrForeignFrameBuffer
	}

	ctx.Lock()
	defer ctx.Unlock()
	if ctx.closed {
		return backend.ErrContextClosed
	}

	if s.desc.Width != d.desc.Width || s.desc.Height != d.desc.Height || s.desc.Channels != d.desc.Channels {
		return fmt.Errorf("%w: resolve %s into %s", backend.ErrSizeMismatch, s.Name(), d.Name())
	}

	ctx.stats.Resolves++
	if s == d {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.released || d.released {
		return backend.ErrBufferReleased
	}
	s.resolveInto(d, normalize)
	return nil
}

// Close the context. Frame buffers remain owned by their creators and must
// still be released.
func (ctx *Context) Close() {
	ctx.Lock()
	if ctx.closed {
		ctx.Unlock()
		return
	}
	ctx.closed = true
	ctx.attached = make(map[aov.AOV]*frameBuffer)
	ctx.Unlock()

	ctx.envCache.Purge()
	logger.Info("context closed")
}
