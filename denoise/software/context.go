// Package software implements the image filter backend on the host cpu.
// Shared contexts alias the memory of software renderer frame buffers so
// they exercise the same zero-copy path as a gpu filter context.
package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise/filter"
	"github.com/achilleasa/lumen/log"
)

var logger = log.New("software filters")

var (
	ErrContextClosed   = errors.New("software: filter context is closed")
	ErrForeignResource = errors.New("software: resource was not created by this context")
	ErrReadOnlyImage   = errors.New("software: image aliases a renderer frame buffer")
)

// Context statistics.
type Stats struct {
	ImagesCreated  int
	ImagesReleased int
	SharedImages   int

	FiltersCreated  int
	FiltersReleased int

	QueuesCreated int
	Executions    int
}

// Context is a filter.Context that runs filters on the host cpu. All
// resources created by a context share its lock.
type Context struct {
	mu sync.Mutex

	kind        filter.ContextKind
	passThrough bool

	stats  Stats
	closed bool
}

func newContext(kind filter.ContextKind, passThrough bool) *Context {
	return &Context{
		kind:        kind,
		passThrough: passThrough,
	}
}

func (ctx *Context) Kind() filter.ContextKind {
	return ctx.kind
}

// Get a snapshot of the context statistics.
func (ctx *Context) Stats() Stats {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.stats
}

// Number of images that have been created but not yet released.
func (ctx *Context) LiveImages() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.stats.ImagesCreated - ctx.stats.ImagesReleased
}

// Number of filters that have been created but not yet released.
func (ctx *Context) LiveFilters() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.stats.FiltersCreated - ctx.stats.FiltersReleased
}

func (ctx *Context) CreateImage(desc filter.ImageDesc) (filter.Image, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.Channels == 0 {
		return nil, fmt.Errorf("software: invalid image size %dx%dx%d", desc.Width, desc.Height, desc.Channels)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return nil, ErrContextClosed
	}
	ctx.stats.ImagesCreated++
	return &image{
		ctx:  ctx,
		desc: desc,
		pix:  make([]float32, desc.Len()),
	}, nil
}

func (ctx *Context) CreateSharedImage(fb backend.FrameBuffer) (filter.Image, error) {
	if !ctx.kind.Shared() {
		return nil, fmt.Errorf("%w: %s context", filter.ErrSharingUnsupported, ctx.kind)
	}
	mem, ok := fb.(backend.SharedMemory)
	if !ok {
		return nil, fmt.Errorf("%w: frame buffer %q does not expose its memory", filter.ErrSharingUnsupported, fb.Name())
	}

	fbDesc := fb.Desc()
	desc := filter.ImageDesc{Width: fbDesc.Width, Height: fbDesc.Height, Channels: fbDesc.Channels}
	pix := mem.SharedPixels()
	if len(pix) != desc.Len() {
		return nil, fmt.Errorf("%w: frame buffer %q exposes %d values, expected %d", backend.ErrSizeMismatch, fb.Name(), len(pix), desc.Len())
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return nil, ErrContextClosed
	}
	ctx.stats.ImagesCreated++
	ctx.stats.SharedImages++
	return &image{
		ctx:    ctx,
		desc:   desc,
		pix:    pix,
		source: fb.Name(),
	}, nil
}

func (ctx *Context) CreateFilter(kind filter.Kind) (filter.Filter, error) {
	run, ok := kernels[kind]
	if !ok {
		return nil, fmt.Errorf("software: unsupported filter kind %s", kind)
	}
	if ctx.passThrough {
		run = passThrough
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return nil, ErrContextClosed
	}
	ctx.stats.FiltersCreated++
	return newNode(ctx, kind, run), nil
}

func (ctx *Context) CreateCommandQueue() (filter.CommandQueue, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return nil, ErrContextClosed
	}
	ctx.stats.QueuesCreated++
	return &queue{ctx: ctx}, nil
}

// Close the context. Resources that are still alive are reported but not
// reclaimed.
func (ctx *Context) Close() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return
	}
	ctx.closed = true
	if live := ctx.stats.ImagesCreated - ctx.stats.ImagesReleased; live > 0 {
		logger.Warningf("closing %s filter context with %d live images", ctx.kind, live)
	}
}
