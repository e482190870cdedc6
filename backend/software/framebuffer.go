package software

import (
	"fmt"
	"sync"

	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/types"
)

// A frame buffer living in host memory. Accumulation buffers also track the
// per-pixel sample weight used when resolving.
type frameBuffer struct {
	mu sync.Mutex

	ctx  *Context
	name string
	desc backend.FrameBufferDesc
	gl   bool

	pix    []float32
	weight []float32

	// Self-normalizing buffers keep a running mean instead of a sum.
	mean bool

	released bool
}

func newFrameBuffer(ctx *Context, desc backend.FrameBufferDesc, gl bool) *frameBuffer {
	return &frameBuffer{
		ctx:    ctx,
		name:   fmt.Sprintf("fb-%dx%dx%d", desc.Width, desc.Height, desc.Channels),
		desc:   desc,
		gl:     gl,
		pix:    make([]float32, desc.Len()),
		weight: make([]float32, int(desc.Width)*int(desc.Height)),
	}
}

func (fb *frameBuffer) Name() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.name
}

func (fb *frameBuffer) SetName(name string) {
	fb.mu.Lock()
	fb.name = name
	fb.mu.Unlock()
}

func (fb *frameBuffer) Desc() backend.FrameBufferDesc {
	return fb.desc
}

// Reset contents and sample weights.
func (fb *frameBuffer) Clear() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.released {
		return backend.ErrBufferReleased
	}
	for i := range fb.pix {
		fb.pix[i] = 0
	}
	for i := range fb.weight {
		fb.weight[i] = 0
	}
	return nil
}

func (fb *frameBuffer) Pixels() ([]float32, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.released {
		return nil, backend.ErrBufferReleased
	}
	out := make([]float32, len(fb.pix))
	copy(out, fb.pix)
	return out, nil
}

// Overwrite the buffer contents. Written pixels are treated as resolved
// values with unit weight.
func (fb *frameBuffer) Write(pixels []float32) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.released {
		return backend.ErrBufferReleased
	}
	if len(pixels) != len(fb.pix) {
		return fmt.Errorf("%w: write of %d values into %q (%d values)", backend.ErrSizeMismatch, len(pixels), fb.name, len(fb.pix))
	}
	copy(fb.pix, pixels)
	for i := range fb.weight {
		fb.weight[i] = 1
	}
	return nil
}

// SharedPixels exposes the underlying storage to image filter contexts that
// share memory with the renderer.
func (fb *frameBuffer) SharedPixels() []float32 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.pix
}

func (fb *frameBuffer) Release() {
	fb.mu.Lock()
	if fb.released {
		fb.mu.Unlock()
		return
	}
	fb.released = true
	fb.pix = nil
	fb.weight = nil
	fb.mu.Unlock()

	fb.ctx.onRelease(fb)
}

// Accumulate the sum of count samples into pixel idx. The caller holds fb.mu.
func (fb *frameBuffer) accumulate(idx int, sum types.Vec4, count float32) {
	base := idx * int(fb.desc.Channels)
	channels := int(fb.desc.Channels)
	if channels > 4 {
		channels = 4
	}

	if fb.mean {
		prev := fb.weight[idx]
		total := prev + count
		for c := 0; c < channels; c++ {
			fb.pix[base+c] = (fb.pix[base+c]*prev + sum[c]) / total
		}
		fb.weight[idx] = total
		return
	}

	for c := 0; c < channels; c++ {
		fb.pix[base+c] += sum[c]
	}
	fb.weight[idx] += count
}

// Resolve fb into dst. The caller holds both locks.
func (fb *frameBuffer) resolveInto(dst *frameBuffer, normalize bool) {
	channels := int(fb.desc.Channels)
	if !normalize {
		copy(dst.pix, fb.pix)
		copy(dst.weight, fb.weight)
		return
	}

	for idx, w := range fb.weight {
		base := idx * channels
		if w <= 0 {
			for c := 0; c < channels; c++ {
				dst.pix[base+c] = 0
			}
			dst.weight[idx] = 0
			continue
		}
		scale := 1 / w
		for c := 0; c < channels; c++ {
			dst.pix[base+c] = fb.pix[base+c] * scale
		}
		dst.weight[idx] = 1
	}
}
