package software

import (
	"fmt"

	"github.com/achilleasa/lumen/denoise/filter"
)

type image struct {
	ctx  *Context
	desc filter.ImageDesc
	pix  []float32

	// Name of the aliased frame buffer for shared images.
	source string

	mapped   bool
	released bool
}

func (img *image) Desc() filter.ImageDesc {
	return img.desc
}

func (img *image) ByteSize() int {
	return img.desc.ByteSize()
}

func (img *image) Write(pixels []float32) error {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()

	if img.released {
		return filter.ErrReleased
	}
	if img.source != "" {
		return fmt.Errorf("%w: %q", ErrReadOnlyImage, img.source)
	}
	if len(pixels) != len(img.pix) {
		return fmt.Errorf("software: write of %d values into an image of %d values", len(pixels), len(img.pix))
	}
	copy(img.pix, pixels)
	return nil
}

func (img *image) Map() ([]float32, error) {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()

	if img.released {
		return nil, filter.ErrReleased
	}
	img.mapped = true
	return img.pix, nil
}

func (img *image) Unmap() error {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()

	if !img.mapped {
		return filter.ErrNotMapped
	}
	img.mapped = false
	return nil
}

func (img *image) Release() {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()

	if img.released {
		return
	}
	img.released = true
	img.pix = nil
	img.ctx.stats.ImagesReleased++
}

// Pixel accessor for kernels.
func (img *image) at(x, y int) []float32 {
	ch := int(img.desc.Channels)
	idx := (y*int(img.desc.Width) + x) * ch
	return img.pix[idx : idx+ch]
}
