package types

import "fmt"

// Frame dimensions in pixels.
type Resolution struct {
	Width  uint32 `toml:"width" yaml:"width"`
	Height uint32 `toml:"height" yaml:"height"`
}

// Number of pixels covered by the resolution.
func (r Resolution) Pixels() int {
	return int(r.Width) * int(r.Height)
}

// Aspect ratio (width / height).
func (r Resolution) Aspect() float32 {
	if r.Height == 0 {
		return 1
	}
	return float32(r.Width) / float32(r.Height)
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// A sub-rectangle of the frame in normalized [0, 1] coordinates.
type Region struct {
	MinX float32 `toml:"min_x" yaml:"min_x"`
	MinY float32 `toml:"min_y" yaml:"min_y"`
	MaxX float32 `toml:"max_x" yaml:"max_x"`
	MaxY float32 `toml:"max_y" yaml:"max_y"`
}

// Pixel bounds of a region. Max values are exclusive.
type PixelRect struct {
	XMin, XMax uint32
	YMin, YMax uint32
}

// Empty returns true if the rect covers no pixels.
func (r PixelRect) Empty() bool {
	return r.XMin >= r.XMax || r.YMin >= r.YMax
}

// Map the normalized region to pixel bounds for the given resolution. The
// result is clamped to the frame and always covers at least one pixel when
// the frame is not empty.
func (r Region) Pixels(res Resolution) PixelRect {
	toPixel := func(v float32, size uint32) uint32 {
		if v <= 0 || !isFinite(v) {
			return 0
		}
		if v >= 1 {
			return size
		}
		return uint32(v * float32(size))
	}

	minX, maxX := r.MinX, r.MaxX
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := r.MinY, r.MaxY
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	rect := PixelRect{
		XMin: toPixel(minX, res.Width),
		XMax: toPixel(maxX, res.Width),
		YMin: toPixel(minY, res.Height),
		YMax: toPixel(maxY, res.Height),
	}

	if rect.XMax <= rect.XMin && res.Width > 0 {
		if rect.XMin >= res.Width {
			rect.XMin = res.Width - 1
		}
		rect.XMax = rect.XMin + 1
	}
	if rect.YMax <= rect.YMin && res.Height > 0 {
		if rect.YMin >= res.Height {
			rect.YMin = res.Height - 1
		}
		rect.YMax = rect.YMin + 1
	}
	return rect
}

// Equal reports whether two optional regions are the same. Nil means full frame.
func RegionEqual(a, b *Region) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r Region) String() string {
	return fmt.Sprintf("[%.3f, %.3f] - [%.3f, %.3f]", r.MinX, r.MinY, r.MaxX, r.MaxY)
}
