// Package backend defines the renderer backend consumed by the render core.
// Implementations wrap a native progressive ray tracer; the software
// sub-package provides a CPU reference implementation.
package backend

import (
	"fmt"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/types"
)

type ComponentType uint8

// Supported frame buffer component types.
const (
	Float32 ComponentType = iota
	Float16
	Uint8
)

// Size of a single component in bytes.
func (ct ComponentType) Size() int {
	switch ct {
	case Float16:
		return 2
	case Uint8:
		return 1
	}
	return 4
}

func (ct ComponentType) String() string {
	switch ct {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	}
	return fmt.Sprintf("component(%d)", uint8(ct))
}

// Frame buffer description.
type FrameBufferDesc struct {
	Width     uint32
	Height    uint32
	Channels  uint32
	Component ComponentType
}

// Default description for a 4 channel float frame buffer.
func RGBA32(width, height uint32) FrameBufferDesc {
	return FrameBufferDesc{
		Width:     width,
		Height:    height,
		Channels:  4,
		Component: Float32,
	}
}

// Size of the frame buffer contents in bytes.
func (d FrameBufferDesc) ByteSize() int {
	return int(d.Width) * int(d.Height) * int(d.Channels) * d.Component.Size()
}

// Number of components in the frame buffer.
func (d FrameBufferDesc) Len() int {
	return int(d.Width) * int(d.Height) * int(d.Channels)
}

type CreationFlag uint32

// Context creation flags.
const (
	GPU0 CreationFlag = 1 << iota
	GPU1
	GPU2
	GPU3
	CPU
	GLInterop
	Metal
)

const gpuMask = GPU0 | GPU1 | GPU2 | GPU3

// Has returns true if all bits of flag are set.
func (f CreationFlag) Has(flag CreationFlag) bool {
	return f&flag == flag
}

// GPUEnabled returns true if at least one GPU device is enabled.
func (f CreationFlag) GPUEnabled() bool {
	return f&gpuMask != 0
}

// Number of enabled GPU devices.
func (f CreationFlag) GPUCount() int {
	count := 0
	for bit := GPU0; bit <= GPU3; bit <<= 1 {
		if f&bit != 0 {
			count++
		}
	}
	return count
}

// GPU flags for the first n devices.
func GPUFlags(n int) CreationFlag {
	var f CreationFlag
	for i := 0; i < n && i < 4; i++ {
		f |= GPU0 << uint(i)
	}
	return f
}

// A native frame buffer. Frame buffers are owned by whoever created them and
// must be released explicitly.
type FrameBuffer interface {
	// A name for identifying the buffer in logs.
	Name() string
	SetName(name string)

	Desc() FrameBufferDesc

	// Reset buffer contents to zero.
	Clear() error

	// Copy the buffer contents into a new slice.
	Pixels() ([]float32, error)

	// Overwrite the buffer contents.
	Write(pixels []float32) error

	// Release the native handle. Released buffers may not be used again.
	Release()
}

// SharedMemory is implemented by frame buffers whose storage may be aliased
// by an image filter context sharing memory with the renderer.
type SharedMemory interface {
	SharedPixels() []float32
}

// A renderer context.
type Context interface {
	CreationFlags() CreationFlag

	// Number of compute devices engaged by the context.
	DeviceCount() int

	CreateFrameBuffer(desc FrameBufferDesc) (FrameBuffer, error)

	// Create a frame buffer that can be displayed directly by the host
	// graphics API.
	CreateGLFrameBuffer(desc FrameBufferDesc) (FrameBuffer, error)

	// Attach a frame buffer as the accumulation target for an AOV.
	AttachAOV(a aov.AOV, fb FrameBuffer) error
	DetachAOV(a aov.AOV) error

	// Number of samples accumulated per pixel by each render call.
	SetSamplesPerStep(samples uint32) error

	SetCamera(cam types.Camera) error

	// Accumulate one progressive step over the full frame.
	Render() error

	// Accumulate one progressive step over the pixels in
	// [xmin, xmax) x [ymin, ymax).
	RenderTile(xmin, xmax, ymin, ymax uint32) error

	// Resolve src into dst. When normalize is set the accumulated values are
	// divided by the per-pixel sample weight.
	Resolve(src, dst FrameBuffer, normalize bool) error

	Close()
}
