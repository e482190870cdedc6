// Package filter defines the image filter backend used by the denoise
// engine. A backend exposes filter contexts that create images, filter
// nodes and command queues; filters attached to a queue run in attach
// order each time the queue executes.
package filter

import (
	"errors"
	"fmt"

	"github.com/achilleasa/lumen/backend"
)

var (
	ErrUnavailable        = errors.New("filter: context kind not available")
	ErrSharingUnsupported = errors.New("filter: context cannot share renderer memory")
	ErrReleased           = errors.New("filter: resource has been released")
	ErrUnknownParam       = errors.New("filter: unknown parameter")
	ErrNotMapped          = errors.New("filter: image is not mapped")
)

type ContextKind uint8

// Supported filter context kinds.
const (
	CPU ContextKind = iota
	OpenCL
	Metal
)

func (k ContextKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case OpenCL:
		return "opencl"
	case Metal:
		return "metal"
	}
	return fmt.Sprintf("context(%d)", uint8(k))
}

// Shared returns true if contexts of this kind bind images directly to
// renderer frame buffers.
func (k ContextKind) Shared() bool {
	return k != CPU
}

type Kind uint8

// Filter node kinds.
const (
	Bilateral Kind = iota
	LWR
	EAW
	TemporalAccumulator
	Normalization
	MLAA
)

func (k Kind) String() string {
	switch k {
	case Bilateral:
		return "bilateral"
	case LWR:
		return "lwr"
	case EAW:
		return "eaw"
	case TemporalAccumulator:
		return "temporal_accumulator"
	case Normalization:
		return "normalization"
	case MLAA:
		return "mlaa"
	}
	return fmt.Sprintf("filter(%d)", uint8(k))
}

// Image description. Images always store float32 components.
type ImageDesc struct {
	Width    uint32
	Height   uint32
	Channels uint32
}

// Number of components in the image.
func (d ImageDesc) Len() int {
	return int(d.Width) * int(d.Height) * int(d.Channels)
}

// Size of the image contents in bytes.
func (d ImageDesc) ByteSize() int {
	return d.Len() * 4
}

// An image owned by a filter context.
type Image interface {
	Desc() ImageDesc
	ByteSize() int

	// Overwrite the image contents. Writing to an image that aliases a
	// frame buffer is not allowed.
	Write(pixels []float32) error

	// Map the image contents for reading. The returned slice is only valid
	// until Unmap is called.
	Map() ([]float32, error)
	Unmap() error

	Release()
}

// A filter node.
type Filter interface {
	Kind() Kind

	SetFloat(name string, v float32) error
	SetUint(name string, v uint32) error
	SetImage(name string, img Image) error
	SetImageArray(name string, imgs []Image) error
	SetFloatArray(name string, v []float32) error

	Release()
}

// A queue of filters executed in attach order.
type CommandQueue interface {
	// Attach f so that it reads in and writes out.
	Attach(f Filter, in, out Image) error
	Detach(f Filter) error

	// Run every attached filter once and wait for completion.
	Execute() error

	Release()
}

// A filter context.
type Context interface {
	Kind() ContextKind

	CreateImage(desc ImageDesc) (Image, error)

	// Create an image backed by the memory of a renderer frame buffer.
	// Only supported by shared contexts.
	CreateSharedImage(fb backend.FrameBuffer) (Image, error)

	CreateFilter(kind Kind) (Filter, error)
	CreateCommandQueue() (CommandQueue, error)

	Close()
}

// A device that can host a filter context.
type Device struct {
	Name string
	Kind ContextKind
}

// A Provider opens filter contexts.
type Provider interface {
	Devices() []Device

	// Open a context of the given kind. Shared kinds bind to the memory of
	// the supplied renderer context. Kinds that the provider cannot serve
	// fail with an error wrapping ErrUnavailable.
	Open(kind ContextKind, shared backend.Context) (Context, error)
}

// Parameter names understood by the filter nodes.
const (
	ParamInputs     = "inputs"
	ParamInputsNum  = "inputsNum"
	ParamSigmas     = "sigmas"
	ParamRadius     = "radius"
	ParamSamples    = "samples"
	ParamHalfWindow = "halfWindow"
	ParamBandwidth  = "bandwidth"

	ParamColorVariance  = "vColorImg"
	ParamNormals        = "normalsImg"
	ParamNormalVariance = "vNormalsImg"
	ParamDepth          = "depthImg"
	ParamDepthVariance  = "vDepthImg"
	ParamTrans          = "transImg"
	ParamTransVariance  = "vTransImg"

	ParamPositions   = "positionsImg"
	ParamMeshIDs     = "meshIdsImg"
	ParamMeshID      = "meshIDImg"
	ParamOutVariance = "outVarianceImg"
	ParamColorVar    = "colorVar"

	ParamColorSigma  = "colorSigma"
	ParamNormalSigma = "normalSigma"
	ParamDepthSigma  = "depthSigma"
	ParamTransSigma  = "transSigma"
)
