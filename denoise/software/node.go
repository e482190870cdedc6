package software

import (
	"fmt"

	"github.com/achilleasa/lumen/denoise/filter"
)

type paramType uint8

const (
	floatParam paramType = iota
	uintParam
	imageParam
	imageArrayParam
	floatArrayParam
)

// Parameters accepted by each filter kind.
var params = map[filter.Kind]map[string]paramType{
	filter.Bilateral: {
		filter.ParamInputs:    imageArrayParam,
		filter.ParamInputsNum: uintParam,
		filter.ParamSigmas:    floatArrayParam,
		filter.ParamRadius:    uintParam,
	},
	filter.LWR: {
		filter.ParamSamples:        uintParam,
		filter.ParamHalfWindow:     uintParam,
		filter.ParamBandwidth:      floatParam,
		filter.ParamColorVariance:  imageParam,
		filter.ParamNormals:        imageParam,
		filter.ParamNormalVariance: imageParam,
		filter.ParamDepth:          imageParam,
		filter.ParamDepthVariance:  imageParam,
		filter.ParamTrans:          imageParam,
		filter.ParamTransVariance:  imageParam,
	},
	filter.EAW: {
		filter.ParamNormals:     imageParam,
		filter.ParamTrans:       imageParam,
		filter.ParamDepth:       imageParam,
		filter.ParamColorVar:    imageParam,
		filter.ParamColorSigma:  floatParam,
		filter.ParamNormalSigma: floatParam,
		filter.ParamDepthSigma:  floatParam,
		filter.ParamTransSigma:  floatParam,
	},
	filter.TemporalAccumulator: {
		filter.ParamPositions:   imageParam,
		filter.ParamNormals:     imageParam,
		filter.ParamMeshIDs:     imageParam,
		filter.ParamOutVariance: imageParam,
	},
	filter.Normalization: {},
	filter.MLAA: {
		filter.ParamNormals: imageParam,
		filter.ParamMeshID:  imageParam,
		filter.ParamDepth:   imageParam,
	},
}

// A filter node. Parameter values are stored by name and read by the
// kernel when the queue executes.
type node struct {
	ctx  *Context
	kind filter.Kind
	run  kernel

	floats      map[string]float32
	uints       map[string]uint32
	images      map[string]*image
	imageArrays map[string][]*image
	floatArrays map[string][]float32

	released bool
}

func newNode(ctx *Context, kind filter.Kind, run kernel) *node {
	return &node{
		ctx:         ctx,
		kind:        kind,
		run:         run,
		floats:      make(map[string]float32),
		uints:       make(map[string]uint32),
		images:      make(map[string]*image),
		imageArrays: make(map[string][]*image),
		floatArrays: make(map[string][]float32),
	}
}

func (n *node) Kind() filter.Kind {
	return n.kind
}

// Check that the node accepts a parameter of the given type. The caller
// holds the context lock.
func (n *node) checkParam(name string, typ paramType) error {
	if n.released {
		return filter.ErrReleased
	}
	if t, ok := params[n.kind][name]; !ok || t != typ {
		return fmt.Errorf("%w: %s filter has no parameter %q of this type", filter.ErrUnknownParam, n.kind, name)
	}
	return nil
}

func (n *node) SetFloat(name string, v float32) error {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if err := n.checkParam(name, floatParam); err != nil {
		return err
	}
	n.floats[name] = v
	return nil
}

func (n *node) SetUint(name string, v uint32) error {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if err := n.checkParam(name, uintParam); err != nil {
		return err
	}
	n.uints[name] = v
	return nil
}

func (n *node) SetImage(name string, img filter.Image) error {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if err := n.checkParam(name, imageParam); err != nil {
		return err
	}
	own, err := n.ctx.ownImage(img)
	if err != nil {
		return err
	}
	n.images[name] = own
	return nil
}

func (n *node) SetImageArray(name string, imgs []filter.Image) error {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if err := n.checkParam(name, imageArrayParam); err != nil {
		return err
	}
	list := make([]*image, 0, len(imgs))
	for _, img := range imgs {
		own, err := n.ctx.ownImage(img)
		if err != nil {
			return err
		}
		list = append(list, own)
	}
	n.imageArrays[name] = list
	return nil
}

func (n *node) SetFloatArray(name string, v []float32) error {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if err := n.checkParam(name, floatArrayParam); err != nil {
		return err
	}
	n.floatArrays[name] = append([]float32(nil), v...)
	return nil
}

func (n *node) Release() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if n.released {
		return
	}
	n.released = true
	n.images = nil
	n.imageArrays = nil
	n.ctx.stats.FiltersReleased++
}

// Get a uint parameter or fallback if it was never set.
func (n *node) uintOr(name string, fallback uint32) uint32 {
	if v, ok := n.uints[name]; ok {
		return v
	}
	return fallback
}

func (n *node) floatOr(name string, fallback float32) float32 {
	if v, ok := n.floats[name]; ok {
		return v
	}
	return fallback
}

// Resolve a filter.Image into an image owned by this context. The caller
// holds the context lock.
func (ctx *Context) ownImage(img filter.Image) (*image, error) {
	own, ok := img.(*image)
	if !ok || own.ctx != ctx {
		return nil, ErrForeignResource
	}
	if own.released {
		return nil, filter.ErrReleased
	}
	return own, nil
}
