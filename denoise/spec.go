package denoise

import (
	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/denoise/filter"
)

// A Ref names an image of a filter graph: a bound input AOV, an auxiliary
// image owned by the graph or the graph output.
type Ref string

// The graph output image.
const Output Ref = "@output"

// Reference the image bound to an input AOV.
func Input(a aov.AOV) Ref {
	return Ref(a)
}

// Reference an auxiliary image.
func Aux(name string) Ref {
	return Ref("@" + name)
}

// A filter node of a graph. The node reads In and writes Out when its
// queue executes.
type Node struct {
	Name string
	Kind filter.Kind

	In  Ref
	Out Ref

	Uints       map[string]uint32
	Floats      map[string]float32
	FloatArrays map[string][]float32
	Images      map[string]Ref
	ImageArrays map[string][]Ref
}

// FilterSpec describes the filter graph of a denoiser kind. Nodes are
// attached in the order Aux, Main, Post.
type FilterSpec struct {
	Kind Kind

	// AOVs bound as graph inputs.
	Inputs []aov.AOV

	// Auxiliary images allocated at the output size.
	AuxImages []string

	Aux  []Node
	Main Node
	Post []Node
}

// Nodes returns the graph nodes in attach order.
func (s FilterSpec) Nodes() []Node {
	nodes := make([]Node, 0, len(s.Aux)+1+len(s.Post))
	nodes = append(nodes, s.Aux...)
	nodes = append(nodes, s.Main)
	return append(nodes, s.Post...)
}

// Build the filter spec for a denoiser configuration.
func SpecFor(s Settings) FilterSpec {
	switch s.Kind {
	case Bilateral:
		return bilateralSpec(s.Bilateral)
	case LWR:
		return lwrSpec(s.LWR)
	}
	return eawSpec(s.EAW)
}

var (
	color       = Input(aov.Color)
	normal      = Input(aov.ShadingNormal)
	position    = Input(aov.WorldCoordinate)
	objectID    = Input(aov.ObjectID)
	depth       = Input(aov.Depth)
	auxInputs   = []aov.AOV{aov.Color, aov.ShadingNormal, aov.Depth, aov.ObjectID, aov.WorldCoordinate}
	bilateralIn = []aov.AOV{aov.Color, aov.ShadingNormal, aov.WorldCoordinate, aov.ObjectID}
)

func bilateralSpec(s BilateralSettings) FilterSpec {
	refs := make([]Ref, 0, len(bilateralIn))
	for _, a := range bilateralIn {
		refs = append(refs, Input(a))
	}

	return FilterSpec{
		Kind:   Bilateral,
		Inputs: bilateralIn,
		Main: Node{
			Name: "bilateral",
			Kind: filter.Bilateral,
			In:   color,
			Out:  Output,
			Uints: map[string]uint32{
				filter.ParamInputsNum: uint32(len(refs)),
				filter.ParamRadius:    s.Radius,
			},
			FloatArrays: map[string][]float32{
				filter.ParamSigmas: s.Sigmas(),
			},
			ImageArrays: map[string][]Ref{
				filter.ParamInputs: refs,
			},
		},
	}
}

// A temporal accumulator estimating the variance of in into the named
// auxiliary image.
func varianceNode(name string, in Ref, variance string) Node {
	return Node{
		Name: name,
		Kind: filter.TemporalAccumulator,
		In:   in,
		Out:  Aux(variance),
		Images: map[string]Ref{
			filter.ParamPositions:   position,
			filter.ParamNormals:     normal,
			filter.ParamMeshIDs:     objectID,
			filter.ParamOutVariance: Aux(variance),
		},
	}
}

func lwrSpec(s LWRSettings) FilterSpec {
	return FilterSpec{
		Kind:      LWR,
		Inputs:    auxInputs,
		AuxImages: []string{"trans_variance", "depth_variance", "normal_variance", "color_variance"},
		Aux: []Node{
			varianceNode("trans_variance", objectID, "trans_variance"),
			varianceNode("depth_variance", depth, "depth_variance"),
			varianceNode("normal_variance", normal, "normal_variance"),
			varianceNode("color_variance", color, "color_variance"),
		},
		Main: Node{
			Name: "lwr",
			Kind: filter.LWR,
			In:   color,
			Out:  Output,
			Uints: map[string]uint32{
				filter.ParamSamples:    s.Samples,
				filter.ParamHalfWindow: s.HalfWindow,
			},
			Floats: map[string]float32{
				filter.ParamBandwidth: s.Bandwidth,
			},
			Images: map[string]Ref{
				filter.ParamColorVariance:  Aux("color_variance"),
				filter.ParamNormals:        normal,
				filter.ParamNormalVariance: Aux("normal_variance"),
				filter.ParamDepth:          depth,
				filter.ParamDepthVariance:  Aux("depth_variance"),
				filter.ParamTrans:          objectID,
				filter.ParamTransVariance:  Aux("trans_variance"),
			},
		},
	}
}

// The color accumulator writes straight into the output; the main filter
// then denoises the output into the mlaa image and the mlaa pass writes the
// final result back.
func eawSpec(s EAWSettings) FilterSpec {
	colorVariance := varianceNode("color_variance", color, "color_variance")
	colorVariance.Out = Output

	return FilterSpec{
		Kind:      EAW,
		Inputs:    auxInputs,
		AuxImages: []string{"color_variance", "mlaa", "depth"},
		Aux: []Node{
			{
				Name: "depth_normalization",
				Kind: filter.Normalization,
				In:   depth,
				Out:  Aux("depth"),
			},
			colorVariance,
		},
		Main: Node{
			Name: "eaw",
			Kind: filter.EAW,
			In:   Output,
			Out:  Aux("mlaa"),
			Floats: map[string]float32{
				filter.ParamColorSigma:  s.ColorSigma,
				filter.ParamNormalSigma: s.NormalSigma,
				filter.ParamDepthSigma:  s.DepthSigma,
				filter.ParamTransSigma:  s.TransSigma,
			},
			Images: map[string]Ref{
				filter.ParamNormals:  normal,
				filter.ParamTrans:    objectID,
				filter.ParamDepth:    Aux("depth"),
				filter.ParamColorVar: color,
			},
		},
		Post: []Node{
			{
				Name: "mlaa",
				Kind: filter.MLAA,
				In:   Aux("mlaa"),
				Out:  Output,
				Images: map[string]Ref{
					filter.ParamNormals: normal,
					filter.ParamMeshID:  objectID,
					filter.ParamDepth:   depth,
				},
			},
		},
	}
}
