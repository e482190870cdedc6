package software

import (
	"fmt"
	"runtime"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/achilleasa/lumen/denoise/filter"
)

// A kernel reads in and the node parameters and writes out. The caller
// holds the context lock.
type kernel func(n *node, in, out *image) error

var kernels = map[filter.Kind]kernel{
	filter.Bilateral:           bilateral,
	filter.LWR:                 lwr,
	filter.EAW:                 eaw,
	filter.TemporalAccumulator: temporalAccumulator,
	filter.Normalization:       normalization,
	filter.MLAA:                mlaa,
}

const weightEpsilon = 1e-4

// B3 spline taps of the edge avoiding wavelet.
var eawTaps = [5]float32{1.0 / 16, 1.0 / 4, 3.0 / 8, 1.0 / 4, 1.0 / 16}

// Split the image rows into bands processed in parallel.
func forEachRow(height int, fn func(y int)) error {
	bands := runtime.GOMAXPROCS(0)
	if bands > height {
		bands = height
	}
	if bands < 1 {
		return nil
	}
	rowsPerBand := (height + bands - 1) / bands

	var g errgroup.Group
	for y0 := 0; y0 < height; y0 += rowsPerBand {
		y0, y1 := y0, min(y0+rowsPerBand, height)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				fn(y)
			}
			return nil
		})
	}
	return g.Wait()
}

// Verify that every image has the dimensions of ref.
func checkSizes(ref *image, imgs map[string]*image) error {
	for name, img := range imgs {
		if img.desc.Width != ref.desc.Width || img.desc.Height != ref.desc.Height {
			return fmt.Errorf("parameter %q is %dx%d, expected %dx%d", name,
				img.desc.Width, img.desc.Height, ref.desc.Width, ref.desc.Height,
			)
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Squared distance between the first three channels of a and b.
func dist2(a, b []float32) float32 {
	var d float32
	for c := 0; c < 3 && c < len(a); c++ {
		diff := a[c] - b[c]
		d += diff * diff
	}
	return d
}

func luminance(p []float32) float32 {
	if len(p) < 3 {
		return p[0]
	}
	return 0.2126*p[0] + 0.7152*p[1] + 0.0722*p[2]
}

// Edge stopping weight for a feature distance d.
func edgeStop(d, sigma float32) float32 {
	if sigma <= 0 {
		return 1
	}
	return math32.Exp(-d / math32.Max(sigma*sigma, weightEpsilon))
}

func passThrough(_ *node, in, out *image) error {
	copy(out.pix, in.pix)
	return nil
}

func bilateral(n *node, in, out *image) error {
	inputs := n.imageArrays[filter.ParamInputs]
	sigmas := n.floatArrays[filter.ParamSigmas]
	if len(inputs) == 0 {
		inputs = []*image{in}
	}
	for i, img := range inputs {
		if img.desc != in.desc {
			return fmt.Errorf("input %d does not match the filtered image size", i)
		}
	}
	radius := int(n.uintOr(filter.ParamRadius, 1))
	w, h := int(in.desc.Width), int(in.desc.Height)
	ch := int(in.desc.Channels)

	return forEachRow(h, func(y int) {
		acc := make([]float32, ch)
		for x := 0; x < w; x++ {
			for c := range acc {
				acc[c] = 0
			}
			var wsum float32
			for dy := -radius; dy <= radius; dy++ {
				qy := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					qx := clampInt(x+dx, 0, w-1)
					weight := float32(1)
					for i, img := range inputs {
						if i >= len(sigmas) {
							break
						}
						weight *= edgeStop(dist2(img.at(x, y), img.at(qx, qy)), sigmas[i])
					}
					q := in.at(qx, qy)
					for c := range acc {
						acc[c] += weight * q[c]
					}
					wsum += weight
				}
			}
			dst := out.at(x, y)
			for c := range acc {
				dst[c] = acc[c] / wsum
			}
		}
	})
}

// The software accumulator copies its input and estimates the variance of
// each pixel from its 3x3 neighbourhood.
func temporalAccumulator(n *node, in, out *image) error {
	variance := n.images[filter.ParamOutVariance]
	if variance != nil {
		if err := checkSizes(in, map[string]*image{filter.ParamOutVariance: variance}); err != nil {
			return err
		}
	}
	copy(out.pix, in.pix)
	if variance == nil {
		return nil
	}

	w, h := int(in.desc.Width), int(in.desc.Height)
	return forEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			var sum, sumSq, count float32
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					qx, qy := x+dx, y+dy
					if qx < 0 || qx >= w || qy < 0 || qy >= h {
						continue
					}
					l := luminance(in.at(qx, qy))
					sum += l
					sumSq += l * l
					count++
				}
			}
			mean := sum / count
			v := math32.Max(sumSq/count-mean*mean, 0)
			dst := variance.at(x, y)
			for c := range dst {
				dst[c] = v
			}
			if len(dst) > 3 {
				dst[3] = 1
			}
		}
	})
}

// Remap the rgb channels to [0, 1] using the finite range of the image.
func normalization(_ *node, in, out *image) error {
	ch := int(in.desc.Channels)
	rgb := min(ch, 3)
	lo, hi := math32.Inf(1), math32.Inf(-1)
	for i := 0; i < len(in.pix); i += ch {
		for c := 0; c < rgb; c++ {
			v := in.pix[i+c]
			if math32.IsInf(v, 0) || math32.IsNaN(v) {
				continue
			}
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
	}

	scale := float32(0)
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	for i := 0; i < len(in.pix); i += ch {
		for c := 0; c < ch; c++ {
			v := in.pix[i+c]
			if c < rgb {
				switch {
				case math32.IsNaN(v):
					v = 0
				case math32.IsInf(v, 1):
					v = 1
				case math32.IsInf(v, -1):
					v = 0
				default:
					v = (v - lo) * scale
				}
			}
			out.pix[i+c] = v
		}
	}
	return nil
}

// Blend pixels across object boundaries found in the mesh id image.
func mlaa(n *node, in, out *image) error {
	ids := n.images[filter.ParamMeshID]
	if ids == nil {
		copy(out.pix, in.pix)
		return nil
	}
	if err := checkSizes(in, map[string]*image{filter.ParamMeshID: ids}); err != nil {
		return err
	}

	w, h := int(in.desc.Width), int(in.desc.Height)
	return forEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			src := in.at(x, y)
			dst := out.at(x, y)
			copy(dst, src)

			id := ids.at(x, y)[0]
			var count float32 = 1
			for _, q := range [][2]int{{x + 1, y}, {x, y + 1}} {
				if q[0] >= w || q[1] >= h || math32.Abs(ids.at(q[0], q[1])[0]-id) < 0.5 {
					continue
				}
				nb := in.at(q[0], q[1])
				for c := range dst {
					dst[c] += nb[c]
				}
				count++
			}
			if count > 1 {
				for c := range dst {
					dst[c] /= count
				}
			}
		}
	})
}

func lwr(n *node, in, out *image) error {
	if err := checkSizes(in, n.images); err != nil {
		return err
	}

	halfWindow := int(n.uintOr(filter.ParamHalfWindow, 4))
	samples := int(n.uintOr(filter.ParamSamples, 4))
	bandwidth := n.floatOr(filter.ParamBandwidth, 0.2)

	window := 2*halfWindow + 1
	stride := 1
	if samples > 0 && window > samples {
		stride = window / samples
	}
	// Keep the center pixel on the sampling grid.
	reach := (halfWindow / stride) * stride
	spatial := math32.Max(bandwidth*float32(halfWindow), weightEpsilon)
	spatial = 2 * spatial * spatial

	type feature struct {
		img, variance *image
	}
	features := []feature{
		{in, n.images[filter.ParamColorVariance]},
		{n.images[filter.ParamNormals], n.images[filter.ParamNormalVariance]},
		{n.images[filter.ParamDepth], n.images[filter.ParamDepthVariance]},
		{n.images[filter.ParamTrans], n.images[filter.ParamTransVariance]},
	}

	w, h := int(in.desc.Width), int(in.desc.Height)
	ch := int(in.desc.Channels)
	return forEachRow(h, func(y int) {
		acc := make([]float32, ch)
		for x := 0; x < w; x++ {
			for c := range acc {
				acc[c] = 0
			}
			var wsum float32
			for dy := -reach; dy <= reach; dy += stride {
				qy := clampInt(y+dy, 0, h-1)
				for dx := -reach; dx <= reach; dx += stride {
					qx := clampInt(x+dx, 0, w-1)
					weight := math32.Exp(-float32(dx*dx+dy*dy) / spatial)
					for _, f := range features {
						if f.img == nil {
							continue
						}
						var v float32
						if f.variance != nil {
							v = f.variance.at(x, y)[0]
						}
						d := dist2(f.img.at(x, y), f.img.at(qx, qy))
						weight *= math32.Exp(-d / (2 * (v + weightEpsilon) * float32(window)))
					}
					q := in.at(qx, qy)
					for c := range acc {
						acc[c] += weight * q[c]
					}
					wsum += weight
				}
			}
			dst := out.at(x, y)
			for c := range acc {
				dst[c] = acc[c] / wsum
			}
		}
	})
}

func eaw(n *node, in, out *image) error {
	if err := checkSizes(in, n.images); err != nil {
		return err
	}

	guide := n.images[filter.ParamColorVar]
	if guide == nil {
		guide = in
	}
	normals := n.images[filter.ParamNormals]
	depth := n.images[filter.ParamDepth]
	trans := n.images[filter.ParamTrans]

	colorSigma := n.floatOr(filter.ParamColorSigma, 0)
	normalSigma := n.floatOr(filter.ParamNormalSigma, 0)
	depthSigma := n.floatOr(filter.ParamDepthSigma, 0)
	transSigma := n.floatOr(filter.ParamTransSigma, 0)

	w, h := int(in.desc.Width), int(in.desc.Height)
	ch := int(in.desc.Channels)
	return forEachRow(h, func(y int) {
		acc := make([]float32, ch)
		for x := 0; x < w; x++ {
			for c := range acc {
				acc[c] = 0
			}
			var wsum float32
			for ty, hy := range eawTaps {
				qy := clampInt(y+ty-2, 0, h-1)
				for tx, hx := range eawTaps {
					qx := clampInt(x+tx-2, 0, w-1)

					weight := hx * hy * edgeStop(dist2(guide.at(x, y), guide.at(qx, qy)), colorSigma)
					if normals != nil {
						np, nq := normals.at(x, y), normals.at(qx, qy)
						dot := np[0]*nq[0] + np[1]*nq[1] + np[2]*nq[2]
						weight *= edgeStop(math32.Max(1-dot, 0), normalSigma)
					}
					if depth != nil {
						weight *= edgeStop(math32.Abs(depth.at(x, y)[0]-depth.at(qx, qy)[0]), depthSigma)
					}
					if trans != nil {
						weight *= edgeStop(math32.Abs(trans.at(x, y)[0]-trans.at(qx, qy)[0]), transSigma)
					}

					q := in.at(qx, qy)
					for c := range acc {
						acc[c] += weight * q[c]
					}
					wsum += weight
				}
			}
			dst := out.at(x, y)
			if wsum <= 0 {
				copy(dst, in.at(x, y))
				continue
			}
			for c := range acc {
				dst[c] = acc[c] / wsum
			}
		}
	})
}
