package software

import (
	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/types"
)

// Number of AOV slots in a Sample; matches len(aov.All).
const sampleSlots = 14

// Slot index for each AOV inside a Sample.
var aovSlot = func() map[aov.AOV]int {
	slots := make(map[aov.AOV]int, len(aov.All))
	for idx, a := range aov.All {
		slots[a] = idx
	}
	return slots
}()

// Sample holds the value produced by a single primary ray for every AOV.
type Sample struct {
	values [sampleSlots]types.Vec4
}

// Set the sample value for an AOV.
func (s *Sample) Set(a aov.AOV, v types.Vec4) {
	if slot, ok := aovSlot[a]; ok {
		s.values[slot] = v
	}
}

// Get the sample value for an AOV.
func (s *Sample) Get(a aov.AOV) types.Vec4 {
	if slot, ok := aovSlot[a]; ok {
		return s.values[slot]
	}
	return types.Vec4{}
}

func (s *Sample) reset() {
	s.values = [sampleSlots]types.Vec4{}
}

// A primary ray together with the pixel it was generated for.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3

	PixelX, PixelY uint32

	// Sample index within the current step and the global step counter.
	SampleIndex uint32
	Step        uint32
}

// Shader evaluates all AOVs for a primary ray.
type Shader interface {
	Shade(ray Ray, out *Sample)
}

// ShaderFunc adapts a plain function to the Shader interface.
type ShaderFunc func(ray Ray, out *Sample)

func (f ShaderFunc) Shade(ray Ray, out *Sample) {
	f(ray, out)
}

// Integer hash (pcg output permutation) used for deterministic jitter.
func hash(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// Deterministic pseudo-random value in [0, 1) for a pixel sample.
func jitter(px, py, step, sample, dim uint32) float32 {
	h := hash(px ^ hash(py^hash(step^hash(sample^hash(dim)))))
	return float32(h>>8) / float32(1<<24)
}
