package software

import (
	"github.com/achilleasa/lumen/types"
	"github.com/chewxy/math32"
)

// Default number of entries in a baked environment table.
const envTableSize = 256

// A procedural sky. Environment values are compared by value; two equal
// environments share the same baked lookup table.
type Environment struct {
	Zenith    types.Vec3
	Horizon   types.Vec3
	Ground    types.Vec3
	Intensity float32
}

// DefaultEnvironment returns a pale blue sky over a grey ground.
func DefaultEnvironment() Environment {
	return Environment{
		Zenith:    types.XYZ(0.25, 0.45, 0.85),
		Horizon:   types.XYZ(0.85, 0.9, 1.0),
		Ground:    types.XYZ(0.3, 0.28, 0.25),
		Intensity: 1,
	}
}

type envKey struct {
	env  Environment
	size int
}

// A baked environment indexed by the elevation of the lookup direction.
type envTable []types.Vec3

func bakeEnvironment(key envKey) envTable {
	table := make(envTable, key.size)
	intensity := key.env.Intensity
	if intensity <= 0 || math32.IsNaN(intensity) {
		intensity = 1
	}

	for i := range table {
		// Map index to elevation in [-1, 1]
		y := 2*(float32(i)+0.5)/float32(key.size) - 1
		var c types.Vec3
		if y >= 0 {
			t := math32.Pow(y, 0.5)
			c = key.env.Horizon.Lerp(key.env.Zenith, t)
		} else {
			t := math32.Min(1, -y*4)
			c = key.env.Horizon.Lerp(key.env.Ground, t)
		}
		table[i] = c.Mul(intensity)
	}
	return table
}

// Lookup the environment radiance along dir.
func (t envTable) lookup(dir types.Vec3) types.Vec3 {
	if len(t) == 0 {
		return types.Vec3{}
	}
	y := math32.Max(-1, math32.Min(1, dir[1]))
	idx := int((y + 1) * 0.5 * float32(len(t)))
	if idx >= len(t) {
		idx = len(t) - 1
	}
	return t[idx]
}
