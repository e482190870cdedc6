// Package aov enumerates the output channels a renderer backend can
// accumulate and maps host render pass names to them.
package aov

import "sort"

// An AOV (arbitrary output variable) identifies a render output channel.
type AOV string

// Supported AOVs.
const (
	Color             AOV = "default"
	Opacity           AOV = "opacity"
	WorldCoordinate   AOV = "world_coordinate"
	UV                AOV = "uv"
	MaterialIdx       AOV = "material_idx"
	GeometricNormal   AOV = "geometric_normal"
	ShadingNormal     AOV = "shading_normal"
	Depth             AOV = "depth"
	ObjectID          AOV = "object_id"
	Background        AOV = "background"
	ShadowCatcher     AOV = "shadow_catcher"
	ReflectionCatcher AOV = "reflection_catcher"
	Albedo            AOV = "albedo"
	Variance          AOV = "variance"
)

// All lists every known AOV.
var All = []AOV{
	Color, Opacity, WorldCoordinate, UV, MaterialIdx, GeometricNormal,
	ShadingNormal, Depth, ObjectID, Background, ShadowCatcher,
	ReflectionCatcher, Albedo, Variance,
}

// Host pass name to AOV mapping.
var passToAOV = map[string]AOV{
	"Combined":         Color,
	"UV":               UV,
	"Object Index":     ObjectID,
	"Material Index":   MaterialIdx,
	"World Coordinate": WorldCoordinate,
	"Geometric Normal": GeometricNormal,
	"Shading Normal":   ShadingNormal,
	"Z":                Depth,
	"Depth":            Depth,
	"Opacity":          Opacity,
	"Background":       Background,
	"Shadow Catcher":   ShadowCatcher,
	"Albedo":           Albedo,
}

// Valid returns true if a is a known AOV.
func (a AOV) Valid() bool {
	for _, known := range All {
		if a == known {
			return true
		}
	}
	return false
}

func (a AOV) String() string {
	return string(a)
}

// FromPass maps a host pass name to an AOV. An empty pass name refers to the
// combined color pass. The second return value is false for unknown passes.
func FromPass(pass string) (AOV, bool) {
	if pass == "" {
		pass = "Combined"
	}
	a, ok := passToAOV[pass]
	return a, ok
}

// Pass returns the host pass name for an AOV or an empty string.
func (a AOV) Pass() string {
	names := make([]string, 0, 1)
	for pass, candidate := range passToAOV {
		if candidate == a {
			names = append(names, pass)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[len(names)-1]
}
