package software

import (
	"fmt"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/types"
	"github.com/chewxy/math32"
)

const (
	// Shadow catcher values range in [0, shadowCatcherMax].
	shadowCatcherMax = 2.0

	rayEpsilon   = 1e-4
	floatEpsilon = 1e-6
	maxDist      = 1e30
)

// A unit sphere placed in the scene by its transform.
type SphereDesc struct {
	Transform   types.Mat4
	Albedo      types.Vec3
	Emission    types.Vec3
	ObjectID    uint32
	MaterialIdx uint32
}

// A horizontal ground plane.
type GroundDesc struct {
	Height float32
	Albedo types.Vec3

	// Catcher planes are invisible in the color AOV; they only record the
	// shadows and reflections cast onto them.
	ShadowCatcher     bool
	ReflectionCatcher bool
}

// SceneDesc describes the procedural scene rendered by the software backend.
type SceneDesc struct {
	Spheres []SphereDesc
	Ground  *GroundDesc

	SunDir   types.Vec3
	SunColor types.Vec3

	Env Environment
}

// DefaultScene returns three spheres resting on a shadow catcher plane.
func DefaultScene() SceneDesc {
	sphere := func(x, y, z, r float32, albedo types.Vec3, id uint32) SphereDesc {
		return SphereDesc{
			Transform:   types.Translate4(types.XYZ(x, y, z)).Mul4(types.Scale4(types.XYZ(r, r, r))),
			Albedo:      albedo,
			ObjectID:    id,
			MaterialIdx: id,
		}
	}

	return SceneDesc{
		Spheres: []SphereDesc{
			sphere(-1.2, 0.5, -4, 0.5, types.XYZ(0.8, 0.2, 0.2), 1),
			sphere(0, 0.75, -4.5, 0.75, types.XYZ(0.2, 0.8, 0.2), 2),
			sphere(1.3, 0.4, -3.5, 0.4, types.XYZ(0.2, 0.3, 0.9), 3),
		},
		Ground: &GroundDesc{
			Height:        0,
			Albedo:        types.XYZ(0.5, 0.5, 0.5),
			ShadowCatcher: true,
		},
		SunDir:   types.XYZ(-0.4, 1, 0.3),
		SunColor: types.XYZ(1, 0.95, 0.9),
		Env:      DefaultEnvironment(),
	}
}

type sphere struct {
	SphereDesc
	inv types.Mat4
}

// Scene is a Shader that ray traces a SceneDesc.
type Scene struct {
	spheres []sphere
	ground  *GroundDesc

	sunDir   types.Vec3
	sunColor types.Vec3

	env   Environment
	table envTable
}

// NewScene validates the scene description. Spheres with degenerate
// transforms are kept at the origin with an identity transform.
func NewScene(desc SceneDesc) *Scene {
	sc := &Scene{
		spheres:  make([]sphere, 0, len(desc.Spheres)),
		ground:   desc.Ground,
		sunDir:   desc.SunDir.Normalize(),
		sunColor: desc.SunColor,
		env:      desc.Env,
	}

	for idx, sd := range desc.Spheres {
		xform, inv, err := types.SanitizeTransform(fmt.Sprintf("sphere %d", idx), sd.Transform)
		if err != nil {
			logger.Warning(err.Error())
		}
		sd.Transform = xform
		sc.spheres = append(sc.spheres, sphere{SphereDesc: sd, inv: inv})
	}

	return sc
}

// Environment used by the scene. The rendering context bakes it into a
// lookup table before rendering.
func (sc *Scene) Environment() Environment {
	return sc.env
}

func (sc *Scene) useEnvironment(table envTable) {
	sc.table = table
}

type hit struct {
	t        float32
	point    types.Vec3
	normal   types.Vec3
	uv       types.Vec2
	sphere   int
	isGround bool
}

// Find the closest intersection along the ray. The sphere index is -1 for
// ground hits.
func (sc *Scene) intersect(origin, dir types.Vec3, skipCatchers bool) (hit, bool) {
	best := hit{t: maxDist, sphere: -1}
	found := false

	for idx := range sc.spheres {
		sp := &sc.spheres[idx]

		// Intersect unit sphere in object space
		o := sp.inv.TransformPoint(origin)
		d := sp.inv.TransformDir(dir)
		a := d.Dot(d)
		b := o.Dot(d)
		c := o.Dot(o) - 1
		disc := b*b - a*c
		if disc < 0 || a == 0 {
			continue
		}
		sq := math32.Sqrt(disc)
		t := (-b - sq) / a
		if t < rayEpsilon {
			t = (-b + sq) / a
		}
		if t < rayEpsilon || t >= best.t {
			continue
		}

		local := o.Add(d.Mul(t))
		best = hit{
			t:      t,
			point:  origin.Add(dir.Mul(t)),
			normal: transformNormal(sp.inv, local),
			uv: types.Vec2{
				0.5 + math32.Atan2(local[2], local[0])/(2*math32.Pi),
				0.5 - math32.Asin(math32.Max(-1, math32.Min(1, local[1])))/math32.Pi,
			},
			sphere: idx,
		}
		found = true
	}

	if g := sc.ground; g != nil && !(skipCatchers && (g.ShadowCatcher || g.ReflectionCatcher)) {
		if math32.Abs(dir[1]) > floatEpsilon {
			t := (g.Height - origin[1]) / dir[1]
			if t > rayEpsilon && t < best.t {
				p := origin.Add(dir.Mul(t))
				best = hit{
					t:        t,
					point:    p,
					normal:   types.XYZ(0, 1, 0),
					uv:       types.Vec2{p[0] - math32.Floor(p[0]), p[2] - math32.Floor(p[2])},
					sphere:   -1,
					isGround: true,
				}
				found = true
			}
		}
	}

	return best, found
}

// Transform an object space normal to world space using the inverse
// transpose of the object transform.
func transformNormal(inv types.Mat4, n types.Vec3) types.Vec3 {
	return types.XYZ(
		inv[0]*n[0]+inv[4]*n[1]+inv[8]*n[2],
		inv[1]*n[0]+inv[5]*n[1]+inv[9]*n[2],
		inv[2]*n[0]+inv[6]*n[1]+inv[10]*n[2],
	).Normalize()
}

// Fraction of the sun visible from p.
func (sc *Scene) sunVisibility(p, n types.Vec3) float32 {
	if n.Dot(sc.sunDir) <= 0 {
		return 0
	}
	if _, blocked := sc.intersect(p.Add(n.Mul(rayEpsilon*10)), sc.sunDir, true); blocked {
		return 0
	}
	return 1
}

func (sc *Scene) radiance(h hit, albedo types.Vec3) types.Vec3 {
	ambient := sc.table.lookup(h.normal).Mul(0.3)
	direct := sc.sunColor.Mul(math32.Max(0, h.normal.Dot(sc.sunDir)) * sc.sunVisibility(h.point, h.normal))
	return albedo.MulVec(ambient.Add(direct))
}

// Shade fills in every AOV for the ray.
func (sc *Scene) Shade(ray Ray, out *Sample) {
	background := sc.table.lookup(ray.Dir)
	out.Set(aov.Background, background.Vec4(1))

	h, ok := sc.intersect(ray.Origin, ray.Dir, false)
	if !ok {
		out.Set(aov.Color, background.Vec4(1))
		out.Set(aov.Opacity, types.XYZW(0, 0, 0, 1))
		return
	}

	out.Set(aov.WorldCoordinate, h.point.Vec4(1))
	out.Set(aov.GeometricNormal, h.normal.Vec4(1))
	out.Set(aov.ShadingNormal, h.normal.Vec4(1))
	out.Set(aov.UV, types.XYZW(h.uv[0], h.uv[1], 0, 1))
	out.Set(aov.Depth, types.XYZW(h.t, h.t, h.t, 1))

	if h.isGround {
		g := sc.ground
		if g.ShadowCatcher || g.ReflectionCatcher {
			// The catcher plane shows the background in the color AOV
			out.Set(aov.Color, background.Vec4(1))
			out.Set(aov.Opacity, types.XYZW(0, 0, 0, 1))
			if g.ShadowCatcher {
				occlusion := (1 - sc.sunVisibility(h.point, h.normal)) * shadowCatcherMax * 0.75
				out.Set(aov.ShadowCatcher, types.XYZW(occlusion, occlusion, occlusion, 1))
			}
			if g.ReflectionCatcher {
				refl := ray.Dir.Sub(h.normal.Mul(2 * ray.Dir.Dot(h.normal)))
				var r float32
				if _, hitObj := sc.intersect(h.point.Add(h.normal.Mul(rayEpsilon*10)), refl, true); hitObj {
					r = 0.5
				}
				out.Set(aov.ReflectionCatcher, types.XYZW(r, r, r, 1))
			}
			return
		}

		albedo := g.Albedo
		if (int(math32.Floor(h.point[0]))+int(math32.Floor(h.point[2])))&1 == 0 {
			albedo = albedo.Mul(0.6)
		}
		out.Set(aov.Albedo, albedo.Vec4(1))
		out.Set(aov.Color, sc.radiance(h, albedo).Vec4(1))
		out.Set(aov.Opacity, types.XYZW(1, 1, 1, 1))
		return
	}

	sp := &sc.spheres[h.sphere]
	out.Set(aov.Albedo, sp.Albedo.Vec4(1))
	out.Set(aov.Color, sc.radiance(h, sp.Albedo).Add(sp.Emission).Vec4(1))
	out.Set(aov.Opacity, types.XYZW(1, 1, 1, 1))
	out.Set(aov.ObjectID, types.XYZW(float32(sp.ObjectID), 0, 0, 1))
	out.Set(aov.MaterialIdx, types.XYZW(float32(sp.MaterialIdx), 0, 0, 1))
}
