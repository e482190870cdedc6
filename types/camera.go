package types

import (
	"fmt"

	"github.com/chewxy/math32"
)

const (
	degToRad = math32.Pi / 180.0

	minFOV = 1.0
	maxFOV = 179.0
)

// Camera describes the view the renderer backend traces from. It is a plain
// value type; two cameras describe the same view if Equal returns true.
type Camera struct {
	Position Vec3    `toml:"position" yaml:"position"`
	LookAt   Vec3    `toml:"look_at" yaml:"look_at"`
	Up       Vec3    `toml:"up" yaml:"up"`
	FOV      float32 `toml:"fov" yaml:"fov"`
}

// Create a camera at the origin looking down the -Z axis.
func NewCamera(fov float32) Camera {
	return Camera{
		Position: Vec3{0, 0, 0},
		LookAt:   Vec3{0, 0, -1},
		Up:       Vec3{0, 1, 0},
		FOV:      fov,
	}
}

// Equal returns true if both cameras describe the same view.
func (c Camera) Equal(other Camera) bool {
	return c == other
}

func (c Camera) String() string {
	return fmt.Sprintf("eye (%.2f, %.2f, %.2f) look-at (%.2f, %.2f, %.2f) fov %.1f",
		c.Position[0], c.Position[1], c.Position[2],
		c.LookAt[0], c.LookAt[1], c.LookAt[2],
		c.FOV,
	)
}

// Orthonormal camera frame used for generating primary rays.
type CameraBasis struct {
	Origin  Vec3
	Forward Vec3
	Right   Vec3
	Up      Vec3

	// Half extents of the image plane at unit distance.
	HalfW float32
	HalfH float32
}

// Calculate the camera basis for the given image aspect ratio. A degenerate
// camera (eye == target, up parallel to the view direction or a non-finite
// component) yields a basis derived from an identity view transform anchored
// at the camera position, together with an *InvalidTransformError.
func (c Camera) Basis(aspect float32) (CameraBasis, error) {
	var err error

	fov := c.FOV
	if !isFinite(fov) || fov < minFOV || fov > maxFOV {
		fov = 45
	}
	if !isFinite(aspect) || aspect <= 0 {
		aspect = 1
	}

	forward := c.LookAt.Sub(c.Position)
	right := forward.Cross(c.Up)
	if !c.finite() || forward.Len() < floatCmpEpsilon || right.Len() < floatCmpEpsilon {
		err = &InvalidTransformError{Owner: "camera", Reason: "view transform is not invertible"}
		origin := c.Position
		if !c.finite() {
			origin = Vec3{}
		}
		forward, right = Vec3{0, 0, -1}, Vec3{1, 0, 0}
		c = Camera{Position: origin}
	}

	forward = forward.Normalize()
	right = right.Normalize()
	up := right.Cross(forward).Normalize()

	halfH := math32.Tan(fov * degToRad * 0.5)
	return CameraBasis{
		Origin:  c.Position,
		Forward: forward,
		Right:   right,
		Up:      up,
		HalfW:   halfH * aspect,
		HalfH:   halfH,
	}, err
}

// Generate a primary ray for normalized image coordinates u, v in [0, 1].
// v = 0 maps to the bottom of the image.
func (b CameraBasis) Ray(u, v float32) (origin, dir Vec3) {
	px := (2*u - 1) * b.HalfW
	py := (2*v - 1) * b.HalfH
	dir = b.Forward.Add(b.Right.Mul(px)).Add(b.Up.Mul(py)).Normalize()
	return b.Origin, dir
}

func (c Camera) finite() bool {
	for i := 0; i < 3; i++ {
		if !isFinite(c.Position[i]) || !isFinite(c.LookAt[i]) || !isFinite(c.Up[i]) {
			return false
		}
	}
	return true
}
