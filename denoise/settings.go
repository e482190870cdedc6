package denoise

import (
	"fmt"
	"strings"
)

type Kind uint8

// Supported denoiser families.
const (
	Bilateral Kind = iota
	LWR
	EAW
)

func (k Kind) String() string {
	switch k {
	case Bilateral:
		return "bilateral"
	case LWR:
		return "lwr"
	case EAW:
		return "eaw"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Parse a denoiser kind name.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bilateral":
		return Bilateral, nil
	case "lwr":
		return LWR, nil
	case "", "eaw":
		return EAW, nil
	}
	return EAW, fmt.Errorf("denoise: unknown denoiser kind %q", name)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Bilateral filter parameters.
type BilateralSettings struct {
	Radius uint32 `toml:"radius" yaml:"radius"`

	// Edge stopping sigmas for the color, normal, world coordinate and
	// object id inputs.
	ColorSigma    float32 `toml:"color_sigma" yaml:"color_sigma"`
	NormalSigma   float32 `toml:"normal_sigma" yaml:"normal_sigma"`
	PositionSigma float32 `toml:"position_sigma" yaml:"position_sigma"`
	TransSigma    float32 `toml:"trans_sigma" yaml:"trans_sigma"`
}

// Sigmas in input order.
func (s BilateralSettings) Sigmas() []float32 {
	return []float32{s.ColorSigma, s.NormalSigma, s.PositionSigma, s.TransSigma}
}

// Local weighted regression parameters.
type LWRSettings struct {
	Samples    uint32  `toml:"samples" yaml:"samples"`
	HalfWindow uint32  `toml:"half_window" yaml:"half_window"`
	Bandwidth  float32 `toml:"bandwidth" yaml:"bandwidth"`
}

// Edge avoiding wavelet parameters.
type EAWSettings struct {
	ColorSigma  float32 `toml:"color_sigma" yaml:"color_sigma"`
	NormalSigma float32 `toml:"normal_sigma" yaml:"normal_sigma"`
	DepthSigma  float32 `toml:"depth_sigma" yaml:"depth_sigma"`
	TransSigma  float32 `toml:"trans_sigma" yaml:"trans_sigma"`
}

// Denoiser settings. Only the parameters of the selected kind are used.
type Settings struct {
	Enable bool `toml:"enable" yaml:"enable"`
	Kind   Kind `toml:"kind" yaml:"kind"`

	Bilateral BilateralSettings `toml:"bilateral" yaml:"bilateral"`
	LWR       LWRSettings       `toml:"lwr" yaml:"lwr"`
	EAW       EAWSettings       `toml:"eaw" yaml:"eaw"`
}

// Default settings; denoising starts disabled.
func DefaultSettings() Settings {
	return Settings{
		Kind: EAW,
		Bilateral: BilateralSettings{
			Radius:        1,
			ColorSigma:    0.75,
			NormalSigma:   0.01,
			PositionSigma: 0.1,
			TransSigma:    0.01,
		},
		LWR: LWRSettings{
			Samples:    4,
			HalfWindow: 4,
			Bandwidth:  0.2,
		},
		EAW: EAWSettings{
			ColorSigma:  0.75,
			NormalSigma: 0.01,
			DepthSigma:  0.01,
			TransSigma:  0.01,
		},
	}
}

func (s Settings) Equal(other Settings) bool {
	return s == other
}

// SameKind returns true if switching between s and other only requires a
// parameter update.
func (s Settings) SameKind(other Settings) bool {
	return s.Kind == other.Kind
}

// Validate the parameters of the selected kind.
func (s Settings) Validate() error {
	switch s.Kind {
	case Bilateral:
		if s.Bilateral.Radius < 1 || s.Bilateral.Radius > 50 {
			return fmt.Errorf("denoise: bilateral radius %d outside [1, 50]", s.Bilateral.Radius)
		}
		for _, sigma := range s.Bilateral.Sigmas() {
			if sigma < 0 {
				return fmt.Errorf("denoise: negative bilateral sigma %v", sigma)
			}
		}
	case LWR:
		if s.LWR.Samples < 2 || s.LWR.Samples > 100 {
			return fmt.Errorf("denoise: lwr samples %d outside [2, 100]", s.LWR.Samples)
		}
		if s.LWR.HalfWindow < 1 || s.LWR.HalfWindow > 100 {
			return fmt.Errorf("denoise: lwr half window %d outside [1, 100]", s.LWR.HalfWindow)
		}
		if s.LWR.Bandwidth < 0.1 || s.LWR.Bandwidth > 1 {
			return fmt.Errorf("denoise: lwr bandwidth %v outside [0.1, 1]", s.LWR.Bandwidth)
		}
	case EAW:
		for _, sigma := range []float32{s.EAW.ColorSigma, s.EAW.NormalSigma, s.EAW.DepthSigma, s.EAW.TransSigma} {
			if sigma < 0 {
				return fmt.Errorf("denoise: negative eaw sigma %v", sigma)
			}
		}
	default:
		return fmt.Errorf("denoise: unknown denoiser kind %s", s.Kind)
	}
	return nil
}
