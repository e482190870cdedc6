// Package config loads render session configuration from TOML or YAML
// files and watches them for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/renderer"
	"github.com/achilleasa/lumen/types"
)

var (
	ErrUnknownFormat = errors.New("config: unsupported configuration file format")
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// The encoding of a configuration file.
type Format uint8

// Supported formats.
const (
	TOML Format = iota
	YAML
)

func (f Format) String() string {
	switch f {
	case TOML:
		return "toml"
	case YAML:
		return "yaml"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// FormatFor detects the format of a configuration file from its extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	}
	return TOML, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Render limits. Type is one of "none", "time" or "iterations".
type LimitConfig struct {
	Type       string `toml:"type" yaml:"type"`
	Time       string `toml:"time" yaml:"time"`
	Iterations uint32 `toml:"iterations" yaml:"iterations"`
}

// Devices engaged by the renderer.
type DeviceConfig struct {
	GPUs      int  `toml:"gpus" yaml:"gpus"`
	CPU       bool `toml:"cpu" yaml:"cpu"`
	Metal     bool `toml:"metal" yaml:"metal"`
	GLInterop bool `toml:"gl_interop" yaml:"gl_interop"`
}

// Config describes a render session.
type Config struct {
	Resolution types.Resolution `toml:"resolution" yaml:"resolution"`

	// Render only a part of the frame; nil renders the full frame.
	Region *types.Region `toml:"region,omitempty" yaml:"region,omitempty"`

	Camera types.Camera `toml:"camera" yaml:"camera"`

	// Samples per pixel accumulated by each step.
	Samples uint32      `toml:"samples" yaml:"samples"`
	Limit   LimitConfig `toml:"limit" yaml:"limit"`

	AOV      aov.Settings     `toml:"aov" yaml:"aov"`
	Denoiser denoise.Settings `toml:"denoiser" yaml:"denoiser"`

	Device DeviceConfig `toml:"device" yaml:"device"`

	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the configuration used for any value missing from a
// configuration file.
func Default() Config {
	return Config{
		Resolution: types.Resolution{Width: 512, Height: 512},
		Camera: types.Camera{
			Position: types.XYZ(0, 1, 4),
			LookAt:   types.XYZ(0, 0.5, 0),
			Up:       types.XYZ(0, 1, 0),
			FOV:      45,
		},
		Samples: 1,
		Limit: LimitConfig{
			Type:       "iterations",
			Iterations: 64,
		},
		AOV:      aov.Settings{Displayed: aov.Color},
		Denoiser: denoise.DefaultSettings(),
		Device:   DeviceConfig{CPU: true},
		LogLevel: "notice",
	}
}

// Load a configuration file. The format is selected by the file extension.
func Load(path string) (Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data, format)
}

// Parse a configuration document on top of the defaults. Unknown keys are
// rejected.
func Parse(data []byte, format Format) (Config, error) {
	cfg := Default()

	switch format {
	case TOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			var strictErr *toml.StrictMissingError
			if errors.As(err, &strictErr) {
				return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strictErr.String())
			}
			return Config{}, fmt.Errorf("config: parse toml: %w", err)
		}
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.Resolution.Width == 0 || c.Resolution.Height == 0 {
		return fmt.Errorf("%w: resolution %s", ErrInvalidConfig, c.Resolution)
	}
	if r := c.Region; r != nil {
		if r.MinX < 0 || r.MinY < 0 || r.MaxX > 1 || r.MaxY > 1 || r.MinX >= r.MaxX || r.MinY >= r.MaxY {
			return fmt.Errorf("%w: region %s", ErrInvalidConfig, r)
		}
	}
	if _, err := c.Limits(); err != nil {
		return err
	}
	for _, a := range c.AOV.Passes {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown aov %q", ErrInvalidConfig, a)
		}
	}
	if c.Device.GPUs < 0 || c.Device.GPUs > 4 {
		return fmt.Errorf("%w: gpu count %d outside [0, 4]", ErrInvalidConfig, c.Device.GPUs)
	}
	if c.Denoiser.Enable {
		if err := c.Denoiser.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Limits converts the limit section into render loop limits.
func (c Config) Limits() (loop.Limits, error) {
	switch strings.ToLower(c.Limit.Type) {
	case "", "none":
		return loop.Limits{Type: loop.NoLimit}, nil
	case "time":
		d, err := time.ParseDuration(c.Limit.Time)
		if err != nil || d <= 0 {
			return loop.Limits{}, fmt.Errorf("%w: time limit %q", ErrInvalidConfig, c.Limit.Time)
		}
		return loop.Limits{Type: loop.TimeLimit, Time: d}, nil
	case "iterations":
		if c.Limit.Iterations == 0 {
			return loop.Limits{}, fmt.Errorf("%w: iteration limit must be positive", ErrInvalidConfig)
		}
		return loop.Limits{Type: loop.IterationLimit, Iterations: c.Limit.Iterations}, nil
	}
	return loop.Limits{}, fmt.Errorf("%w: unknown limit type %q", ErrInvalidConfig, c.Limit.Type)
}

// CreationFlags returns the renderer context flags for the device section.
func (c Config) CreationFlags() backend.CreationFlag {
	flags := backend.GPUFlags(c.Device.GPUs)
	if c.Device.CPU {
		flags |= backend.CPU
	}
	if c.Device.Metal {
		flags |= backend.Metal
	}
	if c.Device.GLInterop {
		flags |= backend.GLInterop
	}
	return flags
}

// Output returns the renderer output settings.
func (c Config) Output() (renderer.OutputSettings, error) {
	limits, err := c.Limits()
	if err != nil {
		return renderer.OutputSettings{}, err
	}
	return renderer.OutputSettings{
		AOV:      c.AOV,
		Denoiser: c.Denoiser,
		Samples:  c.Samples,
		Limits:   limits,
	}, nil
}

// RendererOptions returns the options for creating a scene renderer.
func (c Config) RendererOptions() (renderer.Options, error) {
	out, err := c.Output()
	if err != nil {
		return renderer.Options{}, err
	}
	return renderer.Options{
		Resolution: c.Resolution,
		Camera:     c.Camera,
		Output:     out,
	}, nil
}
