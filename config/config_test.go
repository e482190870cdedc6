package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise"
	"github.com/achilleasa/lumen/loop"
	"github.com/achilleasa/lumen/types"
)

const tomlDoc = `
samples = 4
log_level = "debug"

[resolution]
width = 320
height = 240

[region]
min_x = 0.25
min_y = 0.25
max_x = 0.75
max_y = 0.75

[camera]
position = [0.0, 1.0, 5.0]
look_at = [0.0, 0.0, 0.0]
up = [0.0, 1.0, 0.0]
fov = 60.0

[limit]
type = "time"
time = "30s"

[aov]
enable = true
passes = ["depth", "shading_normal"]
transparent = true

[denoiser]
enable = true
kind = "lwr"

[denoiser.lwr]
samples = 8
half_window = 6
bandwidth = 0.5

[device]
gpus = 2
cpu = false
`

const yamlDoc = `
samples: 4
log_level: debug
resolution:
  width: 320
  height: 240
region:
  min_x: 0.25
  min_y: 0.25
  max_x: 0.75
  max_y: 0.75
camera:
  position: [0.0, 1.0, 5.0]
  look_at: [0.0, 0.0, 0.0]
  up: [0.0, 1.0, 0.0]
  fov: 60.0
limit:
  type: time
  time: 30s
aov:
  enable: true
  passes: [depth, shading_normal]
  transparent: true
denoiser:
  enable: true
  kind: lwr
  lwr:
    samples: 8
    half_window: 6
    bandwidth: 0.5
device:
  gpus: 2
  cpu: false
`

func expectedConfig() Config {
	cfg := Default()
	cfg.Samples = 4
	cfg.LogLevel = "debug"
	cfg.Resolution = types.Resolution{Width: 320, Height: 240}
	cfg.Region = &types.Region{MinX: 0.25, MinY: 0.25, MaxX: 0.75, MaxY: 0.75}
	cfg.Camera = types.Camera{
		Position: types.XYZ(0, 1, 5),
		LookAt:   types.XYZ(0, 0, 0),
		Up:       types.XYZ(0, 1, 0),
		FOV:      60,
	}
	cfg.Limit = LimitConfig{Type: "time", Time: "30s", Iterations: 64}
	cfg.AOV = aov.Settings{
		Enable:      true,
		Displayed:   aov.Color,
		Passes:      []aov.AOV{aov.Depth, aov.ShadingNormal},
		Transparent: true,
	}
	cfg.Denoiser.Enable = true
	cfg.Denoiser.Kind = denoise.LWR
	cfg.Denoiser.LWR = denoise.LWRSettings{Samples: 8, HalfWindow: 6, Bandwidth: 0.5}
	cfg.Device = DeviceConfig{GPUs: 2}
	return cfg
}

func TestParseFormats(t *testing.T) {
	type spec struct {
		doc    string
		format Format
	}
	specs := []spec{
		{tomlDoc, TOML},
		{yamlDoc, YAML},
	}

	for index, s := range specs {
		cfg, err := Parse([]byte(s.doc), s.format)
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, expectedConfig(), cfg, "[spec %d]", index)
	}
}

func TestEmptyDocumentYieldsDefaults(t *testing.T) {
	for _, format := range []Format{TOML, YAML} {
		cfg, err := Parse(nil, format)
		require.NoError(t, err, format.String())
		assert.Equal(t, Default(), cfg, format.String())
	}
}

func TestFormatFor(t *testing.T) {
	type spec struct {
		path   string
		exp    Format
		expErr bool
	}
	specs := []spec{
		{"scene.toml", TOML, false},
		{"/tmp/scene.TOML", TOML, false},
		{"scene.yaml", YAML, false},
		{"scene.yml", YAML, false},
		{"scene.json", TOML, true},
		{"scene", TOML, true},
	}

	for index, s := range specs {
		format, err := FormatFor(s.path)
		if s.expErr {
			assert.True(t, errors.Is(err, ErrUnknownFormat), "[spec %d] expected ErrUnknownFormat; got %v", index, err)
			continue
		}
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, s.exp, format, "[spec %d]", index)
	}
}

func TestInvalidConfigs(t *testing.T) {
	type spec struct {
		doc         string
		expInvalid  bool
		description string
	}
	specs := []spec{
		{"[resolution]\nwidth = 0", true, "zero width"},
		{"[region]\nmin_x = 0.5\nmax_x = 0.25\nmax_y = 1.0", true, "inverted region"},
		{"[limit]\ntype = \"time\"\ntime = \"soon\"", true, "bad duration"},
		{"[limit]\ntype = \"iterations\"\niterations = 0", true, "zero iterations"},
		{"[limit]\ntype = \"forever\"", true, "unknown limit"},
		{"[aov]\npasses = [\"bogus\"]", true, "unknown aov"},
		{"[device]\ngpus = 5", true, "too many gpus"},
		{"[denoiser]\nenable = true\nkind = \"bilateral\"\n[denoiser.bilateral]\nradius = 0", true, "bad radius"},
		{"log_level = \"chatty\"", true, "bad log level"},
		{"frobnicate = true", true, "unknown key"},
		{"[denoiser]\nkind = \"ml\"", false, "unknown denoiser kind"},
		{"samples = ", false, "syntax error"},
	}

	for index, s := range specs {
		_, err := Parse([]byte(s.doc), TOML)
		require.Error(t, err, "[spec %d] %s", index, s.description)
		if s.expInvalid {
			assert.True(t, errors.Is(err, ErrInvalidConfig), "[spec %d] %s: expected ErrInvalidConfig; got %v", index, s.description, err)
		}
	}
}

func TestLimits(t *testing.T) {
	type spec struct {
		limit LimitConfig
		exp   loop.Limits
	}
	specs := []spec{
		{LimitConfig{}, loop.Limits{Type: loop.NoLimit}},
		{LimitConfig{Type: "none", Iterations: 5}, loop.Limits{Type: loop.NoLimit}},
		{LimitConfig{Type: "Time", Time: "2m"}, loop.Limits{Type: loop.TimeLimit, Time: 2 * time.Minute}},
		{LimitConfig{Type: "iterations", Iterations: 128}, loop.Limits{Type: loop.IterationLimit, Iterations: 128}},
	}

	for index, s := range specs {
		cfg := Default()
		cfg.Limit = s.limit
		limits, err := cfg.Limits()
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, s.exp, limits, "[spec %d]", index)
	}
}

func TestCreationFlags(t *testing.T) {
	type spec struct {
		device DeviceConfig
		exp    backend.CreationFlag
	}
	specs := []spec{
		{DeviceConfig{CPU: true}, backend.CPU},
		{DeviceConfig{GPUs: 2}, backend.GPU0 | backend.GPU1},
		{DeviceConfig{GPUs: 1, CPU: true, GLInterop: true}, backend.GPU0 | backend.CPU | backend.GLInterop},
		{DeviceConfig{Metal: true}, backend.Metal},
	}

	for index, s := range specs {
		cfg := Default()
		cfg.Device = s.device
		assert.Equal(t, s.exp, cfg.CreationFlags(), "[spec %d]", index)
	}
}

func TestRendererOptions(t *testing.T) {
	opts, err := expectedConfig().RendererOptions()
	require.NoError(t, err)

	assert.Equal(t, types.Resolution{Width: 320, Height: 240}, opts.Resolution)
	assert.Equal(t, float32(60), opts.Camera.FOV)
	assert.Equal(t, uint32(4), opts.Output.Samples)
	assert.Equal(t, loop.Limits{Type: loop.TimeLimit, Time: 30 * time.Second}, opts.Output.Limits)
	assert.Equal(t, denoise.LWR, opts.Output.Denoiser.Kind)
	assert.True(t, opts.Output.AOV.Transparent)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, expectedConfig(), cfg)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "expected a not-exist error; got %v", err)
}

// Atomically replace the file contents so the watcher never observes a
// truncated file.
func replace(t *testing.T, path, contents string) {
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(contents), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.toml")
	require.NoError(t, os.WriteFile(path, []byte("samples = 1\n"), 0o644))

	type reload struct {
		cfg Config
		err error
	}
	reloads := make(chan reload, 16)
	w, err := Watch(path, func(cfg Config, err error) {
		reloads <- reload{cfg, err}
	})
	require.NoError(t, err)
	defer w.Close()

	next := func() reload {
		select {
		case r := <-reloads:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for config reload")
		}
		return reload{}
	}

	replace(t, path, "samples = 8\n")
	r := next()
	require.NoError(t, r.err)
	assert.Equal(t, uint32(8), r.cfg.Samples)

	// Parse errors are reported and the watcher keeps running
	replace(t, path, "samples = \"many\"\n")
	r = next()
	assert.Error(t, r.err)

	replace(t, path, "samples = 2\n")
	r = next()
	require.NoError(t, r.err)
	assert.Equal(t, uint32(2), r.cfg.Samples)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
