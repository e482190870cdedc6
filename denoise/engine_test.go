package denoise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/backend"
	rsoftware "github.com/achilleasa/lumen/backend/software"
	"github.com/achilleasa/lumen/denoise/filter"
	fsoftware "github.com/achilleasa/lumen/denoise/software"
	"github.com/achilleasa/lumen/target"
	"github.com/achilleasa/lumen/types"
)

// Color depends only on the render step; every other AOV stays at zero.
var stepShader = rsoftware.ShaderFunc(func(ray rsoftware.Ray, out *rsoftware.Sample) {
	v := float32(ray.Step + 1)
	out.Set(aov.Color, types.XYZW(v, v, v, 1))
})

func newRenderer(t *testing.T, flags backend.CreationFlag) *rsoftware.Context {
	rctx, err := rsoftware.New(rsoftware.Options{Flags: flags, Shader: stepShader})
	require.NoError(t, err)
	t.Cleanup(rctx.Close)
	return rctx
}

// Allocate resolved-size frame buffers for every AOV in the list.
func frameBuffers(t *testing.T, rctx *rsoftware.Context, w, h uint32, aovs []aov.AOV) map[aov.AOV]backend.FrameBuffer {
	out := make(map[aov.AOV]backend.FrameBuffer, len(aovs))
	for _, a := range aovs {
		fb, err := rctx.CreateFrameBuffer(backend.RGBA32(w, h))
		require.NoError(t, err)
		t.Cleanup(fb.Release)
		out[a] = fb
	}
	return out
}

func settingsFor(kind Kind) Settings {
	s := DefaultSettings()
	s.Enable = true
	s.Kind = kind
	return s
}

func TestSelectBackend(t *testing.T) {
	type spec struct {
		flags     backend.CreationFlag
		available []filter.ContextKind
		exp       filter.ContextKind
		expErr    bool
	}
	specs := []spec{
		{backend.CPU, nil, filter.CPU, false},
		{backend.GPU0, []filter.ContextKind{filter.CPU, filter.OpenCL}, filter.OpenCL, false},
		{backend.GPU0, []filter.ContextKind{filter.CPU}, filter.CPU, false},
		{backend.Metal, []filter.ContextKind{filter.CPU, filter.OpenCL, filter.Metal}, filter.Metal, false},
		{backend.CPU, []filter.ContextKind{filter.OpenCL, filter.Metal}, filter.CPU, true},
		{backend.GPU0 | backend.GPU1, []filter.ContextKind{filter.Metal}, filter.OpenCL, true},
	}

	for index, s := range specs {
		rctx := newRenderer(t, s.flags)
		fctx, err := SelectBackend(rctx, fsoftware.NewProvider(fsoftware.Options{Kinds: s.available}))
		if s.expErr {
			var devErr *DeviceUnavailableError
			require.True(t, errors.As(err, &devErr), "[spec %d] expected DeviceUnavailableError; got %v", index, err)
			assert.Equal(t, s.exp, devErr.Requested, "[spec %d]", index)
			assert.True(t, errors.Is(err, filter.ErrUnavailable), "[spec %d]", index)
			continue
		}
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, s.exp, fctx.Kind(), "[spec %d]", index)
	}
}

func TestFilterSpecs(t *testing.T) {
	type spec struct {
		kind      Kind
		inputs    int
		auxImages int
		nodes     []filter.Kind
	}
	specs := []spec{
		{Bilateral, 4, 0, []filter.Kind{filter.Bilateral}},
		{LWR, 5, 4, []filter.Kind{
			filter.TemporalAccumulator, filter.TemporalAccumulator,
			filter.TemporalAccumulator, filter.TemporalAccumulator,
			filter.LWR,
		}},
		{EAW, 5, 3, []filter.Kind{filter.Normalization, filter.TemporalAccumulator, filter.EAW, filter.MLAA}},
	}

	for index, s := range specs {
		fs := SpecFor(settingsFor(s.kind))
		assert.Equal(t, s.kind, fs.Kind, "[spec %d]", index)
		assert.Len(t, fs.Inputs, s.inputs, "[spec %d]", index)
		assert.Len(t, fs.AuxImages, s.auxImages, "[spec %d]", index)

		var kinds []filter.Kind
		for _, n := range fs.Nodes() {
			kinds = append(kinds, n.Kind)
		}
		assert.Equal(t, s.nodes, kinds, "[spec %d]", index)

		// The graph always ends at the output image
		nodes := fs.Nodes()
		assert.Equal(t, Output, nodes[len(nodes)-1].Out, "[spec %d]", index)
	}

	sigmas := SpecFor(settingsFor(Bilateral)).Main.FloatArrays[filter.ParamSigmas]
	assert.Equal(t, []float32{0.75, 0.01, 0.1, 0.01}, sigmas)
}

func TestUpdateRebuildsOnlyOnKindChange(t *testing.T) {
	rctx := newRenderer(t, backend.CPU)
	provider := fsoftware.NewProvider(fsoftware.Options{PassThrough: true})

	engine, err := New(rctx, provider, settingsFor(EAW))
	require.NoError(t, err)
	defer engine.Close()
	fctx := provider.Contexts()[0]

	inputs := frameBuffers(t, rctx, 4, 4, []aov.AOV{aov.Color, aov.ShadingNormal, aov.Depth, aov.ObjectID, aov.WorldCoordinate})
	require.NoError(t, engine.Bind(inputs, 4, 4))

	// 5 inputs + output + 3 aux images; 4 nodes
	assert.Equal(t, 9, fctx.Stats().ImagesCreated)
	assert.Equal(t, 4, fctx.Stats().FiltersCreated)

	type spec struct {
		update        func(s *Settings)
		expBuilds     int
		expUpdates    int
		imagesCreated int
		liveImages    int
		liveFilters   int
	}
	specs := []spec{
		// parameter change: in place
		{func(s *Settings) { s.EAW.ColorSigma = 0.5 }, 1, 1, 9, 9, 4},
		// no change
		{func(s *Settings) {}, 1, 1, 9, 9, 4},
		// parameters of an inactive kind still count as a change
		{func(s *Settings) { s.LWR.Samples = 8 }, 1, 2, 9, 9, 4},
		// kind change: rebuilt with 5 inputs + output + 4 aux images and 5 nodes
		{func(s *Settings) { s.Kind = LWR }, 2, 2, 19, 10, 5},
		{func(s *Settings) { s.LWR.Bandwidth = 0.5 }, 2, 3, 19, 10, 5},
		// bilateral reads 4 of the bound inputs
		{func(s *Settings) { s.Kind = Bilateral }, 3, 3, 24, 5, 1},
	}

	for index, s := range specs {
		next := engine.Settings()
		s.update(&next)
		require.NoError(t, engine.Update(next), "[spec %d]", index)

		stats := engine.Stats()
		assert.Equal(t, s.expBuilds, stats.Builds, "[spec %d] builds", index)
		assert.Equal(t, s.expUpdates, stats.ParamUpdates, "[spec %d] param updates", index)
		assert.Equal(t, s.imagesCreated, fctx.Stats().ImagesCreated, "[spec %d] images created", index)
		assert.Equal(t, s.liveImages, fctx.LiveImages(), "[spec %d] live images", index)
		assert.Equal(t, s.liveFilters, fctx.LiveFilters(), "[spec %d] live filters", index)
	}

	engine.Unbind()
	assert.Equal(t, 0, fctx.LiveImages())
	assert.Equal(t, 0, fctx.LiveFilters())
}

func TestUpdateRequiringNewInputs(t *testing.T) {
	rctx := newRenderer(t, backend.CPU)
	engine, err := New(rctx, fsoftware.NewProvider(fsoftware.Options{}), settingsFor(Bilateral))
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.Bind(frameBuffers(t, rctx, 2, 2, engine.RequiredAOVs()), 2, 2))
	assert.NotContains(t, engine.RequiredAOVs(), aov.Depth)

	err = engine.Update(settingsFor(EAW))
	assert.True(t, errors.Is(err, ErrRebindRequired), "expected ErrRebindRequired; got %v", err)
	assert.Contains(t, engine.RequiredAOVs(), aov.Depth)
	assert.Equal(t, ErrNotBound, engine.Run())

	require.NoError(t, engine.Bind(frameBuffers(t, rctx, 2, 2, engine.RequiredAOVs()), 2, 2))
	assert.NoError(t, engine.Run())
}

func TestInvalidSettings(t *testing.T) {
	rctx := newRenderer(t, backend.CPU)

	type spec struct {
		update func(s *Settings)
	}
	specs := []spec{
		{func(s *Settings) { s.Kind = Bilateral; s.Bilateral.Radius = 0 }},
		{func(s *Settings) { s.Kind = LWR; s.LWR.Samples = 1 }},
		{func(s *Settings) { s.Kind = LWR; s.LWR.Bandwidth = 2 }},
		{func(s *Settings) { s.Kind = EAW; s.EAW.DepthSigma = -1 }},
		{func(s *Settings) { s.Kind = Kind(42) }},
	}

	for index, s := range specs {
		settings := DefaultSettings()
		s.update(&settings)
		_, err := New(rctx, fsoftware.NewProvider(fsoftware.Options{}), settings)
		assert.Error(t, err, "[spec %d]", index)
	}
}

func TestRunAndOutput(t *testing.T) {
	rctx := newRenderer(t, backend.CPU)
	engine, err := New(rctx, fsoftware.NewProvider(fsoftware.Options{PassThrough: true}), settingsFor(EAW))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Output()
	assert.Equal(t, ErrNotBound, err)

	inputs := frameBuffers(t, rctx, 2, 1, engine.RequiredAOVs())
	require.NoError(t, engine.Bind(inputs, 2, 1))

	_, err = engine.Output()
	assert.Equal(t, ErrRunPending, err)

	require.NoError(t, inputs[aov.Color].Write([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, engine.Run())
	out, err := engine.Output()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, out)

	// A parameter update invalidates the last output
	next := engine.Settings()
	next.EAW.NormalSigma = 0.5
	require.NoError(t, engine.Update(next))
	_, err = engine.Output()
	assert.Equal(t, ErrRunPending, err)
}

func TestRunChecksBufferSizes(t *testing.T) {
	rctx := newRenderer(t, backend.CPU)
	engine, err := New(rctx, fsoftware.NewProvider(fsoftware.Options{}), settingsFor(Bilateral))
	require.NoError(t, err)
	defer engine.Close()

	inputs := frameBuffers(t, rctx, 2, 2, engine.RequiredAOVs())
	inputs[aov.ObjectID] = frameBuffers(t, rctx, 3, 2, []aov.AOV{aov.ObjectID})[aov.ObjectID]
	require.NoError(t, engine.Bind(inputs, 2, 2))

	err = engine.Run()
	var sizeErr *BufferSizeMismatchError
	require.True(t, errors.As(err, &sizeErr), "expected BufferSizeMismatchError; got %v", err)
	assert.Equal(t, aov.ObjectID, sizeErr.AOV)
	assert.Equal(t, 64, sizeErr.ImageBytes)
	assert.Equal(t, 96, sizeErr.BufferBytes)

	_, err = engine.Output()
	assert.Equal(t, ErrRunPending, err)
}

func TestDenoisedAccumulation(t *testing.T) {
	type spec struct {
		flags       backend.CreationFlag
		kinds       []filter.ContextKind
		kind        Kind
		passThrough bool
		expContext  filter.ContextKind
	}
	specs := []spec{
		{backend.CPU, nil, EAW, true, filter.CPU},
		{backend.CPU, nil, EAW, false, filter.CPU},
		{backend.CPU, nil, LWR, false, filter.CPU},
		{backend.GPU0, []filter.ContextKind{filter.OpenCL}, Bilateral, false, filter.OpenCL},
		{backend.GPU0, []filter.ContextKind{filter.OpenCL}, EAW, true, filter.OpenCL},
	}

	const steps = 5
	for index, s := range specs {
		rctx := newRenderer(t, s.flags)
		engine, err := New(rctx, fsoftware.NewProvider(fsoftware.Options{Kinds: s.kinds, PassThrough: s.passThrough}), settingsFor(s.kind))
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, s.expContext, engine.ContextKind(), "[spec %d]", index)

		targets := target.New(rctx)
		require.NoError(t, targets.SetResolution(4, 3), "[spec %d]", index)
		require.NoError(t, targets.EnableDenoiser(engine), "[spec %d]", index)
		assert.Equal(t, target.SupplyDenoiser, targets.ColorSupplier(), "[spec %d]", index)

		for i := 0; i < steps; i++ {
			require.NoError(t, targets.Render(nil), "[spec %d]", index)
		}
		require.NoError(t, targets.Resolve(), "[spec %d]", index)

		pix, err := targets.Image(aov.Color)
		require.NoError(t, err, "[spec %d]", index)
		require.Len(t, pix, 4*3*4, "[spec %d]", index)

		// (1+2+3+4+5)/5
		for i := 0; i < len(pix); i += 4 {
			assert.InDelta(t, 3.0, pix[i], 1e-4, "[spec %d] pixel %d", index, i/4)
			assert.InDelta(t, 3.0, pix[i+2], 1e-4, "[spec %d] pixel %d", index, i/4)
		}

		targets.Close()
		engine.Close()
	}
}
