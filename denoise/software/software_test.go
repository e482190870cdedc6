package software

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achilleasa/lumen/backend"
	rsoftware "github.com/achilleasa/lumen/backend/software"
	"github.com/achilleasa/lumen/denoise/filter"
)

func rgba(w, h uint32) filter.ImageDesc {
	return filter.ImageDesc{Width: w, Height: h, Channels: 4}
}

func fill(desc filter.ImageDesc, fn func(x, y int) [4]float32) []float32 {
	pix := make([]float32, desc.Len())
	for y := 0; y < int(desc.Height); y++ {
		for x := 0; x < int(desc.Width); x++ {
			v := fn(x, y)
			copy(pix[(y*int(desc.Width)+x)*4:], v[:])
		}
	}
	return pix
}

func openCPU(t *testing.T, passThrough bool) *Context {
	ctx, err := NewProvider(Options{PassThrough: passThrough}).Open(filter.CPU, nil)
	require.NoError(t, err)
	return ctx.(*Context)
}

// Run a single filter from src into a new image and return its contents.
func runFilter(t *testing.T, ctx *Context, f filter.Filter, desc filter.ImageDesc, src []float32) []float32 {
	in, err := ctx.CreateImage(desc)
	require.NoError(t, err)
	require.NoError(t, in.Write(src))
	out, err := ctx.CreateImage(desc)
	require.NoError(t, err)

	q, err := ctx.CreateCommandQueue()
	require.NoError(t, err)
	require.NoError(t, q.Attach(f, in, out))
	require.NoError(t, q.Execute())

	pix, err := out.Map()
	require.NoError(t, err)
	res := append([]float32(nil), pix...)
	require.NoError(t, out.Unmap())
	return res
}

func TestProviderKinds(t *testing.T) {
	rctx, err := rsoftware.New(rsoftware.Options{Flags: backend.GPU0})
	require.NoError(t, err)
	defer rctx.Close()

	type spec struct {
		kinds  []filter.ContextKind
		open   filter.ContextKind
		shared backend.Context
		expErr error
	}
	specs := []spec{
		{nil, filter.CPU, nil, nil},
		{nil, filter.OpenCL, rctx, filter.ErrUnavailable},
		{[]filter.ContextKind{filter.OpenCL}, filter.OpenCL, rctx, nil},
		{[]filter.ContextKind{filter.OpenCL}, filter.OpenCL, nil, filter.ErrSharingUnsupported},
		{[]filter.ContextKind{filter.CPU, filter.Metal}, filter.Metal, rctx, nil},
	}

	for index, s := range specs {
		p := NewProvider(Options{Kinds: s.kinds})
		ctx, err := p.Open(s.open, s.shared)
		if s.expErr != nil {
			assert.True(t, errors.Is(err, s.expErr), "[spec %d] expected %v; got %v", index, s.expErr, err)
			continue
		}
		require.NoError(t, err, "[spec %d]", index)
		assert.Equal(t, s.open, ctx.Kind(), "[spec %d]", index)
		assert.Len(t, p.Contexts(), 1, "[spec %d]", index)
	}

	devices := NewProvider(Options{Kinds: []filter.ContextKind{filter.Metal, filter.CPU}}).Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, filter.CPU, devices[0].Kind)
	assert.Equal(t, filter.Metal, devices[1].Kind)
}

func TestFilterParams(t *testing.T) {
	ctx := openCPU(t, false)
	img, err := ctx.CreateImage(rgba(2, 2))
	require.NoError(t, err)

	type spec struct {
		kind filter.Kind
		set  func(f filter.Filter) error
		ok   bool
	}
	specs := []spec{
		{filter.Bilateral, func(f filter.Filter) error { return f.SetUint(filter.ParamRadius, 2) }, true},
		{filter.Bilateral, func(f filter.Filter) error { return f.SetFloat(filter.ParamRadius, 2) }, false},
		{filter.Bilateral, func(f filter.Filter) error { return f.SetFloatArray(filter.ParamSigmas, []float32{1, 2}) }, true},
		{filter.LWR, func(f filter.Filter) error { return f.SetFloat(filter.ParamBandwidth, 0.2) }, true},
		{filter.LWR, func(f filter.Filter) error { return f.SetImage(filter.ParamColorVariance, img) }, true},
		{filter.EAW, func(f filter.Filter) error { return f.SetFloat(filter.ParamColorSigma, 0.75) }, true},
		{filter.EAW, func(f filter.Filter) error { return f.SetFloat(filter.ParamBandwidth, 0.2) }, false},
		{filter.TemporalAccumulator, func(f filter.Filter) error { return f.SetImage(filter.ParamOutVariance, img) }, true},
		{filter.MLAA, func(f filter.Filter) error { return f.SetImage(filter.ParamMeshID, img) }, true},
		{filter.Normalization, func(f filter.Filter) error { return f.SetUint(filter.ParamRadius, 1) }, false},
	}

	for index, s := range specs {
		f, err := ctx.CreateFilter(s.kind)
		require.NoError(t, err, "[spec %d]", index)
		err = s.set(f)
		if s.ok {
			assert.NoError(t, err, "[spec %d]", index)
		} else {
			assert.True(t, errors.Is(err, filter.ErrUnknownParam), "[spec %d] expected ErrUnknownParam; got %v", index, err)
		}
		f.Release()
	}

	other := openCPU(t, false)
	foreign, err := other.CreateImage(rgba(2, 2))
	require.NoError(t, err)
	f, err := ctx.CreateFilter(filter.MLAA)
	require.NoError(t, err)
	assert.Equal(t, ErrForeignResource, f.SetImage(filter.ParamMeshID, foreign))
}

func TestConstantImagesAreFixedPoints(t *testing.T) {
	desc := rgba(6, 5)
	src := fill(desc, func(x, y int) [4]float32 { return [4]float32{0.25, 0.5, 0.75, 1} })

	type spec struct {
		kind  filter.Kind
		setup func(ctx *Context, f filter.Filter)
	}
	specs := []spec{
		{filter.Bilateral, func(ctx *Context, f filter.Filter) {
			require.NoError(t, f.SetUint(filter.ParamRadius, 2))
			require.NoError(t, f.SetFloatArray(filter.ParamSigmas, []float32{0.5}))
		}},
		{filter.LWR, func(ctx *Context, f filter.Filter) {
			require.NoError(t, f.SetUint(filter.ParamHalfWindow, 2))
			require.NoError(t, f.SetUint(filter.ParamSamples, 3))
			require.NoError(t, f.SetFloat(filter.ParamBandwidth, 0.5))
		}},
		{filter.EAW, func(ctx *Context, f filter.Filter) {
			require.NoError(t, f.SetFloat(filter.ParamColorSigma, 0.75))
		}},
		{filter.MLAA, func(ctx *Context, f filter.Filter) {}},
		{filter.TemporalAccumulator, func(ctx *Context, f filter.Filter) {}},
	}

	for index, s := range specs {
		ctx := openCPU(t, false)
		f, err := ctx.CreateFilter(s.kind)
		require.NoError(t, err, "[spec %d]", index)
		s.setup(ctx, f)

		out := runFilter(t, ctx, f, desc, src)
		assert.InDeltaSlice(t, src, out, 1e-5, "[spec %d] %s", index, s.kind)
	}
}

func TestNormalization(t *testing.T) {
	ctx := openCPU(t, false)
	desc := rgba(3, 1)
	src := []float32{
		2, 2, 2, 1,
		4, 4, 4, 1,
		6, 6, 6, 0.5,
	}
	f, err := ctx.CreateFilter(filter.Normalization)
	require.NoError(t, err)

	out := runFilter(t, ctx, f, desc, src)
	assert.InDeltaSlice(t, []float32{
		0, 0, 0, 1,
		0.5, 0.5, 0.5, 1,
		1, 1, 1, 0.5,
	}, out, 1e-6)
}

func TestTemporalAccumulatorVariance(t *testing.T) {
	ctx := openCPU(t, false)
	desc := rgba(2, 1)
	src := []float32{
		0, 0, 0, 1,
		1, 1, 1, 1,
	}

	variance, err := ctx.CreateImage(desc)
	require.NoError(t, err)
	f, err := ctx.CreateFilter(filter.TemporalAccumulator)
	require.NoError(t, err)
	require.NoError(t, f.SetImage(filter.ParamOutVariance, variance))

	out := runFilter(t, ctx, f, desc, src)
	assert.Equal(t, src, out)

	// Both pixels see the same two luminance values 0 and 1
	pix, err := variance.Map()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{
		0.25, 0.25, 0.25, 1,
		0.25, 0.25, 0.25, 1,
	}, pix, 1e-5)
	require.NoError(t, variance.Unmap())
}

func TestMLAABlendsAcrossObjects(t *testing.T) {
	ctx := openCPU(t, false)
	desc := rgba(2, 1)

	ids, err := ctx.CreateImage(desc)
	require.NoError(t, err)
	require.NoError(t, ids.Write([]float32{1, 0, 0, 1, 2, 0, 0, 1}))

	f, err := ctx.CreateFilter(filter.MLAA)
	require.NoError(t, err)
	require.NoError(t, f.SetImage(filter.ParamMeshID, ids))

	out := runFilter(t, ctx, f, desc, []float32{0, 0, 0, 1, 1, 1, 1, 1})
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 1, 1, 1, 1, 1}, out, 1e-6)
}

func TestQueueRunsInAttachOrder(t *testing.T) {
	ctx := openCPU(t, false)
	desc := rgba(3, 1)

	in, err := ctx.CreateImage(desc)
	require.NoError(t, err)
	require.NoError(t, in.Write([]float32{0, 0, 0, 1, 5, 5, 5, 1, 10, 10, 10, 1}))
	mid, err := ctx.CreateImage(desc)
	require.NoError(t, err)
	out, err := ctx.CreateImage(desc)
	require.NoError(t, err)

	norm, err := ctx.CreateFilter(filter.Normalization)
	require.NoError(t, err)
	copyFilter, err := ctx.CreateFilter(filter.MLAA)
	require.NoError(t, err)

	q, err := ctx.CreateCommandQueue()
	require.NoError(t, err)
	require.NoError(t, q.Attach(norm, in, mid))
	require.NoError(t, q.Attach(copyFilter, mid, out))
	assert.Error(t, q.Attach(norm, in, out), "filters may only be attached once")
	assert.Error(t, q.Attach(copyFilter, out, out), "in and out must differ")
	require.NoError(t, q.Execute())

	pix, err := out.Map()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0, 0, 1, 0.5, 0.5, 0.5, 1, 1, 1, 1, 1}, pix, 1e-6)
	require.NoError(t, out.Unmap())
	assert.Equal(t, filter.ErrNotMapped, out.Unmap())

	require.NoError(t, q.Detach(norm))
	assert.Error(t, q.Detach(norm))

	mid.Release()
	assert.True(t, errors.Is(q.Execute(), filter.ErrReleased))
	assert.Equal(t, 1, ctx.Stats().Executions)
}

func TestSharedImagesAliasFrameBuffers(t *testing.T) {
	rctx, err := rsoftware.New(rsoftware.Options{Flags: backend.GPU0})
	require.NoError(t, err)
	defer rctx.Close()

	fb, err := rctx.CreateFrameBuffer(backend.RGBA32(2, 1))
	require.NoError(t, err)
	defer fb.Release()

	cpu := openCPU(t, false)
	_, err = cpu.CreateSharedImage(fb)
	assert.True(t, errors.Is(err, filter.ErrSharingUnsupported))

	fctx, err := NewProvider(Options{Kinds: []filter.ContextKind{filter.OpenCL}}).Open(filter.OpenCL, rctx)
	require.NoError(t, err)
	img, err := fctx.CreateSharedImage(fb)
	require.NoError(t, err)
	assert.Equal(t, fb.Desc().ByteSize(), img.ByteSize())

	require.NoError(t, fb.Write([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	pix, err := img.Map()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, pix)
	require.NoError(t, img.Unmap())

	assert.True(t, errors.Is(img.Write(make([]float32, 8)), ErrReadOnlyImage))
	assert.Equal(t, 1, fctx.(*Context).Stats().SharedImages)
}

func TestPassThrough(t *testing.T) {
	ctx := openCPU(t, true)
	desc := rgba(2, 2)
	src := fill(desc, func(x, y int) [4]float32 { return [4]float32{float32(x), float32(y), 1, 1} })

	f, err := ctx.CreateFilter(filter.Normalization)
	require.NoError(t, err)
	assert.Equal(t, src, runFilter(t, ctx, f, desc, src))

	f.Release()
	f.Release()
	assert.Equal(t, 0, ctx.LiveFilters())
	assert.Equal(t, 2, ctx.LiveImages())
}
