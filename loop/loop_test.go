package loop

import (
	"errors"
	"testing"
	"time"

	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationBudget(t *testing.T) {
	type spec struct {
		configured uint32
		user       uint32
		effective  uint32
		exp        uint32
	}
	specs := []spec{
		{32, 16, 4, 128},
		{32, 16, 16, 32},
		{32, 16, 0, 1},
		{0, 16, 4, 1},
		{1, 1, 4, 1},
		// 10 * 3 / 4 = 7.5 rounds up
		{10, 3, 4, 8},
	}

	for index, s := range specs {
		assert.Equal(t, s.exp, IterationBudget(s.configured, s.user, s.effective), "[spec %d]", index)
	}
}

func TestEffectiveSamples(t *testing.T) {
	assert.Equal(t, uint32(16), EffectiveSamples(4, 16))
	assert.Equal(t, uint32(4), EffectiveSamples(4, 2))
	assert.Equal(t, uint32(2), EffectiveSamples(0, 2))
}

type fakeTarget struct {
	clears    int
	renders   int
	resolves  int
	regions   []*types.Region
	renderErr func(step int) error
	onRender  func()
}

func (ft *fakeTarget) Clear() error {
	ft.clears++
	return nil
}

func (ft *fakeTarget) Render(region *types.Region) error {
	ft.renders++
	ft.regions = append(ft.regions, region)
	if ft.onRender != nil {
		ft.onRender()
	}
	if ft.renderErr != nil {
		return ft.renderErr(ft.renders)
	}
	return nil
}

func (ft *fakeTarget) Resolve() error {
	ft.resolves++
	return nil
}

type fakeSampler struct {
	samples []uint32
}

func (fs *fakeSampler) SetSamplesPerStep(samples uint32) error {
	fs.samples = append(fs.samples, samples)
	return nil
}

func runToCompletion(t *testing.T, l *Loop, maxSteps int) Result {
	for i := 0; i < maxSteps; i++ {
		res, err := l.Step()
		require.NoError(t, err)
		if res.Stopped {
			return res
		}
	}
	t.Fatalf("loop did not stop after %d steps", maxSteps)
	return Result{}
}

func TestIterationLimit(t *testing.T) {
	target := &fakeTarget{}
	sampler := &fakeSampler{}
	l := New(target, sampler, Options{
		Limits:      Limits{Type: IterationLimit, Iterations: 8},
		UserSamples: 2,
		DeviceCount: 4,
	})

	// 4 samples per step satisfy the user target of 8 * 2 samples in 4 steps
	assert.Equal(t, uint32(4), l.UsedIterations())

	require.NoError(t, l.Start())
	assert.Equal(t, []uint32{4}, sampler.samples)
	assert.Equal(t, 1, target.clears)

	res := runToCompletion(t, l, 100)
	assert.Equal(t, IterationBudgetExceeded, res.Reason)
	assert.Equal(t, 4, target.renders)
	assert.Equal(t, 4, target.resolves)
	assert.Equal(t, StoppedByLimit, l.State())

	// Stopped loops keep reporting the stop reason
	res, err := l.Step()
	require.NoError(t, err)
	assert.Equal(t, stopped(IterationBudgetExceeded), res)
	assert.Equal(t, 4, target.renders)
}

func TestTimeLimit(t *testing.T) {
	now := time.Unix(0, 0)
	target := &fakeTarget{onRender: func() { now = now.Add(400 * time.Millisecond) }}
	l := New(target, nil, Options{
		Limits:      Limits{Type: TimeLimit, Time: time.Second},
		UserSamples: 1,
	})
	l.now = func() time.Time { return now }

	require.NoError(t, l.Start())
	res := runToCompletion(t, l, 100)
	assert.Equal(t, TimeBudgetExceeded, res.Reason)
	// Soft bound: 3 steps push the wall clock past the budget
	assert.Equal(t, 3, target.renders)
	assert.Equal(t, 1200*time.Millisecond, l.Stats().Elapsed)
}

func TestTimeLimitIgnoredForRegions(t *testing.T) {
	now := time.Unix(0, 0)
	target := &fakeTarget{onRender: func() { now = now.Add(time.Second) }}
	l := New(target, nil, Options{Limits: Limits{Type: TimeLimit, Time: time.Second}})
	l.now = func() time.Time { return now }
	l.SetRegion(&types.Region{MaxX: 0.5, MaxY: 0.5})

	require.NoError(t, l.Start())
	for i := 0; i < 5; i++ {
		res, err := l.Step()
		require.NoError(t, err)
		require.False(t, res.Stopped)
	}
	require.NotNil(t, target.regions[0])
	assert.Equal(t, float32(0.5), target.regions[0].MaxX)
}

func TestStopRequestWinsOverLimits(t *testing.T) {
	target := &fakeTarget{}
	l := New(target, nil, Options{Limits: Limits{Type: IterationLimit, Iterations: 1}})

	require.NoError(t, l.Start())
	_, err := l.Step()
	require.NoError(t, err)

	l.RequestStop()
	res, err := l.Step()
	require.NoError(t, err)
	assert.Equal(t, StopRequested, res.Reason)
	assert.Equal(t, StoppedByRequest, l.State())

	// A new run clears the request
	require.NoError(t, l.Start())
	res, err = l.Step()
	require.NoError(t, err)
	assert.False(t, res.Stopped)
}

func TestRenderErrorsAreCounted(t *testing.T) {
	target := &fakeTarget{renderErr: func(step int) error {
		if step%2 == 0 {
			return &backend.RenderError{Iteration: uint32(step), Err: errors.New("timeout")}
		}
		return nil
	}}
	l := New(target, nil, Options{Limits: Limits{Type: IterationLimit, Iterations: 4}, UserSamples: 1})

	require.NoError(t, l.Start())
	runToCompletion(t, l, 10)

	stats := l.Stats()
	assert.Equal(t, uint32(4), stats.Steps)
	assert.Equal(t, uint32(2), stats.FailedSteps)
	assert.Equal(t, 4, target.resolves)
}

func TestFatalErrorsAreReturned(t *testing.T) {
	expErr := errors.New("no resolution")
	target := &fakeTarget{renderErr: func(int) error { return expErr }}
	l := New(target, nil, Options{})

	_, err := l.Step()
	assert.Equal(t, ErrNotStarted, err)

	require.NoError(t, l.Start())
	_, err = l.Step()
	assert.Equal(t, expErr, err)
	assert.Equal(t, 0, target.resolves)
}

func TestNoLimitUsesUserSamples(t *testing.T) {
	sampler := &fakeSampler{}
	l := New(&fakeTarget{}, sampler, Options{UserSamples: 3, DeviceCount: 8})
	require.NoError(t, l.Start())

	assert.Equal(t, []uint32{3}, sampler.samples)
	assert.Equal(t, uint32(0), l.UsedIterations())
}
