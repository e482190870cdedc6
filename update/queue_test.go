package update

import (
	"errors"
	"sync"
	"testing"

	"github.com/achilleasa/lumen/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	resolutions []types.Resolution
	outputs     []string
	regions     []*types.Region
	cameras     []types.Camera
	order       []string

	resolutionErr error
}

func (ra *recordingApplier) ApplyResolution(res types.Resolution) error {
	if ra.resolutionErr != nil {
		return ra.resolutionErr
	}
	ra.resolutions = append(ra.resolutions, res)
	ra.order = append(ra.order, "resolution")
	return nil
}

func (ra *recordingApplier) ApplyOutput(settings string) error {
	ra.outputs = append(ra.outputs, settings)
	ra.order = append(ra.order, "output")
	return nil
}

func (ra *recordingApplier) ApplyRegion(region *types.Region) error {
	ra.regions = append(ra.regions, region)
	ra.order = append(ra.order, "region")
	return nil
}

func (ra *recordingApplier) ApplyCamera(cam types.Camera) error {
	ra.cameras = append(ra.cameras, cam)
	ra.order = append(ra.order, "camera")
	return nil
}

func newQueue() *Queue[string] {
	return NewQueue(func(a, b string) bool { return a == b })
}

func TestBlockOffer(t *testing.T) {
	type spec struct {
		pending    *int
		committed  int
		next       int
		expPending *int
	}
	val := func(v int) *int { return &v }
	specs := []spec{
		// Nothing pending; new value differs from committed
		{nil, 1, 2, val(2)},
		// Nothing pending; new value equals committed
		{nil, 1, 1, nil},
		// Pending value equals the new one
		{val(2), 1, 2, val(2)},
		// Pending value is overridden
		{val(2), 1, 3, val(3)},
		// Going back to the committed value cancels the pending update
		{val(2), 1, 1, nil},
	}

	for index, s := range specs {
		b := NewBlock(func(a, b int) bool { return a == b })
		if s.pending != nil {
			b.Set(*s.pending)
		}
		b.Offer(s.committed, s.next)

		v, ok := b.Pending()
		if s.expPending == nil {
			assert.False(t, ok, "[spec %d] expected no pending value", index)
			continue
		}
		require.True(t, ok, "[spec %d] expected a pending value", index)
		assert.Equal(t, *s.expPending, v, "[spec %d]", index)
	}
}

func TestResolutionUpdatesCoalesce(t *testing.T) {
	q := newQueue()
	q.UpdateResolution(types.Resolution{Width: 100, Height: 100})
	q.UpdateResolution(types.Resolution{Width: 200, Height: 200})

	ra := &recordingApplier{}
	redraw, err := q.Drain(ra, true)
	require.NoError(t, err)
	assert.True(t, redraw)
	assert.Equal(t, []types.Resolution{{Width: 200, Height: 200}}, ra.resolutions)
	assert.Equal(t, types.Resolution{Width: 200, Height: 200}, q.Resolution())

	// Nothing left to apply and the redraw flag was consumed
	redraw, err = q.Drain(ra, true)
	require.NoError(t, err)
	assert.False(t, redraw)
	assert.Len(t, ra.resolutions, 1)
}

func TestUpdateCancellation(t *testing.T) {
	q := newQueue()
	ra := &recordingApplier{}

	q.UpdateCamera(types.NewCamera(45))
	_, err := q.Drain(ra, true)
	require.NoError(t, err)

	q.UpdateCamera(types.NewCamera(60))
	assert.True(t, q.HasPending())
	q.UpdateCamera(types.NewCamera(45))
	assert.False(t, q.HasPending())

	redraw, err := q.Drain(ra, true)
	require.NoError(t, err)
	assert.False(t, redraw)
	assert.Len(t, ra.cameras, 1)
}

func TestDrainOrderAndRegionCopy(t *testing.T) {
	q := newQueue()
	region := &types.Region{MaxX: 0.5, MaxY: 0.5}

	q.UpdateCamera(types.NewCamera(30))
	q.UpdateRegion(region)
	q.UpdateOutput("depth")
	q.UpdateResolution(types.Resolution{Width: 8, Height: 8})

	// Later changes to the caller's region must not leak into the queue
	region.MaxX = 1

	ra := &recordingApplier{}
	_, err := q.Drain(ra, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"resolution", "output", "region", "camera"}, ra.order)
	assert.Equal(t, float32(0.5), ra.regions[0].MaxX)
	assert.True(t, q.NeedsRedraw())

	// Back to full frame
	q.UpdateRegion(nil)
	_, err = q.Drain(ra, true)
	require.NoError(t, err)
	assert.Nil(t, ra.regions[1])
	assert.Nil(t, q.Region())
	assert.False(t, q.NeedsRedraw())
}

func TestDrainStopsAtFirstError(t *testing.T) {
	q := newQueue()
	expErr := errors.New("out of memory")
	ra := &recordingApplier{resolutionErr: expErr}

	q.UpdateResolution(types.Resolution{Width: 8, Height: 8})
	q.UpdateOutput("depth")

	_, err := q.Drain(ra, true)
	assert.Equal(t, expErr, err)
	assert.Empty(t, ra.outputs)
	assert.Equal(t, types.Resolution{}, q.Resolution())

	// The output update is still pending
	ra.resolutionErr = nil
	_, err = q.Drain(ra, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"depth"}, ra.outputs)
}

func TestConcurrentProducers(t *testing.T) {
	q := newQueue()

	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(w uint32) {
			defer wg.Done()
			q.UpdateResolution(types.Resolution{Width: w, Height: w})
		}(uint32(i))
	}
	wg.Wait()

	ra := &recordingApplier{}
	_, err := q.Drain(ra, true)
	require.NoError(t, err)
	assert.Len(t, ra.resolutions, 1)
}
