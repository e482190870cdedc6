package renderer

import (
	"github.com/achilleasa/lumen/aov"
	"github.com/achilleasa/lumen/cache"
	"github.com/achilleasa/lumen/target"
	"github.com/achilleasa/lumen/types"
)

type imageKey struct {
	aov     aov.AOV
	version uint64
}

// Prepared images keyed by the resolved contents they were built from.
type imageCache struct {
	images *cache.Bounded[imageKey, []float32]
}

func newImageCache() *imageCache {
	return &imageCache{
		images: cache.New[imageKey, []float32](len(aov.All), nil),
	}
}

func (c *imageCache) purge() {
	c.images.Purge()
}

// GetImage returns the resolved pixels of an AOV as a top-down RGBA array.
// For transparent backgrounds the color alpha channel carries the opacity.
// GetImage returns nil if the AOV is not enabled or nothing was resolved
// since the last restart.
func (r *SceneRenderer) GetImage(a aov.AOV) []float32 {
	if r.isClosed() {
		return nil
	}

	r.imageLock.Lock()
	defer r.imageLock.Unlock()

	// Close may have released the targets while we waited
	if r.isClosed() {
		return nil
	}

	state := r.targets.State()
	if state.Resolved == 0 {
		return nil
	}

	key := imageKey{aov: a, version: state.Version}
	pix, err := r.images.images.GetOrCreate(key, func() ([]float32, error) {
		return r.prepareImage(a)
	})
	if err != nil {
		logger.Debugf("image %s unavailable: %v", a, err)
		return nil
	}
	if pix == nil {
		return nil
	}

	out := make([]float32, len(pix))
	copy(out, pix)
	return out
}

func (r *SceneRenderer) prepareImage(a aov.AOV) ([]float32, error) {
	pix, err := r.targets.Image(a)
	if err != nil || pix == nil {
		return nil, err
	}

	if a == aov.Color && r.transparent && r.targets.ColorSupplier() != target.SupplyComposite {
		opacity, err := r.targets.Image(aov.Opacity)
		if err != nil {
			return nil, err
		}
		if len(opacity) == len(pix) {
			for i := 3; i < len(pix); i += 4 {
				pix[i] = opacity[i-3]
			}
		}
	}

	flipRows(pix, r.targets.Resolution())
	return pix, nil
}

// Frame buffers store the bottom row first.
func flipRows(pix []float32, res types.Resolution) {
	stride := int(res.Width) * 4
	rows := int(res.Height)
	if stride == 0 || len(pix) != stride*rows {
		return
	}

	tmp := make([]float32, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		t := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]
		copy(tmp, t)
		copy(t, b)
		copy(b, tmp)
	}
}
