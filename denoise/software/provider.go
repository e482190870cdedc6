package software

import (
	"fmt"
	"sync"

	"github.com/achilleasa/lumen/backend"
	"github.com/achilleasa/lumen/denoise/filter"
)

// Provider options.
type Options struct {
	// Context kinds the provider can open. Defaults to cpu only.
	Kinds []filter.ContextKind

	// Replace every filter kernel with a plain copy of its input.
	PassThrough bool
}

// Provider is a filter.Provider whose contexts run on the host cpu. Shared
// kinds stand in for gpu contexts bound to renderer memory.
type Provider struct {
	mu sync.Mutex

	available   map[filter.ContextKind]bool
	passThrough bool
	opened      []*Context
}

// Create a new provider.
func NewProvider(opts Options) *Provider {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []filter.ContextKind{filter.CPU}
	}
	p := &Provider{
		available:   make(map[filter.ContextKind]bool, len(kinds)),
		passThrough: opts.PassThrough,
	}
	for _, kind := range kinds {
		p.available[kind] = true
	}
	return p
}

func (p *Provider) Devices() []filter.Device {
	var devices []filter.Device
	for _, kind := range []filter.ContextKind{filter.CPU, filter.OpenCL, filter.Metal} {
		if !p.available[kind] {
			continue
		}
		devices = append(devices, filter.Device{
			Name: fmt.Sprintf("software %s filters", kind),
			Kind: kind,
		})
	}
	return devices
}

func (p *Provider) Open(kind filter.ContextKind, shared backend.Context) (filter.Context, error) {
	if !p.available[kind] {
		return nil, fmt.Errorf("%w: %s", filter.ErrUnavailable, kind)
	}
	if kind.Shared() && shared == nil {
		return nil, fmt.Errorf("%w: no renderer context to share with", filter.ErrSharingUnsupported)
	}

	ctx := newContext(kind, p.passThrough)

	p.mu.Lock()
	p.opened = append(p.opened, ctx)
	p.mu.Unlock()

	logger.Debugf("opened %s filter context", kind)
	return ctx, nil
}

// Contexts returns every context opened by the provider in open order.
func (p *Provider) Contexts() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Context(nil), p.opened...)
}
