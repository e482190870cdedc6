package software

import (
	"errors"
	"fmt"

	"github.com/achilleasa/lumen/denoise/filter"
)

var errNotAttached = errors.New("software: filter is not attached to this queue")

type stage struct {
	node    *node
	in, out *image
}

type queue struct {
	ctx      *Context
	stages   []stage
	released bool
}

func (q *queue) Attach(f filter.Filter, in, out filter.Image) error {
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()

	if q.released {
		return filter.ErrReleased
	}
	n, ok := f.(*node)
	if !ok || n.ctx != q.ctx {
		return ErrForeignResource
	}
	if n.released {
		return filter.ErrReleased
	}
	src, err := q.ctx.ownImage(in)
	if err != nil {
		return err
	}
	dst, err := q.ctx.ownImage(out)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("software: %s filter cannot read and write the same image", n.kind)
	}
	if src.desc != dst.desc {
		return fmt.Errorf("software: %s filter input %dx%dx%d does not match output %dx%dx%d", n.kind,
			src.desc.Width, src.desc.Height, src.desc.Channels,
			dst.desc.Width, dst.desc.Height, dst.desc.Channels,
		)
	}
	for _, s := range q.stages {
		if s.node == n {
			return fmt.Errorf("software: %s filter is already attached", n.kind)
		}
	}

	q.stages = append(q.stages, stage{node: n, in: src, out: dst})
	return nil
}

func (q *queue) Detach(f filter.Filter) error {
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()

	for i, s := range q.stages {
		if filter.Filter(s.node) == f {
			q.stages = append(q.stages[:i], q.stages[i+1:]...)
			return nil
		}
	}
	return errNotAttached
}

func (q *queue) Execute() error {
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()

	if q.released {
		return filter.ErrReleased
	}
	if q.ctx.closed {
		return ErrContextClosed
	}
	for _, s := range q.stages {
		if s.node.released || s.in.released || s.out.released {
			return fmt.Errorf("%w: %s stage uses a released resource", filter.ErrReleased, s.node.kind)
		}
		if err := s.node.run(s.node, s.in, s.out); err != nil {
			return fmt.Errorf("software: %s filter: %w", s.node.kind, err)
		}
	}
	q.ctx.stats.Executions++
	return nil
}

func (q *queue) Release() {
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()

	q.released = true
	q.stages = nil
}
