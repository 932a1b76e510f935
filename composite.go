package postfx

import (
	"sync/atomic"

	"github.com/gogpu/postfx/backend"
)

// Node is an element of a pipeline tree: a *Stage or a *Composite.
type Node interface {
	// Name returns the node name, unique within a pipeline.
	Name() string

	// Active reports whether running the node can submit any pass.
	Active() bool

	apply(f *frame, in result) (result, error)
	walk(fn func(Node) error) error
	claim(p *Pipeline) bool
	unclaim(p *Pipeline)
}

// Mode selects how a Composite combines its members.
type Mode uint8

const (
	// Sequential feeds each member's output to the next member.
	Sequential Mode = iota

	// ParallelBlend feeds every member the same input and blends their
	// outputs in one extra pass.
	ParallelBlend
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case ParallelBlend:
		return "parallel"
	}
	return "unknown"
}

// Composite groups stages and other composites. Its members are fixed at
// construction.
type Composite struct {
	name    string
	mode    Mode
	blend   BlendFunc
	members []Node
	owner   atomic.Pointer[Pipeline]
}

// NewSequential returns a composite that runs members in order.
func NewSequential(name string, members ...Node) *Composite {
	return &Composite{name: name, mode: Sequential, members: slicesClone(members)}
}

// NewParallel returns a composite that runs every member on the same input
// and combines the results with blend. A zero blend defaults to BlendAverage.
func NewParallel(name string, blend BlendFunc, members ...Node) *Composite {
	if blend.IsZero() {
		blend = BlendAverage
	}
	return &Composite{name: name, mode: ParallelBlend, blend: blend, members: slicesClone(members)}
}

// Name returns the composite name.
func (c *Composite) Name() string { return c.name }

// Mode returns the composite mode.
func (c *Composite) Mode() Mode { return c.mode }

// Blend returns the blend function of a ParallelBlend composite.
func (c *Composite) Blend() BlendFunc { return c.blend }

// Members returns a copy of the member list.
func (c *Composite) Members() []Node { return slicesClone(c.members) }

// Len returns the number of members.
func (c *Composite) Len() int { return len(c.members) }

// Active reports whether any member is active.
func (c *Composite) Active() bool {
	for _, m := range c.members {
		if m != nil && m.Active() {
			return true
		}
	}
	return false
}

func (c *Composite) apply(f *frame, in result) (result, error) {
	if c.mode == ParallelBlend {
		return c.applyParallel(f, in)
	}
	return c.applySequential(f, in)
}

// applySequential folds the members over the input. An intermediate buffer
// goes back to the pool as soon as its successor exists, so a chain holds
// at most two buffers at a time.
func (c *Composite) applySequential(f *frame, in result) (result, error) {
	cur := in
	for _, m := range c.members {
		out, err := m.apply(f, cur)
		if err != nil {
			if cur.lease != in.lease {
				f.pool.release(cur.lease)
			}
			return in, err
		}
		if cur.lease != in.lease && cur.lease != out.lease {
			f.pool.release(cur.lease)
		}
		cur = out
	}
	return cur, nil
}

// applyParallel runs every member on in and then submits one blend pass.
// Inactive members contribute in itself. When no member renders anything
// the composite is an identity and submits nothing.
func (c *Composite) applyParallel(f *frame, in result) (result, error) {
	if !c.Active() {
		return in, nil
	}

	outs := make([]result, 0, len(c.members))
	releaseOuts := func() {
		for _, o := range outs {
			if o.lease != in.lease {
				f.pool.release(o.lease)
			}
		}
	}

	for _, m := range c.members {
		out, err := m.apply(f, in)
		if err != nil {
			releaseOuts()
			return in, err
		}
		outs = append(outs, out)
	}

	// Members skipped this frame, say on a pending texture, leave in
	// untouched. If none rendered, blending would only mix in with itself.
	rendered := false
	inputs := make([]backend.Texture, len(outs))
	for i, o := range outs {
		inputs[i] = o.tex
		if o.lease != in.lease || o.tex != in.tex {
			rendered = true
		}
	}
	if !rendered {
		return in, nil
	}

	blended, err := f.run(c.blend.src, inputs, nil)
	releaseOuts()
	if err != nil {
		return in, &StageExecutionError{Stage: c.name, Err: err}
	}
	return blended, nil
}

func (c *Composite) walk(fn func(Node) error) error {
	if err := fn(c); err != nil {
		return err
	}
	for _, m := range c.members {
		if m == nil {
			return ErrNilNode
		}
		if err := m.walk(fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) claim(p *Pipeline) bool { return c.owner.CompareAndSwap(nil, p) }

func (c *Composite) unclaim(p *Pipeline) { c.owner.CompareAndSwap(p, nil) }

func slicesClone(nodes []Node) []Node {
	return append([]Node(nil), nodes...)
}
