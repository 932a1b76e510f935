package postfx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/postfx/backend"
)

// Pipeline applies a tree of stages to rendered frames.
//
// Apply and Resize are meant to be called from the render goroutine.
// Stage uniforms and enabled flags may be changed from any goroutine.
type Pipeline struct {
	b     backend.Backend
	root  Node
	opts  options
	nodes map[string]Node
	order []Node

	inFlight atomic.Bool

	mu         sync.Mutex
	width      int
	height     int
	pool       *framebufferPool
	last       *lease
	lastOutput backend.Texture
	lastErr    error
	lastWarned string
	destroyed  bool

	frames   uint64
	passes   uint64
	skipped  uint64
	failures uint64
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	// Frames is the number of Apply calls.
	Frames uint64

	// Passes is the number of submitted passes, blend passes included.
	Passes uint64

	// SkippedStages counts stages skipped because a texture was pending.
	SkippedStages uint64

	// Failures counts frames that fell back to their input.
	Failures uint64

	// BufferAllocations and BuffersDestroyed count framebuffer lifetimes.
	BufferAllocations uint64
	BuffersDestroyed  uint64

	// LiveBuffers is the number of framebuffers currently held by the pool,
	// leased or idle.
	LiveBuffers int

	// Generation increases on every resize.
	Generation uint64
}

// NewPipeline creates a pipeline that renders root at width x height on b.
//
// The node tree is validated: names must be non-empty and unique, no node
// may appear twice or belong to another live pipeline, and destroyed stages
// are rejected with ErrStageDestroyed.
func NewPipeline(b backend.Backend, width, height int, root Node, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidViewport, width, height)
	}
	if root == nil {
		return nil, ErrNilNode
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		b:      b,
		root:   root,
		opts:   o,
		nodes:  make(map[string]Node),
		width:  width,
		height: height,
	}
	if err := p.claimTree(); err != nil {
		return nil, err
	}
	p.pool = newFramebufferPool(b, p.log())
	programs.acquire(b)

	if o.logger == nil {
		livePipelines.Store(p, struct{}{})
	}
	propagateLogger(b, p.log())
	p.log().Info("postfx: pipeline created",
		"backend", b.Name(), "width", width, "height", height, "nodes", len(p.order))
	return p, nil
}

func (p *Pipeline) claimTree() error {
	err := p.root.walk(func(n Node) error {
		name := n.Name()
		if name == "" {
			return ErrEmptyName
		}
		if _, dup := p.nodes[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		if c, ok := n.(*Composite); ok && c.mode == ParallelBlend && len(c.members) > MaxBlendInputs {
			return fmt.Errorf("%w: %q has %d, limit %d", ErrTooManyMembers, name, len(c.members), MaxBlendInputs)
		}
		if s, ok := n.(*Stage); ok && s.Destroyed() {
			return fmt.Errorf("%w: %q", ErrStageDestroyed, name)
		}
		if !n.claim(p) {
			return fmt.Errorf("%w: %q", ErrNodeInUse, name)
		}
		p.nodes[name] = n
		p.order = append(p.order, n)
		return nil
	})
	if err != nil {
		p.unclaimTree()
	}
	return err
}

func (p *Pipeline) unclaimTree() {
	for _, n := range p.order {
		n.unclaim(p)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.opts.logger != nil {
		return p.opts.logger
	}
	return Logger()
}

// Apply runs the pipeline on one frame and returns the processed color
// buffer. depth may be nil.
//
// The returned texture is owned by the pipeline and stays valid until the
// next Apply, Resize or Destroy. When no stage is active the input is
// returned untouched. Apply never fails: on error the frame falls back to
// color and the error is reported through the logger, the error handler and
// LastError.
func (p *Pipeline) Apply(color, depth backend.Texture) backend.Texture {
	p.inFlight.Store(true)
	defer p.inFlight.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frames++
	p.lastErr = nil
	if p.destroyed {
		p.fail(ErrPipelineDestroyed)
		return color
	}
	p.releaseLast()

	if color == nil {
		p.fail(fmt.Errorf("%w: nil input", ErrInvalidViewport))
		return color
	}
	if !p.root.Active() {
		return color
	}
	if color.Width() != p.width || color.Height() != p.height {
		if p.opts.fixedViewport {
			p.fail(fmt.Errorf("%w: input %dx%d, viewport %dx%d",
				ErrViewportMismatch, color.Width(), color.Height(), p.width, p.height))
			return color
		}
		if err := validViewport(color.Width(), color.Height()); err != nil {
			p.fail(err)
			return color
		}
		p.resizeLocked(color.Width(), color.Height())
	}

	f := &frame{
		b:      p.b,
		pool:   p.pool,
		loader: p.opts.loader,
		log:    p.log(),
		depth:  depth,
		format: p.opts.format,
		info: backend.FrameInfo{
			Number: p.frames,
			Width:  p.width,
			Height: p.height,
		},
	}
	out, err := p.root.apply(f, result{tex: color})
	p.passes += uint64(f.passes)
	p.skipped += uint64(f.skipped)
	if err != nil {
		p.fail(err)
		return color
	}

	p.last = out.lease
	p.lastOutput = out.tex
	return out.tex
}

// fail records an error that made the frame fall back to its input.
func (p *Pipeline) fail(err error) {
	p.failures++
	p.lastErr = err
	if msg := err.Error(); msg != p.lastWarned {
		p.lastWarned = msg
		p.log().Warn("postfx: frame left unprocessed", "frame", p.frames, "err", err)
	} else {
		p.log().Debug("postfx: frame left unprocessed", "frame", p.frames, "err", err)
	}
	if p.opts.onError != nil {
		p.opts.onError(err)
	}
}

func (p *Pipeline) releaseLast() {
	p.pool.release(p.last)
	p.last = nil
	p.lastOutput = nil
}

// Resize changes the viewport. Every pooled framebuffer is destroyed and
// the output of the previous Apply becomes invalid.
//
// Resize fails with ErrViewportMismatch while an Apply is running.
func (p *Pipeline) Resize(width, height int) error {
	if err := validViewport(width, height); err != nil {
		return err
	}
	if p.inFlight.Load() {
		return ErrViewportMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrPipelineDestroyed
	}
	p.resizeLocked(width, height)
	return nil
}

func (p *Pipeline) resizeLocked(width, height int) {
	if width == p.width && height == p.height {
		return
	}
	p.releaseLast()
	p.pool.invalidate()
	p.log().Debug("postfx: viewport resized",
		"from", fmt.Sprintf("%dx%d", p.width, p.height),
		"to", fmt.Sprintf("%dx%d", width, height),
		"generation", p.pool.gen)
	p.width, p.height = width, height
}

func validViewport(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidViewport, width, height)
	}
	return nil
}

// Destroy releases every framebuffer and destroys all stages of the tree,
// discarding texture loads still in flight. Composites are released and may
// be reused; the stages may not. The backend is not closed.
func (p *Pipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.releaseLast()
	p.pool.invalidate()

	for _, n := range p.order {
		if s, ok := n.(*Stage); ok {
			s.Destroy()
			s.releaseTextures()
		}
	}
	p.unclaimTree()
	livePipelines.Delete(p)
	programs.release(p.b)
}

// Root returns the root node.
func (p *Pipeline) Root() Node { return p.root }

// Backend returns the backend the pipeline renders with.
func (p *Pipeline) Backend() backend.Backend { return p.b }

// Format returns the intermediate framebuffer format.
func (p *Pipeline) Format() gputypes.TextureFormat { return p.opts.format }

// Node returns the node with the given name, or nil.
func (p *Pipeline) Node(name string) Node { return p.nodes[name] }

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	s, _ := p.nodes[name].(*Stage)
	return s
}

// Stages returns every stage in tree order.
func (p *Pipeline) Stages() []*Stage {
	var stages []*Stage
	for _, n := range p.order {
		if s, ok := n.(*Stage); ok {
			stages = append(stages, s)
		}
	}
	return stages
}

// Viewport returns the current viewport size.
func (p *Pipeline) Viewport() (width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// LastOutput returns the result of the previous Apply, or nil after a
// Resize, Destroy or failed frame.
func (p *Pipeline) LastOutput() backend.Texture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOutput
}

// LastError returns the error of the previous Apply, or nil.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Frames:            p.frames,
		Passes:            p.passes,
		SkippedStages:     p.skipped,
		Failures:          p.failures,
		BufferAllocations: p.pool.allocations,
		BuffersDestroyed:  p.pool.destroyed,
		LiveBuffers:       p.pool.leased + p.pool.idle(),
		Generation:        p.pool.gen,
	}
}

// result is a node output. lease is nil when tex is not pool owned.
type result struct {
	tex   backend.Texture
	lease *lease
}

// frame is the per-Apply execution state.
type frame struct {
	b      backend.Backend
	pool   *framebufferPool
	loader TextureLoader
	log    *slog.Logger
	depth  backend.Texture
	format gputypes.TextureFormat
	info   backend.FrameInfo

	passes  int
	skipped int
}

// run compiles src and renders one pass with it. A program the backend
// released behind the cache's back is compiled again, once.
func (f *frame) run(src backend.ProgramSource, inputs []backend.Texture, uniforms []backend.Uniform) (result, error) {
	prog, err := programs.compile(f.b, src, f.log)
	if err != nil {
		return result{}, err
	}
	out, err := f.submit(prog, inputs, uniforms)
	if !errors.Is(err, backend.ErrReleased) {
		return out, err
	}
	programs.forget(f.b, src.Name)
	if prog, err = programs.compile(f.b, src, f.log); err != nil {
		return result{}, err
	}
	return f.submit(prog, inputs, uniforms)
}

// submit renders one pass into a fresh pool buffer.
func (f *frame) submit(prog backend.Program, inputs []backend.Texture, uniforms []backend.Uniform) (result, error) {
	l, err := f.pool.acquire(poolKey{width: f.info.Width, height: f.info.Height, format: f.format})
	if err != nil {
		return result{}, err
	}
	pass := &backend.Pass{
		Program:  prog,
		Inputs:   inputs,
		Depth:    f.depth,
		Uniforms: uniforms,
		Target:   l.fb,
		Frame:    f.info,
	}
	if err := f.b.SubmitFullscreenPass(pass); err != nil {
		f.pool.release(l)
		return result{}, err
	}
	f.passes++
	return result{tex: l.fb, lease: l}, nil
}
