// Package software provides the CPU reference backend.
//
// Programs run as Go kernels (backend.ProgramSource.Kernel), one call per
// output pixel, with rows split across a worker pool. The backend is exact
// and deterministic, which makes it the backend of choice for tests and
// for offline processing of images.
//
// Importing the package registers it under backend.BackendSoftware:
//
//	import _ "github.com/gogpu/postfx/backend/software"
package software

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/postfx/backend"
	"github.com/gogpu/postfx/internal/parallel"
)

func init() {
	backend.Register(backend.BackendSoftware, func() backend.Backend {
		return New()
	})
}

// ErrTargetAliasesInput is returned when a pass would render into one of
// its own inputs.
var ErrTargetAliasesInput = errors.New("software: pass target aliases an input")

// Backend is the CPU implementation of backend.Backend.
type Backend struct {
	mu      sync.Mutex
	workers int
	pool    *parallel.WorkerPool
	log     atomic.Pointer[slog.Logger]

	passes       atomic.Uint64
	created      atomic.Uint64
	destroyed    atomic.Uint64
	liveTextures atomic.Int64
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a software Backend.
type Option func(*Backend)

// WithWorkers sets the number of shading goroutines.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		b.workers = n
	}
}

// New creates a software backend. Call Init before use.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	b.log.Store(slog.New(slog.DiscardHandler))
	return b
}

// Name returns backend.BackendSoftware.
func (b *Backend) Name() string {
	return backend.BackendSoftware
}

// SetLogger sets the logger used for diagnostics.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	b.log.Store(l)
}

func (b *Backend) logger() *slog.Logger {
	return b.log.Load()
}

// Init starts the worker pool. Calling Init twice is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		b.pool = parallel.NewWorkerPool(b.workers)
		b.logger().Debug("software: initialized", "workers", b.pool.Workers())
	}
	return nil
}

// Close stops the worker pool.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
}

// Stats reports resource and submission counters.
type Stats struct {
	// Passes is the number of passes executed.
	Passes uint64

	// FramebuffersCreated and FramebuffersDestroyed count render targets.
	FramebuffersCreated   uint64
	FramebuffersDestroyed uint64

	// LiveTextures is the number of uploaded textures not yet destroyed.
	LiveTextures int64
}

// LiveFramebuffers returns the number of framebuffers not yet destroyed.
func (s Stats) LiveFramebuffers() int64 {
	return int64(s.FramebuffersCreated) - int64(s.FramebuffersDestroyed) //nolint:gosec // counters stay far below int64 range
}

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Passes:                b.passes.Load(),
		FramebuffersCreated:   b.created.Load(),
		FramebuffersDestroyed: b.destroyed.Load(),
		LiveTextures:          b.liveTextures.Load(),
	}
}

// CompileProgram wraps the source kernel. Sources without a kernel fail
// with backend.ErrProgramLink.
func (b *Backend) CompileProgram(src backend.ProgramSource) (backend.Program, error) {
	if src.Kernel == nil {
		return nil, fmt.Errorf("%w: %q has no CPU kernel", backend.ErrProgramLink, src.Name)
	}
	return &program{name: src.Name, kernel: src.Kernel}, nil
}

// CreateFramebuffer allocates a transparent render target.
func (b *Backend) CreateFramebuffer(width, height int, format gputypes.TextureFormat) (backend.Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", backend.ErrInvalidSize, width, height)
	}
	n := b.created.Add(1)
	fb := &surface{
		owner:       b,
		img:         backend.NewImage(width, height),
		width:       width,
		height:      height,
		format:      format,
		label:       fmt.Sprintf("framebuffer-%d", n),
		framebuffer: true,
	}
	b.logger().Debug("software: framebuffer created", "label", fb.label, "width", width, "height", height)
	return fb, nil
}

// DestroyFramebuffer releases a render target.
func (b *Backend) DestroyFramebuffer(fb backend.Framebuffer) {
	s, ok := fb.(*surface)
	if !ok || s.owner != b || !s.framebuffer {
		return
	}
	if s.released.Swap(true) {
		return
	}
	s.img = nil
	b.destroyed.Add(1)
}

// CreateTexture converts img into a sampled texture.
func (b *Backend) CreateTexture(img image.Image) (backend.Texture, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", backend.ErrInvalidSize)
	}
	r := img.Bounds()
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", backend.ErrInvalidSize, r.Dx(), r.Dy())
	}
	b.liveTextures.Add(1)
	return &surface{
		owner:  b,
		img:    backend.ImageFrom(img),
		width:  r.Dx(),
		height: r.Dy(),
		format: gputypes.TextureFormatRGBA8Unorm,
		label:  "texture",
	}, nil
}

// DestroyTexture releases a texture.
func (b *Backend) DestroyTexture(tex backend.Texture) {
	s, ok := tex.(*surface)
	if !ok || s.owner != b || s.framebuffer {
		return
	}
	if s.released.Swap(true) {
		return
	}
	s.img = nil
	b.liveTextures.Add(-1)
}

// ReadPixels returns a copy of the texture contents.
func (b *Backend) ReadPixels(tex backend.Texture) (*backend.Image, error) {
	s, err := b.surfaceOf(tex)
	if err != nil {
		return nil, err
	}
	out := backend.NewImage(s.img.Width(), s.img.Height())
	out.CopyFrom(s.img)
	return out, nil
}

// SubmitFullscreenPass runs the pass kernel for every target pixel.
func (b *Backend) SubmitFullscreenPass(pass *backend.Pass) error {
	if err := pass.Validate(); err != nil {
		return err
	}
	prog, ok := pass.Program.(*program)
	if !ok {
		return fmt.Errorf("%w: program %q", backend.ErrForeignResource, pass.Program.Name())
	}
	target, err := b.surfaceOf(pass.Target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	inputs := make([]backend.Sampler, len(pass.Inputs))
	for i, in := range pass.Inputs {
		s, err := b.surfaceOf(in)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if s == target {
			return ErrTargetAliasesInput
		}
		inputs[i] = s.img
	}

	var depth backend.Sampler
	if pass.Depth != nil {
		s, err := b.surfaceOf(pass.Depth)
		if err != nil {
			return fmt.Errorf("depth: %w", err)
		}
		if s == target {
			return ErrTargetAliasesInput
		}
		depth = s.img
	}

	textures := make([]backend.Sampler, len(pass.Uniforms))
	for i, u := range pass.Uniforms {
		if u.Texture == nil {
			continue
		}
		s, err := b.surfaceOf(u.Texture)
		if err != nil {
			return fmt.Errorf("uniform %q: %w", u.Name, err)
		}
		textures[i] = s.img
	}

	proto := backend.Fragment{
		Frame:      pass.Frame,
		Inputs:     inputs,
		DepthInput: depth,
		Uniforms:   pass.Uniforms,
		Textures:   textures,
	}
	if err := b.shade(target.img, prog.kernel, proto); err != nil {
		return fmt.Errorf("software: program %q: %w", prog.name, err)
	}
	b.passes.Add(1)
	return nil
}

// shade evaluates kernel over dst. A panicking kernel is reported as an
// error instead of taking down the render loop.
func (b *Backend) shade(dst *backend.Image, kernel backend.Kernel, proto backend.Fragment) error {
	w, h := dst.Width(), dst.Height()
	invW, invH := 1/float32(w), 1/float32(h)

	var (
		failMu sync.Mutex
		fail   error
	)
	band := func(y0, y1 int) {
		defer func() {
			if r := recover(); r != nil {
				failMu.Lock()
				if fail == nil {
					fail = fmt.Errorf("kernel panic: %v", r)
				}
				failMu.Unlock()
			}
		}()
		f := proto
		for y := y0; y < y1; y++ {
			f.Y = y
			f.V = (float32(y) + 0.5) * invH
			for x := 0; x < w; x++ {
				f.X = x
				f.U = (float32(x) + 0.5) * invW
				dst.Set(x, y, kernel(&f))
			}
		}
	}

	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool == nil {
		band(0, h)
	} else {
		pool.Rows(h, band)
	}
	return fail
}

func (b *Backend) surfaceOf(tex backend.Texture) (*surface, error) {
	s, ok := tex.(*surface)
	if !ok || s.owner != b {
		return nil, backend.ErrForeignResource
	}
	if s.released.Load() {
		return nil, backend.ErrReleased
	}
	return s, nil
}

// surface is both the framebuffer and the texture type of the backend.
type surface struct {
	owner       *Backend
	img         *backend.Image
	width       int
	height      int
	format      gputypes.TextureFormat
	label       string
	framebuffer bool
	released    atomic.Bool
}

func (s *surface) Width() int                     { return s.width }
func (s *surface) Height() int                    { return s.height }
func (s *surface) Format() gputypes.TextureFormat { return s.format }
func (s *surface) Label() string                  { return s.label }

type program struct {
	name   string
	kernel backend.Kernel
}

func (p *program) Name() string { return p.name }
