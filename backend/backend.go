package backend

import (
	"errors"
	"image"

	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrInvalidSize is returned when a framebuffer or texture has a
	// non-positive dimension.
	ErrInvalidSize = errors.New("backend: invalid size")

	// ErrProgramLink is returned when a program cannot be compiled or linked.
	ErrProgramLink = errors.New("backend: program link failed")

	// ErrReleased is returned when operating on a destroyed resource.
	ErrReleased = errors.New("backend: resource has been released")

	// ErrForeignResource is returned when a resource created by one backend
	// is handed to another.
	ErrForeignResource = errors.New("backend: resource belongs to another backend")

	// ErrTooManyUniforms is returned when a pass binds more uniforms than
	// the backend supports.
	ErrTooManyUniforms = errors.New("backend: too many uniforms")
)

// DefaultFormat is the framebuffer format used when none is requested.
const DefaultFormat = gputypes.TextureFormatRGBA8Unorm

// MaxUniforms is the maximum number of uniforms a single pass may bind.
const MaxUniforms = 16

// Texture is a sampled image owned by a backend.
type Texture interface {
	// Width returns the texture width in pixels.
	Width() int

	// Height returns the texture height in pixels.
	Height() int

	// Format returns the pixel format.
	Format() gputypes.TextureFormat
}

// Framebuffer is a texture that can also be the target of a pass.
type Framebuffer interface {
	Texture

	// Label returns the debug label given at creation.
	Label() string
}

// Program is a compiled program handle. Programs are immutable once
// compiled and may be shared by any number of passes.
type Program interface {
	// Name returns the program source name.
	Name() string
}

// Backend is the minimal graphics capability surface used by the pipeline.
//
// Backends are not required to be safe for concurrent use: the pipeline
// calls them from a single render goroutine.
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "wgpu").
	Name() string

	// Init initializes the backend.
	// This should be called before any other operation.
	Init() error

	// Close releases all backend resources.
	Close()

	// CompileProgram compiles src into a program handle.
	// Failures wrap ErrProgramLink.
	CompileProgram(src ProgramSource) (Program, error)

	// CreateFramebuffer allocates a render target.
	CreateFramebuffer(width, height int, format gputypes.TextureFormat) (Framebuffer, error)

	// DestroyFramebuffer releases a render target. Destroying twice is a no-op.
	DestroyFramebuffer(fb Framebuffer)

	// CreateTexture uploads img as a sampled texture.
	CreateTexture(img image.Image) (Texture, error)

	// DestroyTexture releases a texture. Destroying twice is a no-op.
	DestroyTexture(tex Texture)

	// SubmitFullscreenPass renders one full-screen pass into pass.Target.
	SubmitFullscreenPass(pass *Pass) error

	// ReadPixels copies the contents of tex back to the CPU.
	ReadPixels(tex Texture) (*Image, error)
}

// Epocher is implemented by backends that can invalidate every program they
// compiled, for example when switching devices. Epoch changes each time that
// happens; programs compiled under an older epoch must not be submitted.
type Epocher interface {
	Epoch() uint64
}

// FrameInfo carries per-frame values every program may read.
type FrameInfo struct {
	// Number is the pipeline frame counter, starting at 1.
	Number uint64

	// Width and Height are the viewport dimensions.
	Width, Height int
}

// Uniform is one resolved shader parameter.
//
// Scalars and vectors are widened to four float components; integers and
// booleans are converted to float. Texture uniforms carry the texture in
// Texture and leave Data zero.
type Uniform struct {
	Name    string
	Data    [4]float32
	Texture Texture
}

// Pass describes a single full-screen pass submission.
type Pass struct {
	// Program is the compiled program to run.
	Program Program

	// Inputs are the sampled color inputs. Inputs[0] is the color buffer
	// produced by the previous pass; blend passes carry one input per
	// composite member.
	Inputs []Texture

	// Depth is the scene depth buffer, or nil.
	Depth Texture

	// Uniforms are the pass parameters, sorted by name.
	Uniforms []Uniform

	// Target receives the pass output.
	Target Framebuffer

	// Frame carries the per-frame built-in values.
	Frame FrameInfo
}

// Validate checks the parts of a pass every backend relies on.
func (p *Pass) Validate() error {
	if p.Program == nil {
		return errors.New("backend: pass has no program")
	}
	if p.Target == nil {
		return errors.New("backend: pass has no target")
	}
	if len(p.Inputs) == 0 {
		return errors.New("backend: pass has no inputs")
	}
	if p.Target.Width() <= 0 || p.Target.Height() <= 0 {
		return ErrInvalidSize
	}
	if len(p.Uniforms) > MaxUniforms {
		return ErrTooManyUniforms
	}
	return nil
}
