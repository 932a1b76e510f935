package backend

// ProgramSource is the backend-neutral description of a full-screen
// program. The pipeline treats it as an opaque blob; backends pick the
// representation they understand.
type ProgramSource struct {
	// Name identifies the program. Backends and the pipeline cache compiled
	// programs by name, so two different sources must not share one.
	Name string

	// WGSL is the shading function for GPU backends. It must define
	//
	//	fn shade(coord: vec2<i32>, uv: vec2<f32>) -> vec4<f32>
	//
	// and may use the helpers the GPU backend prepends (see backend/wgpu).
	WGSL string

	// Kernel is the per-pixel implementation for the software backend.
	Kernel Kernel
}

// Kernel computes one output pixel on the CPU.
type Kernel func(f *Fragment) [4]float32

// Sampler reads pixels from an input or texture.
type Sampler interface {
	// Width returns the sampled image width in pixels.
	Width() int

	// Height returns the sampled image height in pixels.
	Height() int

	// Fetch returns the pixel at integer coordinates, clamped to the edges.
	Fetch(x, y int) [4]float32

	// Sample returns the nearest pixel to normalized coordinates.
	Sample(u, v float32) [4]float32
}

// Fragment is the per-pixel context handed to a Kernel.
//
// The software backend reuses one Fragment per worker and only updates the
// coordinates between pixels, so kernels must not retain it.
type Fragment struct {
	// X and Y are the integer pixel coordinates in the target.
	X, Y int

	// U and V are the normalized coordinates of the pixel center.
	U, V float32

	// Frame carries the per-frame built-in values.
	Frame FrameInfo

	// Inputs are the color inputs, in Pass order.
	Inputs []Sampler

	// DepthInput is the scene depth buffer, or nil.
	DepthInput Sampler

	// Uniforms are the pass uniforms, sorted by name.
	Uniforms []Uniform

	// Textures is parallel to Uniforms; entries for non-texture uniforms are nil.
	Textures []Sampler
}

// Color samples the primary color input at the fragment position.
func (f *Fragment) Color() [4]float32 {
	return f.Inputs[0].Sample(f.U, f.V)
}

// Input samples color input i at the fragment position.
func (f *Fragment) Input(i int) [4]float32 {
	return f.Inputs[i].Sample(f.U, f.V)
}

// Depth returns the scene depth at the fragment position, or 1 (far plane)
// when no depth buffer is bound.
func (f *Fragment) Depth() float32 {
	if f.DepthInput == nil {
		return 1
	}
	return f.DepthInput.Sample(f.U, f.V)[0]
}

// Vec returns the named uniform, or zero if it is not bound.
func (f *Fragment) Vec(name string) [4]float32 {
	for i := range f.Uniforms {
		if f.Uniforms[i].Name == name {
			return f.Uniforms[i].Data
		}
	}
	return [4]float32{}
}

// Float returns the first component of the named uniform.
func (f *Fragment) Float(name string) float32 {
	return f.Vec(name)[0]
}

// Texture returns the sampler bound to the named texture uniform, or nil.
func (f *Fragment) Texture(name string) Sampler {
	for i := range f.Uniforms {
		if f.Uniforms[i].Name == name && i < len(f.Textures) {
			return f.Textures[i]
		}
	}
	return nil
}
