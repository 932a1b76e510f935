package library

import (
	"embed"

	"github.com/chewxy/math32"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/backend"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// Built-in effect names.
const (
	BlackAndWhite  = "blackAndWhite"
	Brightness     = "brightness"
	EightBit       = "eightBit"
	TextureOverlay = "textureOverlay"
	NightVision    = "nightVision"
	FXAA           = "fxaa"
	ColorMultiply  = "colorMultiply"
	DepthFog       = "depthFog"
)

// DefaultOverlayTexture is the texture URI textureOverlay loads unless
// overridden. It is resolved by the pipeline's texture loader.
const DefaultOverlayTexture = "textures/cockpit.png"

type builtin struct {
	name        string
	shader      string
	kernel      backend.Kernel
	defaults    func() map[string]postfx.UniformValue
	description string
}

func (b builtin) template() Template {
	src, err := shaderFS.ReadFile("shaders/" + b.shader)
	if err != nil {
		panic(err)
	}
	var defaults map[string]postfx.UniformValue
	if b.defaults != nil {
		defaults = b.defaults()
	}
	return Template{
		Source: backend.ProgramSource{
			Name:   "library/" + b.name,
			WGSL:   string(src),
			Kernel: b.kernel,
		},
		Defaults:    defaults,
		Description: b.description,
	}
}

var builtins = []builtin{
	{
		name:   BlackAndWhite,
		shader: "black_and_white.wgsl",
		kernel: blackAndWhite,
		defaults: func() map[string]postfx.UniformValue {
			return map[string]postfx.UniformValue{"gradations": postfx.Float(5)}
		},
		description: "quantized grayscale",
	},
	{
		name:   Brightness,
		shader: "brightness.wgsl",
		kernel: brightness,
		defaults: func() map[string]postfx.UniformValue {
			return map[string]postfx.UniformValue{"brightness": postfx.Float(0.5)}
		},
		description: "darken toward black",
	},
	{
		name:        EightBit,
		shader:      "eight_bit.wgsl",
		kernel:      eightBit,
		description: "8-pixel mosaic",
	},
	{
		name:   TextureOverlay,
		shader: "texture_overlay.wgsl",
		kernel: textureOverlay,
		defaults: func() map[string]postfx.UniformValue {
			return map[string]postfx.UniformValue{
				"alpha":   postfx.Float(0.5),
				"texture": postfx.TextureURI(DefaultOverlayTexture),
			}
		},
		description: "blend an image over the frame",
	},
	{
		name:        NightVision,
		shader:      "night_vision.wgsl",
		kernel:      nightVision,
		description: "noisy green monochrome",
	},
	{
		name:        FXAA,
		shader:      "fxaa.wgsl",
		kernel:      fxaa,
		description: "fast approximate anti-aliasing",
	},
	{
		name:   ColorMultiply,
		shader: "color_multiply.wgsl",
		kernel: colorMultiply,
		defaults: func() map[string]postfx.UniformValue {
			return map[string]postfx.UniformValue{"factor": postfx.Vec4(1, 1, 1, 1)}
		},
		description: "scale color channels",
	},
	{
		name:   DepthFog,
		shader: "depth_fog.wgsl",
		kernel: depthFog,
		defaults: func() map[string]postfx.UniformValue {
			return map[string]postfx.UniformValue{
				"color": postfx.Vec4(0.7, 0.75, 0.8, 1),
				"near":  postfx.Float(0.2),
				"far":   postfx.Float(1),
			}
		},
		description: "distance fog from the depth buffer",
	},
}

func luminance(c [4]float32) float32 {
	return 0.2125*c[0] + 0.7154*c[1] + 0.0721*c[2]
}

func blackAndWhite(f *backend.Fragment) [4]float32 {
	g := f.Float("gradations")
	d := math32.Floor(luminance(f.Color())*g) / g
	return [4]float32{d, d, d, 1}
}

func brightness(f *backend.Fragment) [4]float32 {
	c := f.Color()
	k := f.Float("brightness")
	return [4]float32{c[0] * k, c[1] * k, c[2] * k, 1}
}

func eightBit(f *backend.Fragment) [4]float32 {
	in := f.Inputs[0]
	ox, oy := f.X/8*8, f.Y/8*8
	var sum [3]float32
	for j := range 16 {
		for i := range 16 {
			p := in.Fetch(ox+i, oy+j)
			sum[0] += p[0]
			sum[1] += p[1]
			sum[2] += p[2]
		}
	}
	return [4]float32{sum[0] / 256, sum[1] / 256, sum[2] / 256, 1}
}

func textureOverlay(f *backend.Fragment) [4]float32 {
	screen := f.Color()
	tex := f.Texture("texture")
	if tex == nil {
		return [4]float32{screen[0], screen[1], screen[2], 1}
	}
	c := tex.Sample(f.U, f.V)
	t := f.Float("alpha") * c[3]
	return [4]float32{
		mix(screen[0], c[0], t),
		mix(screen[1], c[1], t),
		mix(screen[2], c[2], t),
		1,
	}
}

func nightVision(f *backend.Fragment) [4]float32 {
	s := math32.Sin(float32(f.Frame.Number))
	noise := rand(f.U+s, f.V+s) * 0.1
	c := f.Color()
	return [4]float32{0, noise + c[1], 0, 1}
}

// rand is the classic one-line shader hash.
func rand(x, y float32) float32 {
	v := math32.Sin(x*12.9898+y*78.233) * 43758.5453
	return v - math32.Floor(v)
}

const (
	fxaaReduceMin = 1.0 / 128
	fxaaReduceMul = 1.0 / 8
	fxaaSpanMax   = 8
)

func fxaaLuma(c [4]float32) float32 {
	return 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
}

func fxaa(f *backend.Fragment) [4]float32 {
	in := f.Inputs[0]
	center := in.Fetch(f.X, f.Y)
	nw := fxaaLuma(in.Fetch(f.X-1, f.Y-1))
	ne := fxaaLuma(in.Fetch(f.X+1, f.Y-1))
	sw := fxaaLuma(in.Fetch(f.X-1, f.Y+1))
	se := fxaaLuma(in.Fetch(f.X+1, f.Y+1))
	m := fxaaLuma(center)

	lumaMin := min(m, nw, ne, sw, se)
	lumaMax := max(m, nw, ne, sw, se)

	dx := -((nw + ne) - (sw + se))
	dy := (nw + sw) - (ne + se)
	reduce := max((nw+ne+sw+se)*0.25*fxaaReduceMul, fxaaReduceMin)
	rcpMin := 1 / (min(math32.Abs(dx), math32.Abs(dy)) + reduce)
	dx = clamp(dx*rcpMin, -fxaaSpanMax, fxaaSpanMax) / float32(f.Frame.Width)
	dy = clamp(dy*rcpMin, -fxaaSpanMax, fxaaSpanMax) / float32(f.Frame.Height)

	at := func(k float32) [4]float32 { return in.Sample(f.U+dx*k, f.V+dy*k) }
	var a, b [4]float32
	p1, p2 := at(1.0/3-0.5), at(2.0/3-0.5)
	q1, q2 := at(-0.5), at(0.5)
	for i := range 3 {
		a[i] = 0.5 * (p1[i] + p2[i])
		b[i] = a[i]*0.5 + 0.25*(q1[i]+q2[i])
	}
	a[3], b[3] = center[3], center[3]
	if lb := fxaaLuma(b); lb < lumaMin || lb > lumaMax {
		return a
	}
	return b
}

func colorMultiply(f *backend.Fragment) [4]float32 {
	c := f.Color()
	k := f.Vec("factor")
	return [4]float32{c[0] * k[0], c[1] * k[1], c[2] * k[2], c[3] * k[3]}
}

func depthFog(f *backend.Fragment) [4]float32 {
	c := f.Color()
	fog := f.Vec("color")
	near, far := f.Float("near"), f.Float("far")
	amount := clamp((f.Depth()-near)/max(far-near, 0.0001), 0, 1) * fog[3]
	return [4]float32{
		mix(c[0], fog[0], amount),
		mix(c[1], fog[1], amount),
		mix(c[2], fog[2], amount),
		c[3],
	}
}

func mix(a, b, t float32) float32 { return a + (b-a)*t }

func clamp(v, lo, hi float32) float32 { return min(max(v, lo), hi) }
