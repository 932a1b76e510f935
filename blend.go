package postfx

import (
	"fmt"
	"strings"

	"github.com/gogpu/postfx/backend"
)

// MaxBlendInputs is the largest number of members a ParallelBlend composite
// may have.
const MaxBlendInputs = 8

// BlendFunc combines the outputs of a ParallelBlend composite.
// The combining program receives one input per member, in member order.
type BlendFunc struct {
	src backend.ProgramSource
}

// NewBlendFunc returns a blend function backed by a custom program. The
// program reads its inputs with fetch_input/sample_input (GPU) or
// Fragment.Input (software).
func NewBlendFunc(src backend.ProgramSource) BlendFunc {
	return BlendFunc{src: src}
}

// Name returns the blend program name.
func (b BlendFunc) Name() string { return b.src.Name }

// Source returns the blend program.
func (b BlendFunc) Source() backend.ProgramSource { return b.src }

// IsZero reports whether b is the zero BlendFunc.
func (b BlendFunc) IsZero() bool { return b.src.Name == "" }

// Built-in blend functions. Every channel, alpha included, is combined
// with the same operator.
var (
	// BlendAverage is the arithmetic mean of all inputs.
	BlendAverage = channelBlend("average", "acc + x", "acc / f32(n)",
		func(a, b float32) float32 { return a + b },
		func(acc float32, n int) float32 { return acc / float32(n) })

	// BlendAdd is the sum of all inputs, saturated to 1.
	BlendAdd = channelBlend("add", "acc + x", "min(acc, vec4<f32>(1.0))",
		func(a, b float32) float32 { return a + b }, nil)

	// BlendMultiply is the product of all inputs.
	BlendMultiply = channelBlend("multiply", "acc * x", "acc",
		func(a, b float32) float32 { return a * b }, nil)

	// BlendScreen inverts, multiplies and inverts again.
	BlendScreen = channelBlend("screen", "vec4<f32>(1.0) - (vec4<f32>(1.0) - acc) * (vec4<f32>(1.0) - x)", "acc",
		func(a, b float32) float32 { return 1 - (1-a)*(1-b) }, nil)

	// BlendOverlay multiplies dark base values and screens light ones,
	// folding left to right with the accumulated result as the base.
	BlendOverlay = channelBlend("overlay",
		"select(vec4<f32>(1.0) - 2.0 * (vec4<f32>(1.0) - acc) * (vec4<f32>(1.0) - x), 2.0 * acc * x, acc < vec4<f32>(0.5))",
		"acc", overlay, nil)

	// BlendMax keeps the per-channel maximum.
	BlendMax = channelBlend("max", "max(acc, x)", "acc",
		func(a, b float32) float32 { return max(a, b) }, nil)
)

var builtinBlends = []BlendFunc{BlendAverage, BlendAdd, BlendMultiply, BlendScreen, BlendOverlay, BlendMax}

// BlendByName returns the built-in blend function with the given name.
func BlendByName(name string) (BlendFunc, bool) {
	for _, b := range builtinBlends {
		if b.Name() == "blend/"+name || b.Name() == name {
			return b, true
		}
	}
	return BlendFunc{}, false
}

func overlay(base, x float32) float32 {
	if base < 0.5 {
		return 2 * base * x
	}
	return 1 - 2*(1-base)*(1-x)
}

// channelBlend builds a blend that folds inputs left to right with op and
// optionally post-processes the accumulator with final.
func channelBlend(name, wgslOp, wgslFinal string, op func(acc, x float32) float32, final func(acc float32, n int) float32) BlendFunc {
	kernel := func(f *backend.Fragment) [4]float32 {
		n := len(f.Inputs)
		acc := f.Input(0)
		for i := 1; i < n; i++ {
			x := f.Input(i)
			for c := range acc {
				acc[c] = op(acc[c], x[c])
			}
		}
		if final != nil {
			for c := range acc {
				acc[c] = final(acc[c], n)
			}
		}
		return acc
	}
	return BlendFunc{src: backend.ProgramSource{
		Name:   "blend/" + name,
		WGSL:   blendWGSL(wgslOp, wgslFinal),
		Kernel: kernel,
	}}
}

// blendWGSL unrolls the fold over MaxBlendInputs inputs. Loops are avoided
// so the shader translates to straight-line SPIR-V.
func blendWGSL(op, final string) string {
	var sb strings.Builder
	sb.WriteString("fn shade(coord: vec2<i32>, uv: vec2<f32>) -> vec4<f32> {\n")
	sb.WriteString("    let n = input_count();\n")
	sb.WriteString("    var acc = fetch_input(0u, coord);\n")
	for i := 1; i < MaxBlendInputs; i++ {
		fmt.Fprintf(&sb, "    if (n > %du) {\n", i)
		fmt.Fprintf(&sb, "        let x = fetch_input(%du, coord);\n", i)
		fmt.Fprintf(&sb, "        acc = %s;\n", op)
		sb.WriteString("    }\n")
	}
	fmt.Fprintf(&sb, "    return %s;\n", final)
	sb.WriteString("}\n")
	return sb.String()
}
