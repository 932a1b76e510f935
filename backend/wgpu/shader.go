// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/backend"
)

// prelude is prepended to every program. Binding 1 holds all layers
// (inputs, then depth, then texture uniforms) back to back; binding 2
// describes each layer as (word offset, width, height, 0).
const prelude = `
struct Params {
    size: vec2<u32>,
    frame: u32,
    input_count: u32,
    depth_layer: i32,
    layer_count: u32,
    pad0: u32,
    pad1: u32,
    slots: array<vec4<f32>, 16>,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> layers: array<u32>;
@group(0) @binding(2) var<storage, read> layer_table: array<vec4<u32>>;
@group(0) @binding(3) var<storage, read_write> output: array<u32>;

fn unpack_color(p: u32) -> vec4<f32> {
    let r = f32(p & 0xffu);
    let g = f32((p >> 8u) & 0xffu);
    let b = f32((p >> 16u) & 0xffu);
    let a = f32((p >> 24u) & 0xffu);
    return vec4<f32>(r, g, b, a) / 255.0;
}

fn pack_color(c: vec4<f32>) -> u32 {
    let v = vec4<u32>(round(clamp(c, vec4<f32>(0.0), vec4<f32>(1.0)) * 255.0));
    return v.x | (v.y << 8u) | (v.z << 16u) | (v.w << 24u);
}

fn fetch_layer(layer: u32, coord: vec2<i32>) -> vec4<f32> {
    let e = layer_table[layer];
    let x = u32(clamp(coord.x, 0, i32(e.y) - 1));
    let y = u32(clamp(coord.y, 0, i32(e.z) - 1));
    return unpack_color(layers[e.x + y * e.y + x]);
}

fn sample_layer(layer: u32, uv: vec2<f32>) -> vec4<f32> {
    let e = layer_table[layer];
    let p = floor(uv * vec2<f32>(f32(e.y), f32(e.z)));
    return fetch_layer(layer, vec2<i32>(i32(p.x), i32(p.y)));
}

fn input_count() -> u32 {
    return params.input_count;
}

fn fetch_input(i: u32, coord: vec2<i32>) -> vec4<f32> {
    return fetch_layer(i, coord);
}

fn sample_input(i: u32, uv: vec2<f32>) -> vec4<f32> {
    return sample_layer(i, uv);
}

fn sample_color(uv: vec2<f32>) -> vec4<f32> {
    return sample_layer(0u, uv);
}

fn sample_depth(uv: vec2<f32>) -> f32 {
    if (params.depth_layer < 0) {
        return 1.0;
    }
    return sample_layer(u32(params.depth_layer), uv).x;
}

fn param(slot: u32) -> vec4<f32> {
    return params.slots[slot];
}

fn sample_texture(slot: u32, uv: vec2<f32>) -> vec4<f32> {
    return sample_layer(u32(params.slots[slot].x), uv);
}

fn viewport() -> vec2<f32> {
    return vec2<f32>(f32(params.size.x), f32(params.size.y));
}

fn frame_number() -> f32 {
    return f32(params.frame);
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.size.x || id.y >= params.size.y) {
        return;
    }
    let coord = vec2<i32>(i32(id.x), i32(id.y));
    let uv = (vec2<f32>(f32(id.x), f32(id.y)) + vec2<f32>(0.5)) / viewport();
    output[id.y * params.size.x + id.x] = pack_color(shade(coord, uv));
}
`

// program is a compiled compute pipeline.
type program struct {
	name     string
	owner    *Backend
	module   hal.ShaderModule
	pipeline hal.ComputePipeline
}

func (p *program) Name() string { return p.name }

// Source returns the full WGSL a program is compiled from.
func Source(src backend.ProgramSource) string {
	return prelude + "\n" + src.WGSL
}

// compileSPIRV translates WGSL to little-endian SPIR-V words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// CompileProgram links src against the prelude and builds its pipeline.
// Sources without WGSL, and sources naga rejects, fail with
// backend.ErrProgramLink.
func (b *Backend) CompileProgram(src backend.ProgramSource) (backend.Program, error) {
	if src.WGSL == "" {
		return nil, fmt.Errorf("%w: %q has no WGSL", backend.ErrProgramLink, src.Name)
	}
	code, err := compileSPIRV(Source(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", backend.ErrProgramLink, src.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil, backend.ErrNotInitialized
	}

	module, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.Name,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %q: shader module: %w", backend.ErrProgramLink, src.Name, err)
	}
	pipeline, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   src.Name,
		Layout:  b.pipeLayout,
		Compute: hal.ComputeState{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		b.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("%w: %q: compute pipeline: %w", backend.ErrProgramLink, src.Name, err)
	}

	p := &program{name: src.Name, owner: b, module: module, pipeline: pipeline}
	b.programs = append(b.programs, p)
	b.logger().Debug("wgpu: program compiled", "name", src.Name, "words", len(code))
	return p, nil
}

func (b *Backend) destroyPrograms() {
	b.epoch.Add(1)
	if b.device == nil {
		b.programs = nil
		return
	}
	// Handles may still be cached by pipelines; SubmitFullscreenPass
	// rejects them once their pipeline is gone.
	for _, p := range b.programs {
		b.device.DestroyComputePipeline(p.pipeline)
		b.device.DestroyShaderModule(p.module)
		p.pipeline, p.module = nil, nil
	}
	b.programs = nil
}
