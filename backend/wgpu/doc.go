// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu provides the GPU backend using the gogpu/wgpu HAL.
//
// Passes run as compute shaders. Every framebuffer and texture is a storage
// buffer of packed RGBA8 pixels; a pass copies its inputs, the depth buffer
// and its texture uniforms into one layer buffer, dispatches the program
// over the target in 8x8 workgroups and waits for the fence. Programs are
// WGSL (backend.ProgramSource.WGSL) compiled to SPIR-V with gogpu/naga
// after the prelude below is prepended.
//
// # Program Prelude
//
// A program defines
//
//	fn shade(coord: vec2<i32>, uv: vec2<f32>) -> vec4<f32>
//
// and may call:
//
//	input_count() -> u32                          number of color inputs
//	fetch_input(i: u32, coord: vec2<i32>) -> vec4<f32>
//	sample_input(i: u32, uv: vec2<f32>) -> vec4<f32>
//	sample_color(uv: vec2<f32>) -> vec4<f32>      input 0
//	sample_depth(uv: vec2<f32>) -> f32            1.0 without a depth buffer
//	param(slot: u32) -> vec4<f32>                 uniform data
//	sample_texture(slot: u32, uv: vec2<f32>) -> vec4<f32>
//	viewport() -> vec2<f32>
//	frame_number() -> f32
//
// A uniform's slot is its index in the pass, which is sorted by name.
// Loops are best avoided: straight-line code translates most reliably.
//
// # Registration
//
// Importing the package registers the backend under backend.BackendWGPU:
//
//	import _ "github.com/gogpu/postfx/backend/wgpu"
//
// Init opens a Vulkan device. Applications that already own a device (for
// example a gogpu window) share it with SetDeviceProvider instead.
//
// Building with the nogpu tag leaves the package empty, so importing it
// registers nothing and the software backend is used.
package wgpu
