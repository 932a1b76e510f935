// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/backend"
)

// ErrTargetAliasesInput is returned when a pass would render into one of
// its own inputs.
var ErrTargetAliasesInput = errors.New("wgpu: pass target aliases an input")

// paramsSize is the byte size of the prelude's Params struct: eight
// 32-bit header words followed by sixteen vec4<f32> slots.
const paramsSize = 8*4 + backend.MaxUniforms*16

// layout records where each pass layer lives in the layer buffer.
type layout struct {
	layers     []*surface
	offsets    []uint32 // in words
	depthLayer int32
	slotLayer  map[int]int // uniform index -> layer index
	words      uint64
}

func (b *Backend) layoutPass(pass *backend.Pass, target *surface) (*layout, error) {
	l := &layout{depthLayer: -1, slotLayer: make(map[int]int)}
	add := func(s *surface) int {
		l.layers = append(l.layers, s)
		l.offsets = append(l.offsets, uint32(l.words)) //nolint:gosec // buffers stay below 16 GiB
		l.words += s.words()
		return len(l.layers) - 1
	}

	for i, in := range pass.Inputs {
		s, err := b.surfaceOf(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if s == target {
			return nil, ErrTargetAliasesInput
		}
		add(s)
	}
	if pass.Depth != nil {
		s, err := b.surfaceOf(pass.Depth)
		if err != nil {
			return nil, fmt.Errorf("depth: %w", err)
		}
		if s == target {
			return nil, ErrTargetAliasesInput
		}
		l.depthLayer = int32(add(s)) //nolint:gosec // at most a handful of layers
	}
	for i, u := range pass.Uniforms {
		if u.Texture == nil {
			continue
		}
		s, err := b.surfaceOf(u.Texture)
		if err != nil {
			return nil, fmt.Errorf("uniform %q: %w", u.Name, err)
		}
		l.slotLayer[i] = add(s)
	}
	return l, nil
}

// encodeParams lays out the Params uniform block.
func encodeParams(pass *backend.Pass, l *layout) []byte {
	out := make([]byte, paramsSize)
	le := binary.LittleEndian
	le.PutUint32(out[0:], uint32(pass.Target.Width()))  //nolint:gosec // validated positive
	le.PutUint32(out[4:], uint32(pass.Target.Height())) //nolint:gosec // validated positive
	le.PutUint32(out[8:], uint32(pass.Frame.Number))    //nolint:gosec // wraps after 2^32 frames
	le.PutUint32(out[12:], uint32(len(pass.Inputs)))    //nolint:gosec // small
	le.PutUint32(out[16:], uint32(l.depthLayer))        //nolint:gosec // two's complement i32
	le.PutUint32(out[20:], uint32(len(l.layers)))       //nolint:gosec // small

	for i, u := range pass.Uniforms {
		data := u.Data
		if layer, ok := l.slotLayer[i]; ok {
			data = [4]float32{float32(layer)}
		}
		for c, v := range data {
			le.PutUint32(out[32+i*16+c*4:], math.Float32bits(v))
		}
	}
	return out
}

// encodeTable lays out the layer table: (offset, width, height, 0) per layer.
func encodeTable(l *layout) []byte {
	out := make([]byte, len(l.layers)*16)
	for i, s := range l.layers {
		binary.LittleEndian.PutUint32(out[i*16:], l.offsets[i])
		binary.LittleEndian.PutUint32(out[i*16+4:], uint32(s.width))  //nolint:gosec // validated positive
		binary.LittleEndian.PutUint32(out[i*16+8:], uint32(s.height)) //nolint:gosec // validated positive
	}
	return out
}

// passResources are the per-pass buffers and bind group.
type passResources struct {
	device    hal.Device
	buffers   []hal.Buffer
	bindGroup hal.BindGroup
}

func (r *passResources) buffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	buf, err := r.device.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", desc.Label, err)
	}
	r.buffers = append(r.buffers, buf)
	return buf, nil
}

func (r *passResources) destroy() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
	}
	for _, buf := range r.buffers {
		r.device.DestroyBuffer(buf)
	}
}

// SubmitFullscreenPass runs the pass program over every target pixel and
// waits for completion.
func (b *Backend) SubmitFullscreenPass(pass *backend.Pass) error {
	if err := pass.Validate(); err != nil {
		return err
	}
	prog, ok := pass.Program.(*program)
	if !ok || prog.owner != b {
		return fmt.Errorf("%w: program %q", backend.ErrForeignResource, pass.Program.Name())
	}
	target, err := b.surfaceOf(pass.Target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	l, err := b.layoutPass(pass, target)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return backend.ErrNotInitialized
	}
	if prog.pipeline == nil {
		return fmt.Errorf("%w: program %q", backend.ErrReleased, prog.name)
	}
	if err := b.dispatch(prog, pass, target, l); err != nil {
		return fmt.Errorf("wgpu: program %q: %w", prog.name, err)
	}
	b.passes.Add(1)
	return nil
}

func (b *Backend) dispatch(prog *program, pass *backend.Pass, target *surface, l *layout) error {
	res := &passResources{device: b.device}
	defer res.destroy()

	params := encodeParams(pass, l)
	table := encodeTable(l)

	paramsBuf, err := res.buffer(&hal.BufferDescriptor{
		Label: "postfx_params", Size: uint64(len(params)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	layersBuf, err := res.buffer(&hal.BufferDescriptor{
		Label: "postfx_layers", Size: l.words * 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	tableBuf, err := res.buffer(&hal.BufferDescriptor{
		Label: "postfx_layer_table", Size: uint64(len(table)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	b.queue.WriteBuffer(paramsBuf, 0, params)
	b.queue.WriteBuffer(tableBuf, 0, table)

	res.bindGroup, err = b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "postfx_bind", Layout: b.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: uint64(len(params))}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: layersBuf.NativeHandle(), Offset: 0, Size: l.words * 4}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: tableBuf.NativeHandle(), Offset: 0, Size: uint64(len(table))}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: target.buf.NativeHandle(), Offset: 0, Size: target.size()}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "postfx_pass"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(prog.name); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	for i, s := range l.layers {
		encoder.CopyBufferToBuffer(s.buf, layersBuf, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: uint64(l.offsets[i]) * 4, Size: s.size()},
		})
	}
	w, h := uint32(target.width), uint32(target.height) //nolint:gosec // validated positive
	cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: prog.name})
	cp.SetPipeline(prog.pipeline)
	cp.SetBindGroup(0, res.bindGroup, nil)
	cp.Dispatch((w+7)/8, (h+7)/8, 1)
	cp.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	return b.submit(cmd)
}

// ReadPixels copies tex back to the CPU through a staging buffer.
func (b *Backend) ReadPixels(tex backend.Texture) (*backend.Image, error) {
	s, err := b.surfaceOf(tex)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil, backend.ErrNotInitialized
	}

	res := &passResources{device: b.device}
	defer res.destroy()
	staging, err := res.buffer(&hal.BufferDescriptor{
		Label: "postfx_staging", Size: s.size(),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "postfx_readback"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("postfx_readback"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(s.buf, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: s.size()}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	if err := b.submit(cmd); err != nil {
		return nil, fmt.Errorf("wgpu: readback: %w", err)
	}

	data := make([]byte, s.size())
	if err := b.queue.ReadBuffer(staging, 0, data); err != nil {
		return nil, fmt.Errorf("wgpu: readback: %w", err)
	}
	return unpackImage(data, s.width, s.height), nil
}
