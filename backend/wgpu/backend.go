// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/backend"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	backend.Register(backend.BackendWGPU, func() backend.Backend {
		return New()
	})
}

// ErrNoHAL is returned by SetDeviceProvider when the provider does not
// expose its HAL device and queue.
var ErrNoHAL = errors.New("wgpu: provider does not expose HAL types")

// defaultTimeout bounds every fence wait.
const defaultTimeout = 5 * time.Second

// Backend is the GPU implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	api     gputypes.Backend
	timeout time.Duration
	log     atomic.Pointer[slog.Logger]

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // device came from SetDeviceProvider; not ours to destroy

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	programs   []*program
	epoch      atomic.Uint64

	passes    atomic.Uint64
	created   atomic.Uint64
	destroyed atomic.Uint64
	textures  atomic.Int64
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Epocher = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithAPI selects the HAL backend Init opens. The default is Vulkan.
func WithAPI(api gputypes.Backend) Option {
	return func(b *Backend) {
		b.api = api
	}
}

// WithTimeout bounds how long a pass or readback waits for the GPU.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New creates a GPU backend. Call Init or SetDeviceProvider before use.
func New(opts ...Option) *Backend {
	b := &Backend{
		api:     gputypes.BackendVulkan,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log.Store(slog.New(slog.DiscardHandler))
	return b
}

// Name returns backend.BackendWGPU.
func (b *Backend) Name() string {
	return backend.BackendWGPU
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

// Init opens a device on the configured HAL backend. It is a no-op when a
// device is already attached.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return nil
	}
	if err := b.openDevice(); err != nil {
		b.releaseDevice()
		return fmt.Errorf("%w: %w", backend.ErrBackendNotAvailable, err)
	}
	if err := b.createLayouts(); err != nil {
		b.releaseDevice()
		return err
	}
	return nil
}

func (b *Backend) openDevice() error {
	api, ok := hal.GetBackend(b.api)
	if !ok {
		return fmt.Errorf("hal backend %v not available", b.api)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	b.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return errors.New("no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		t := adapters[i].Info.DeviceType
		if t == gputypes.DeviceTypeDiscreteGPU || t == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	dev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	b.device = dev.Device
	b.queue = dev.Queue
	b.logger().Info("wgpu: device opened", "adapter", selected.Info.Name)
	return nil
}

// SetDeviceProvider switches the backend to a device owned by provider.
// The provider must also implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue. Programs, framebuffers and textures
// created on the previous device are invalidated.
func (b *Backend) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyPrograms()
	b.destroyLayouts()
	b.releaseDevice()

	b.device = device
	b.queue = queue
	b.external = true
	if err := b.createLayouts(); err != nil {
		b.device = nil
		b.queue = nil
		b.external = false
		return err
	}
	b.logger().Info("wgpu: using shared device")
	return nil
}

// Close destroys programs and layouts, and the device unless it came from
// a provider.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyPrograms()
	b.destroyLayouts()
	b.releaseDevice()
}

func (b *Backend) releaseDevice() {
	if !b.external && b.device != nil {
		b.device.Destroy()
	}
	if b.instance != nil {
		b.instance.Destroy()
	}
	b.device = nil
	b.queue = nil
	b.instance = nil
	b.external = false
}

func (b *Backend) createLayouts() error {
	bl, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "postfx_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	b.bindLayout = bl

	pl, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "postfx_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bl},
	})
	if err != nil {
		b.destroyLayouts()
		return fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	b.pipeLayout = pl
	return nil
}

func (b *Backend) destroyLayouts() {
	if b.device == nil {
		return
	}
	if b.pipeLayout != nil {
		b.device.DestroyPipelineLayout(b.pipeLayout)
		b.pipeLayout = nil
	}
	if b.bindLayout != nil {
		b.device.DestroyBindGroupLayout(b.bindLayout)
		b.bindLayout = nil
	}
}

// Epoch increases every time the compiled programs are destroyed, on Close
// and on a device switch.
func (b *Backend) Epoch() uint64 { return b.epoch.Load() }

// Stats reports resource and submission counters.
type Stats struct {
	// Passes is the number of passes submitted.
	Passes uint64

	// Programs is the number of live compiled programs.
	Programs int

	// BuffersCreated and BuffersDestroyed count framebuffers and textures.
	BuffersCreated   uint64
	BuffersDestroyed uint64

	// LiveTextures is the number of uploaded textures not yet destroyed.
	LiveTextures int64
}

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	n := len(b.programs)
	b.mu.Unlock()
	return Stats{
		Passes:           b.passes.Load(),
		Programs:         n,
		BuffersCreated:   b.created.Load(),
		BuffersDestroyed: b.destroyed.Load(),
		LiveTextures:     b.textures.Load(),
	}
}

// submit runs the command buffer and waits for it to finish.
func (b *Backend) submit(cmd hal.CommandBuffer) error {
	defer b.device.FreeCommandBuffer(cmd)

	fence, err := b.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer b.device.DestroyFence(fence)

	if err := b.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := b.device.Wait(fence, 1, b.timeout)
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("wait for GPU: timed out after %v", b.timeout)
	}
	return nil
}
