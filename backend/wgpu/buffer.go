// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/draw"

	"github.com/gogpu/postfx/backend"
)

// surface is a storage buffer of packed RGBA8 pixels. It serves as both
// framebuffer and texture.
type surface struct {
	owner       *Backend
	buf         hal.Buffer
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

func (s *surface) words() uint64 { return uint64(s.width) * uint64(s.height) } //nolint:gosec // sizes are validated positive

func (s *surface) size() uint64 { return s.words() * 4 }

func (b *Backend) createSurface(width, height int, label string) (*surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", backend.ErrInvalidSize, width, height)
	}
	if b.device == nil {
		return nil, backend.ErrNotInitialized
	}
	s := &surface{owner: b, width: width, height: height, label: label}
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: s.size(),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %s: %w", label, err)
	}
	s.buf = buf
	b.created.Add(1)
	return s, nil
}

// CreateFramebuffer allocates a render target. Its contents are undefined
// until a pass writes it.
func (b *Backend) CreateFramebuffer(width, height int, format gputypes.TextureFormat) (backend.Framebuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.created.Load() + 1
	s, err := b.createSurface(width, height, fmt.Sprintf("framebuffer-%d", n))
	if err != nil {
		return nil, err
	}
	s.format = format
	s.framebuffer = true
	b.logger().Debug("wgpu: framebuffer created", "label", s.label, "width", width, "height", height)
	return s, nil
}

// CreateTexture uploads img as RGBA8.
func (b *Backend) CreateTexture(img image.Image) (backend.Texture, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", backend.ErrInvalidSize)
	}
	r := img.Bounds()

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.createSurface(r.Dx(), r.Dy(), "texture")
	if err != nil {
		return nil, err
	}
	s.format = gputypes.TextureFormatRGBA8Unorm
	b.queue.WriteBuffer(s.buf, 0, packImage(img))
	b.textures.Add(1)
	return s, nil
}

// DestroyFramebuffer releases a render target.
func (b *Backend) DestroyFramebuffer(fb backend.Framebuffer) {
	if s, ok := fb.(*surface); ok && s.framebuffer {
		b.destroySurface(s)
	}
}

// DestroyTexture releases a texture.
func (b *Backend) DestroyTexture(tex backend.Texture) {
	if s, ok := tex.(*surface); ok && !s.framebuffer {
		if b.destroySurface(s) {
			b.textures.Add(-1)
		}
	}
}

func (b *Backend) destroySurface(s *surface) bool {
	if s.owner != b || s.released.Swap(true) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		b.device.DestroyBuffer(s.buf)
	}
	s.buf = nil
	b.destroyed.Add(1)
	return true
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

// packImage converts img to packed little-endian RGBA8 words, one per pixel.
func packImage(img image.Image) []byte {
	r := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || r.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, r.Min, draw.Src)
	}
	w, h := r.Dx(), r.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		copy(out[y*w*4:(y+1)*w*4], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+w*4])
	}
	return out
}

// unpackImage converts packed RGBA8 words back to a float image.
func unpackImage(data []byte, width, height int) *backend.Image {
	img := backend.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := binary.LittleEndian.Uint32(data[(y*width+x)*4:])
			img.Set(x, y, [4]float32{
				float32(v&0xff) / 255,
				float32((v>>8)&0xff) / 255,
				float32((v>>16)&0xff) / 255,
				float32((v>>24)&0xff) / 255,
			})
		}
	}
	return img
}
