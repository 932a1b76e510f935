package postfx

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/postfx/backend"
)

type poolKey struct {
	width, height int
	format        gputypes.TextureFormat
}

// lease is a framebuffer checked out of the pool.
type lease struct {
	fb       backend.Framebuffer
	key      poolKey
	gen      uint64
	released bool
}

// framebufferPool recycles intermediate framebuffers between passes.
//
// Buffers are keyed by size and format. Invalidating the pool starts a new
// generation: idle buffers are destroyed at once, leased ones when they come
// back. The pool is used only from the goroutine running Apply.
type framebufferPool struct {
	b   backend.Backend
	log *slog.Logger

	gen    uint64
	free   map[poolKey][]backend.Framebuffer
	leased int

	allocations uint64
	destroyed   uint64
}

func newFramebufferPool(b backend.Backend, log *slog.Logger) *framebufferPool {
	return &framebufferPool{
		b:    b,
		log:  log,
		gen:  1,
		free: make(map[poolKey][]backend.Framebuffer),
	}
}

func (p *framebufferPool) acquire(key poolKey) (*lease, error) {
	if list := p.free[key]; len(list) > 0 {
		fb := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.leased++
		return &lease{fb: fb, key: key, gen: p.gen}, nil
	}

	label := fmt.Sprintf("postfx/%dx%d#%d", key.width, key.height, p.allocations+1)
	fb, err := p.b.CreateFramebuffer(key.width, key.height, key.format)
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", label, err)
	}
	p.allocations++
	p.leased++
	p.log.Debug("postfx: framebuffer allocated",
		"width", key.width, "height", key.height, "format", key.format, "generation", p.gen)
	return &lease{fb: fb, key: key, gen: p.gen}, nil
}

// release returns l to the pool. Releasing nil or twice is a no-op.
func (p *framebufferPool) release(l *lease) {
	if l == nil || l.released {
		return
	}
	l.released = true
	p.leased--
	if l.gen != p.gen {
		p.destroy(l.fb)
		return
	}
	p.free[l.key] = append(p.free[l.key], l.fb)
}

// invalidate destroys every idle buffer and starts a new generation.
func (p *framebufferPool) invalidate() {
	for key, list := range p.free {
		for _, fb := range list {
			p.destroy(fb)
		}
		delete(p.free, key)
	}
	p.gen++
}

func (p *framebufferPool) destroy(fb backend.Framebuffer) {
	p.b.DestroyFramebuffer(fb)
	p.destroyed++
}

// idle returns the number of buffers waiting in free lists.
func (p *framebufferPool) idle() int {
	n := 0
	for _, list := range p.free {
		n += len(list)
	}
	return n
}
