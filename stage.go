package postfx

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/postfx/backend"
)

// Stage is a single full-screen pass: a program, its uniforms and an
// enabled flag.
//
// A disabled Stage, or one whose texture uniforms are still loading, is an
// identity: its output is its input and no pass is submitted.
//
// Uniform setters and the enabled flag are safe to call from any goroutine;
// changes are picked up by the next Pipeline.Apply.
type Stage struct {
	name    string
	src     backend.ProgramSource
	enabled atomic.Bool
	owner   atomic.Pointer[Pipeline]

	mu        sync.Mutex
	bindings  map[string]*binding
	defaults  map[string]UniformValue
	retired   []retiredTexture
	destroyed bool
}

type binding struct {
	kind  UniformKind
	value UniformValue
	set   bool
	slot  *textureSlot
}

type retiredTexture struct {
	b   backend.Backend
	tex backend.Texture
}

// NewStage creates an enabled stage. uniforms gives the initial values,
// which also become the defaults restored by Reset. Zero values in
// uniforms are ignored.
func NewStage(name string, src backend.ProgramSource, uniforms map[string]UniformValue) *Stage {
	s := &Stage{
		name:     name,
		src:      src,
		bindings: make(map[string]*binding, len(uniforms)),
		defaults: make(map[string]UniformValue, len(uniforms)),
	}
	for k, v := range uniforms {
		if k == "" || !validValue(v) {
			continue
		}
		s.defaults[k] = v
	}
	s.resetLocked()
	s.enabled.Store(true)
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Source returns the stage program.
func (s *Stage) Source() backend.ProgramSource { return s.src }

// Enabled reports whether the stage runs.
func (s *Stage) Enabled() bool { return s.enabled.Load() }

// SetEnabled enables or disables the stage.
func (s *Stage) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Enable enables the stage.
func (s *Stage) Enable() { s.enabled.Store(true) }

// Disable disables the stage.
func (s *Stage) Disable() { s.enabled.Store(false) }

// Active reports whether the stage is enabled and not destroyed.
func (s *Stage) Active() bool {
	if !s.enabled.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.destroyed
}

// Set stores a uniform value. The first value set (or Declare) fixes the
// uniform's kind; later values of another kind fail with a
// *TypeMismatchError. Setting a texture uniform cancels any load still
// running for the previous value.
func (s *Stage) Set(name string, v UniformValue) error {
	if name == "" || !validValue(v) {
		return fmt.Errorf("%w: %q = %v", ErrInvalidUniform, name, v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[name]
	if ok && b.kind != v.kind {
		return &TypeMismatchError{Stage: s.name, Name: name, Want: b.kind, Got: v.kind}
	}
	if !ok {
		b = &binding{kind: v.kind}
		s.bindings[name] = b
	}
	s.bindLocked(b, v)
	return nil
}

// Declare fixes the kind of a uniform without giving it a value. A stage
// with an unset non-texture uniform fails to run.
func (s *Stage) Declare(name string, kind UniformKind) error {
	if name == "" || kind == KindInvalid || kind > KindTexture {
		return fmt.Errorf("%w: declare %q as %s", ErrInvalidUniform, name, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bindings[name]; ok {
		if b.kind != kind {
			return &TypeMismatchError{Stage: s.name, Name: name, Want: b.kind, Got: kind}
		}
		return nil
	}
	s.bindings[name] = &binding{kind: kind}
	return nil
}

// Get returns the current value of a uniform.
func (s *Stage) Get(name string) (UniformValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[name]
	if !ok || !b.set {
		return UniformValue{}, false
	}
	return b.value, true
}

// Kind returns the declared kind of a uniform, or KindInvalid.
func (s *Stage) Kind(name string) UniformKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[name]; ok {
		return b.kind
	}
	return KindInvalid
}

// UniformNames returns the declared uniform names in sorted order. Programs
// see uniforms in this order.
func (s *Stage) UniformNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.bindings))
}

// Ready reports whether every uniform is set and every texture resolved.
func (s *Stage) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if !b.set || (b.slot != nil && !b.slot.ready()) {
			return false
		}
	}
	return true
}

// Reset restores the uniforms given to NewStage and drops any others.
// The enabled flag is left alone.
func (s *Stage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		s.retireLocked(b)
	}
	s.resetLocked()
}

// Destroy cancels pending texture loads and releases uploaded textures.
// A destroyed stage is an identity.
func (s *Stage) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, b := range s.bindings {
		s.retireLocked(b)
	}
}

// Destroyed reports whether Destroy has been called.
func (s *Stage) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *Stage) resetLocked() {
	s.bindings = make(map[string]*binding, len(s.defaults))
	for k, v := range s.defaults {
		b := &binding{kind: v.kind}
		s.bindLocked(b, v)
		s.bindings[k] = b
	}
}

func (s *Stage) bindLocked(b *binding, v UniformValue) {
	s.retireLocked(b)
	b.value = v
	b.set = true
	if v.kind == KindTexture {
		b.slot = newTextureSlot(v)
	}
}

// retireLocked detaches b's texture slot; an uploaded texture is queued for
// destruction on the render goroutine.
func (s *Stage) retireLocked(b *binding) {
	if b.slot == nil {
		return
	}
	if owner, tex := b.slot.detach(); tex != nil {
		s.retired = append(s.retired, retiredTexture{b: owner, tex: tex})
	}
	b.slot = nil
}

// releaseTextures destroys retired textures. Must run on the render goroutine.
func (s *Stage) releaseTextures() {
	s.mu.Lock()
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()
	for _, r := range retired {
		r.b.DestroyTexture(r.tex)
	}
}

func (s *Stage) apply(f *frame, in result) (result, error) {
	s.releaseTextures()
	if !s.Active() {
		return in, nil
	}

	uniforms, pending, err := s.resolve(f)
	if err != nil {
		return in, &StageExecutionError{Stage: s.name, Err: err}
	}
	if pending {
		f.skipped++
		return in, nil
	}

	out, err := f.run(s.src, []backend.Texture{in.tex}, uniforms)
	if err != nil {
		return in, &StageExecutionError{Stage: s.name, Err: err}
	}
	return out, nil
}

// resolve builds the pass uniforms in name order. pending is true when a
// texture is not available yet.
func (s *Stage) resolve(f *frame) (uniforms []backend.Uniform, pending bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := slices.Sorted(maps.Keys(s.bindings))
	uniforms = make([]backend.Uniform, 0, len(names))
	for _, name := range names {
		b := s.bindings[name]
		if b.kind != KindTexture {
			if !b.set {
				return nil, false, fmt.Errorf("%w: %q", ErrUniformUnset, name)
			}
			uniforms = append(uniforms, backend.Uniform{Name: name, Data: b.value.vec})
			continue
		}

		if b.slot == nil {
			pending = true
			continue
		}
		b.slot.request(f.loader)
		tex, ok, err := b.slot.resolve(f.b)
		if err != nil {
			return nil, false, fmt.Errorf("upload texture %q: %w", name, err)
		}
		if !ok {
			pending = true
			s.warnPendingLocked(f, name, b.slot)
			continue
		}
		uniforms = append(uniforms, backend.Uniform{Name: name, Texture: tex})
	}
	return uniforms, pending, nil
}

func (s *Stage) warnPendingLocked(f *frame, name string, slot *textureSlot) {
	if slot.warned {
		return
	}
	switch {
	case f.loader == nil && slot.eager == nil:
		slot.warned = true
		f.log.Warn("postfx: texture uniform has no loader; stage skipped",
			"stage", s.name, "uniform", name, "uri", slot.uri)
	case slot.failure() != nil:
		slot.warned = true
		f.log.Warn("postfx: texture load failed; stage skipped until rebound",
			"stage", s.name, "uniform", name, "uri", slot.uri, "err", slot.failure())
	}
}

func (s *Stage) walk(fn func(Node) error) error { return fn(s) }

func (s *Stage) claim(p *Pipeline) bool { return s.owner.CompareAndSwap(nil, p) }

func (s *Stage) unclaim(p *Pipeline) { s.owner.CompareAndSwap(p, nil) }

func validValue(v UniformValue) bool {
	switch v.kind {
	case KindInvalid:
		return false
	case KindTexture:
		return v.tex != nil || v.uri != ""
	}
	return v.kind <= KindTexture
}
