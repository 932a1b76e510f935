// Package library is a catalog of ready-made post-processing effects.
//
// A Library maps effect names to immutable templates. Create builds a new,
// independent postfx.Stage from a template on every call, so one library
// can serve any number of pipelines.
package library

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/backend"
)

var (
	// ErrUnknownEffect is returned by Create for unregistered effect names.
	ErrUnknownEffect = errors.New("library: unknown effect")

	// ErrUnknownUniform is returned for overrides of uniforms an effect does
	// not declare.
	ErrUnknownUniform = errors.New("library: unknown uniform")

	// ErrDuplicateEffect is returned when registering a name twice.
	ErrDuplicateEffect = errors.New("library: effect already registered")
)

// Template describes an effect: its program and default uniforms.
type Template struct {
	// Source is the effect program.
	Source backend.ProgramSource

	// Defaults are the uniforms every created stage starts with.
	Defaults map[string]postfx.UniformValue

	// Description is a one-line summary for listings.
	Description string
}

// Library is a set of named effect templates. It is safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
	order     []string
}

// New returns a library holding the built-in effects.
func New() *Library {
	l := Empty()
	for _, e := range builtins {
		if err := l.Register(e.name, e.template()); err != nil {
			panic(err)
		}
	}
	return l
}

// Empty returns a library without effects.
func Empty() *Library {
	return &Library{templates: make(map[string]Template)}
}

// Register adds an effect template. The template is copied.
func (l *Library) Register(name string, t Template) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", postfx.ErrEmptyName)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.templates[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEffect, name)
	}
	t.Defaults = maps.Clone(t.Defaults)
	l.templates[name] = t
	l.order = append(l.order, name)
	return nil
}

// Names returns the effect names in registration order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.order)
}

// Template returns a copy of the named template.
func (l *Library) Template(name string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	if ok {
		t.Defaults = maps.Clone(t.Defaults)
	}
	return t, ok
}

// Create returns a new enabled stage for effect, named after it. overrides
// replace defaults and are type-checked against them.
func (l *Library) Create(effect string, overrides map[string]postfx.UniformValue) (*postfx.Stage, error) {
	return l.CreateNamed(effect, effect, overrides)
}

// CreateNamed is Create with an explicit stage name, for pipelines that use
// one effect more than once.
func (l *Library) CreateNamed(name, effect string, overrides map[string]postfx.UniformValue) (*postfx.Stage, error) {
	t, ok := l.Template(effect)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, effect)
	}

	s := postfx.NewStage(name, t.Source, t.Defaults)
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		if _, declared := t.Defaults[k]; !declared {
			return nil, fmt.Errorf("%w: %s has no uniform %q", ErrUnknownUniform, effect, k)
		}
		if err := s.Set(k, overrides[k]); err != nil {
			return nil, fmt.Errorf("library: create %s: %w", effect, err)
		}
	}
	return s, nil
}

// Default returns a sequential composite with one disabled stage per
// effect, in registration order. Enable stages by name through the
// pipeline:
//
//	p, _ := postfx.NewPipeline(b, w, h, lib.Default())
//	p.Stage("nightVision").Enable()
func (l *Library) Default() *postfx.Composite {
	names := l.Names()
	members := make([]postfx.Node, 0, len(names))
	for _, name := range names {
		s, err := l.Create(name, nil)
		if err != nil {
			continue
		}
		s.Disable()
		members = append(members, s)
	}
	return postfx.NewSequential("library", members...)
}
