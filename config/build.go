package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/library"
)

// Build turns the description's node tree into pipeline nodes, creating
// stages from lib. Uniform values are converted to the kinds the effects
// declare.
func (f *File) Build(lib *library.Library) (postfx.Node, error) {
	return f.Pipeline.Build(lib)
}

// Build creates the node and its members.
func (n *Node) Build(lib *library.Library) (postfx.Node, error) {
	node, err := n.build(lib, true)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return node, nil
}

func (n *Node) build(lib *library.Library, parentEnabled bool) (postfx.Node, error) {
	enabled := parentEnabled && (n.Enabled == nil || *n.Enabled)

	if n.Effect != "" {
		return n.buildStage(lib, enabled)
	}

	members := make([]postfx.Node, 0, len(n.Members))
	for i := range n.Members {
		m, err := n.Members[i].build(lib, enabled)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	if strings.EqualFold(n.Mode, "parallel") {
		blend := postfx.BlendAverage
		if n.Blend != "" {
			b, ok := postfx.BlendByName(n.Blend)
			if !ok {
				return nil, fmt.Errorf("%w: %s: unknown blend %q", ErrInvalid, n.Name, n.Blend)
			}
			blend = b
		}
		return postfx.NewParallel(n.Name, blend, members...), nil
	}
	return postfx.NewSequential(n.Name, members...), nil
}

func (n *Node) buildStage(lib *library.Library, enabled bool) (*postfx.Stage, error) {
	tmpl, ok := lib.Template(n.Effect)
	if !ok {
		return nil, fmt.Errorf("%w: %q", library.ErrUnknownEffect, n.Effect)
	}

	overrides := make(map[string]postfx.UniformValue, len(n.Uniforms))
	for _, k := range slices.Sorted(maps.Keys(n.Uniforms)) {
		def, declared := tmpl.Defaults[k]
		if !declared {
			return nil, fmt.Errorf("%w: %s has no uniform %q", library.ErrUnknownUniform, n.Effect, k)
		}
		v, err := Convert(n.Uniforms[k], def.Kind())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", n.Effect, k, err)
		}
		overrides[k] = v
	}

	name := n.Name
	if name == "" {
		name = n.Effect
	}
	s, err := lib.CreateNamed(name, n.Effect, overrides)
	if err != nil {
		return nil, err
	}
	s.SetEnabled(enabled)
	return s, nil
}

// Convert turns a decoded YAML or TOML value into a uniform of the given
// kind. Numbers are accepted for float and int kinds, lists of numbers for
// vectors, and strings for textures.
func Convert(raw any, kind postfx.UniformKind) (postfx.UniformValue, error) {
	mismatch := func() (postfx.UniformValue, error) {
		return postfx.UniformValue{}, fmt.Errorf("%w: %T is not a %s", postfx.ErrTypeMismatch, raw, kind)
	}

	switch kind {
	case postfx.KindFloat:
		if f, ok := number(raw); ok {
			return postfx.Float(float32(f)), nil
		}
	case postfx.KindInt:
		if f, ok := number(raw); ok && f == float64(int(f)) {
			return postfx.Int(int(f)), nil
		}
	case postfx.KindBool:
		if b, ok := raw.(bool); ok {
			return postfx.Bool(b), nil
		}
	case postfx.KindTexture:
		if s, ok := raw.(string); ok && s != "" {
			return postfx.TextureURI(s), nil
		}
	case postfx.KindVec2, postfx.KindVec3, postfx.KindVec4:
		want := int(kind-postfx.KindVec2) + 2
		list, ok := raw.([]any)
		if !ok || len(list) != want {
			return mismatch()
		}
		var v [4]float32
		for i, e := range list {
			f, ok := number(e)
			if !ok {
				return mismatch()
			}
			v[i] = float32(f)
		}
		switch kind {
		case postfx.KindVec2:
			return postfx.Vec2(v[0], v[1]), nil
		case postfx.KindVec3:
			return postfx.Vec3(v[0], v[1], v[2]), nil
		default:
			return postfx.Vec4(v[0], v[1], v[2], v[3]), nil
		}
	}
	return mismatch()
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
