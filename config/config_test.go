package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/library"
)

const sampleYAML = `
backend: software
width: 64
height: 32
textures: assets
pipeline:
  name: post
  members:
    - effect: fxaa
    - name: look
      mode: parallel
      blend: screen
      members:
        - effect: nightVision
        - effect: brightness
          uniforms: {brightness: 0.8}
    - name: tint
      effect: colorMultiply
      enabled: false
      uniforms:
        factor: [1, 0.5, 0.25, 1]
`

const sampleTOML = `
backend = "software"
width = 64
height = 32

[pipeline]
name = "post"

[[pipeline.members]]
effect = "blackAndWhite"
[pipeline.members.uniforms]
gradations = 3

[[pipeline.members]]
effect = "depthFog"
[pipeline.members.uniforms]
near = 0.1
color = [0.0, 0.0, 0.0, 1.0]
`

func TestParseYAML(t *testing.T) {
	f, err := Parse([]byte(sampleYAML), YAML)
	require.NoError(t, err)

	assert.Equal(t, "software", f.Backend)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 32, f.Height)
	assert.Equal(t, "post", f.Pipeline.Name)
	require.Len(t, f.Pipeline.Members, 3)
	assert.Equal(t, "parallel", f.Pipeline.Members[1].Mode)
	require.NotNil(t, f.Pipeline.Members[2].Enabled)
	assert.False(t, *f.Pipeline.Members[2].Enabled)

	format, err := f.TextureFormat()
	require.NoError(t, err)
	assert.Equal(t, gputypes.TextureFormatRGBA8Unorm, format)
}

func TestParseTOML(t *testing.T) {
	f, err := Parse([]byte(sampleTOML), TOML)
	require.NoError(t, err)

	require.Len(t, f.Pipeline.Members, 2)
	assert.Equal(t, "blackAndWhite", f.Pipeline.Members[0].Effect)
	assert.Contains(t, f.Pipeline.Members[1].Uniforms, "color")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		want   error
	}{
		{"unknown format", "a: 1", Format("ini"), ErrUnknownFormat},
		{"negative size", "width: -1\npipeline: {name: p}", YAML, ErrInvalid},
		{"bad format", "format: r16\npipeline: {name: p}", YAML, ErrInvalid},
		{"unnamed composite", "pipeline: {members: [{effect: fxaa}]}", YAML, ErrInvalid},
		{"effect with members", "pipeline: {name: p, effect: fxaa, members: [{effect: fxaa}]}", YAML, ErrInvalid},
		{"mode on stage", "pipeline: {name: p, members: [{effect: fxaa, mode: parallel}]}", YAML, ErrInvalid},
		{"unknown mode", "pipeline: {name: p, mode: zigzag}", YAML, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse([]byte("pipeline: {name: p}\ncolour: red"), YAML)
	assert.Error(t, err, "unknown fields are rejected")
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{"a.yaml": YAML, "b.YML": YAML, "c.toml": TOML} {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatOf("d.json")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadResolvesTextureDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "post.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "assets"), f.Textures)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	f, err := Parse([]byte(sampleYAML), YAML)
	require.NoError(t, err)

	for _, format := range []Format{YAML, TOML} {
		data, err := f.Marshal(format)
		require.NoError(t, err, format)
		back, err := Parse(data, format)
		require.NoError(t, err, format)
		assert.Equal(t, f.Pipeline.Name, back.Pipeline.Name, format)
		assert.Len(t, back.Pipeline.Members, len(f.Pipeline.Members), format)
	}
}

func TestBuild(t *testing.T) {
	f, err := Parse([]byte(sampleYAML), YAML)
	require.NoError(t, err)

	node, err := f.Build(library.New())
	require.NoError(t, err)

	root, ok := node.(*postfx.Composite)
	require.True(t, ok)
	assert.Equal(t, "post", root.Name())
	assert.Equal(t, postfx.Sequential, root.Mode())
	require.Equal(t, 3, root.Len())

	members := root.Members()
	look, ok := members[1].(*postfx.Composite)
	require.True(t, ok)
	assert.Equal(t, postfx.ParallelBlend, look.Mode())
	assert.Equal(t, "blend/screen", look.Blend().Name())

	bright := look.Members()[1].(*postfx.Stage)
	v, _ := bright.Get("brightness")
	assert.InDelta(t, 0.8, v.AsFloat(), 1e-6)

	tint := members[2].(*postfx.Stage)
	assert.Equal(t, "tint", tint.Name())
	assert.False(t, tint.Enabled())
	v, _ = tint.Get("factor")
	assert.Equal(t, [4]float32{1, 0.5, 0.25, 1}, v.AsVec())
}

func TestBuildTOML(t *testing.T) {
	f, err := Parse([]byte(sampleTOML), TOML)
	require.NoError(t, err)

	node, err := f.Build(library.New())
	require.NoError(t, err)

	members := node.(*postfx.Composite).Members()
	bw := members[0].(*postfx.Stage)
	v, _ := bw.Get("gradations")
	assert.Equal(t, postfx.KindFloat, v.Kind(), "integers widen to float")
	assert.InDelta(t, 3, v.AsFloat(), 1e-6)

	fog := members[1].(*postfx.Stage)
	v, _ = fog.Get("color")
	assert.Equal(t, [4]float32{0, 0, 0, 1}, v.AsVec())
}

func TestBuildDisabledCompositeDisablesStages(t *testing.T) {
	off := false
	n := Node{Name: "root", Enabled: &off, Members: []Node{
		{Effect: library.Brightness},
		{Name: "inner", Members: []Node{{Effect: library.FXAA}}},
	}}

	node, err := n.Build(library.New())
	require.NoError(t, err)
	assert.False(t, node.Active())

	var stages int
	var walk func(postfx.Node)
	walk = func(n postfx.Node) {
		switch n := n.(type) {
		case *postfx.Stage:
			stages++
			assert.False(t, n.Enabled(), n.Name())
		case *postfx.Composite:
			for _, m := range n.Members() {
				walk(m)
			}
		}
	}
	walk(node)
	assert.Equal(t, 2, stages)
}

func TestBuildErrors(t *testing.T) {
	lib := library.New()
	tests := []struct {
		name string
		node Node
		want error
	}{
		{"unknown effect", Node{Effect: "sepia"}, library.ErrUnknownEffect},
		{"unknown uniform", Node{Effect: library.Brightness, Uniforms: map[string]any{"gamma": 1.0}}, library.ErrUnknownUniform},
		{"wrong kind", Node{Effect: library.Brightness, Uniforms: map[string]any{"brightness": "high"}}, postfx.ErrTypeMismatch},
		{"unknown blend", Node{Name: "p", Mode: "parallel", Blend: "dodge"}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.node.Build(lib)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		raw  any
		kind postfx.UniformKind
		want postfx.UniformValue
	}{
		{0.25, postfx.KindFloat, postfx.Float(0.25)},
		{int64(2), postfx.KindFloat, postfx.Float(2)},
		{7, postfx.KindInt, postfx.Int(7)},
		{true, postfx.KindBool, postfx.Bool(true)},
		{"a.png", postfx.KindTexture, postfx.TextureURI("a.png")},
		{[]any{1, 2.5}, postfx.KindVec2, postfx.Vec2(1, 2.5)},
		{[]any{1.0, 2.0, 3.0}, postfx.KindVec3, postfx.Vec3(1, 2, 3)},
	}
	for _, tt := range tests {
		got, err := Convert(tt.raw, tt.kind)
		require.NoError(t, err, "%v -> %s", tt.raw, tt.kind)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []struct {
		raw  any
		kind postfx.UniformKind
	}{
		{"x", postfx.KindFloat},
		{1.5, postfx.KindInt},
		{[]any{1.0}, postfx.KindVec2},
		{[]any{1.0, "y"}, postfx.KindVec2},
		{"", postfx.KindTexture},
		{1, postfx.KindBool},
	} {
		_, err := Convert(bad.raw, bad.kind)
		assert.True(t, errors.Is(err, postfx.ErrTypeMismatch), "%v as %s", bad.raw, bad.kind)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "post.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: {name: first}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *File, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(f *File, err error) {
			if err == nil {
				got <- f
			}
		})
	}()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case f := <-got:
			assert.Equal(t, "second", f.Pipeline.Name)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("pipeline: {name: second}\n"), 0o600))
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
