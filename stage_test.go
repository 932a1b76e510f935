package postfx

import (
	"bytes"
	"errors"
	"image"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func TestStageSetTypeMismatch(t *testing.T) {
	s := NewStage("s", prog("s"), map[string]UniformValue{"alpha": Float(0.5)})

	err := s.Set("alpha", Vec3(1, 2, 3))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Set() error = %v, want ErrTypeMismatch", err)
	}
	var tm *TypeMismatchError
	if !errors.As(err, &tm) || tm.Name != "alpha" || tm.Want != KindFloat || tm.Got != KindVec3 {
		t.Errorf("TypeMismatchError = %+v", tm)
	}
	if v, _ := s.Get("alpha"); v.AsFloat() != 0.5 {
		t.Errorf("failed Set changed the value to %v", v)
	}

	if err := s.Set("alpha", Float(0.25)); err != nil {
		t.Errorf("Set(same kind) error = %v", err)
	}
	if err := s.Set("fresh", Int(3)); err != nil {
		t.Errorf("Set(new name) error = %v", err)
	}
	if got := s.Kind("fresh"); got != KindInt {
		t.Errorf("Kind(fresh) = %v, want int", got)
	}
}

func TestStageSetInvalid(t *testing.T) {
	s := NewStage("s", prog("s"), nil)
	tests := []struct {
		name string
		v    UniformValue
	}{
		{"", Float(1)},
		{"zero", UniformValue{}},
		{"tex", Texture(nil)},
		{"uri", TextureURI("")},
	}
	for _, tt := range tests {
		if err := s.Set(tt.name, tt.v); !errors.Is(err, ErrInvalidUniform) {
			t.Errorf("Set(%q, %v) error = %v, want ErrInvalidUniform", tt.name, tt.v, err)
		}
	}
}

func TestStageDeclare(t *testing.T) {
	s := NewStage("s", prog("s"), map[string]UniformValue{"a": Float(1)})

	if err := s.Declare("a", KindFloat); err != nil {
		t.Errorf("Declare(existing, same kind) error = %v", err)
	}
	if err := s.Declare("a", KindBool); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Declare(existing, other kind) error = %v", err)
	}
	if err := s.Declare("b", KindInvalid); !errors.Is(err, ErrInvalidUniform) {
		t.Errorf("Declare(invalid kind) error = %v", err)
	}
	if err := s.Declare("b", KindVec4); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("b"); ok {
		t.Error("declared uniform must be unset")
	}
	if s.Ready() {
		t.Error("stage with an unset uniform is not ready")
	}
	if err := s.Set("b", Float(1)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Set(b, float) error = %v, want mismatch with declared vec4", err)
	}
	if got := s.UniformNames(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("UniformNames() = %v", got)
	}
}

func TestStageReset(t *testing.T) {
	s := NewStage("s", prog("s"), map[string]UniformValue{
		"gain": Float(2),
		"bad":  {},
	})
	_ = s.Set("gain", Float(7))
	_ = s.Set("extra", Bool(true))
	s.Disable()

	s.Reset()
	if v, ok := s.Get("gain"); !ok || v.AsFloat() != 2 {
		t.Errorf("gain = %v after Reset, want 2", v)
	}
	if _, ok := s.Get("extra"); ok {
		t.Error("Reset must drop uniforms added after construction")
	}
	if _, ok := s.Get("bad"); ok {
		t.Error("zero defaults must be ignored")
	}
	if s.Enabled() {
		t.Error("Reset must not touch the enabled flag")
	}
}

func TestStageEnableFlags(t *testing.T) {
	s := NewStage("s", prog("s"), nil)
	if !s.Enabled() || !s.Active() {
		t.Fatal("new stages are enabled")
	}
	s.SetEnabled(false)
	if s.Enabled() {
		t.Error("SetEnabled(false) had no effect")
	}
	s.Enable()
	s.Destroy()
	if !s.Enabled() || s.Active() {
		t.Error("destroyed stages are inactive but keep their flag")
	}
}

func TestPendingTextureThenReady(t *testing.T) {
	m := newMockBackend()
	loader := newFakeLoader()
	s := NewStage("overlay", prog("overlay"), map[string]UniformValue{
		"alpha":   Float(0.5),
		"texture": TextureURI("cockpit.png"),
	})
	p := newPipeline(t, m, s, WithTextureLoader(loader))
	in := sceneInput(m, 2, 2)

	for range 2 {
		if out := p.Apply(in, nil); out != in {
			t.Fatal("stage with a pending texture must pass its input through")
		}
	}
	if len(m.passes) != 0 {
		t.Fatalf("submitted %d passes while pending", len(m.passes))
	}
	if loader.callCount() != 1 {
		t.Errorf("LoadTexture called %d times, want 1", loader.callCount())
	}
	if st := p.Stats(); st.SkippedStages != 2 || st.Failures != 0 {
		t.Errorf("Stats = %+v", st)
	}
	if s.Ready() {
		t.Error("Ready() must be false while loading")
	}

	loader.resolve("cockpit.png", image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil)
	if !s.Ready() {
		t.Error("Ready() must be true once the image arrived")
	}

	out := p.Apply(in, nil)
	if len(m.passes) != 1 || out != m.passes[0].target {
		t.Fatalf("expected one pass after the load, got %d", len(m.passes))
	}
	u := m.passes[0].uniforms
	if len(u) != 2 || u[1].Name != "texture" || u[1].Texture == nil {
		t.Fatalf("uniforms = %+v", u)
	}
	if w := u[1].Texture.Width(); w != 4 {
		t.Errorf("texture width = %d, want 4", w)
	}

	p.Apply(in, nil)
	if m.textures != 1 {
		t.Errorf("texture uploaded %d times, want 1", m.textures)
	}
}

func TestRebindDetachesPendingLoad(t *testing.T) {
	m := newMockBackend()
	loader := newFakeLoader()
	s := NewStage("s", prog("s"), map[string]UniformValue{"tex": TextureURI("a.png")})
	p := newPipeline(t, m, s, WithTextureLoader(loader))
	in := sceneInput(m, 2, 2)

	p.Apply(in, nil)
	if err := s.Set("tex", TextureURI("b.png")); err != nil {
		t.Fatal(err)
	}
	loader.resolve("a.png", image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil)

	p.Apply(in, nil)
	if len(m.passes) != 0 {
		t.Fatal("a late load for a rebound slot must not make the stage run")
	}

	loader.resolve("b.png", image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil)
	p.Apply(in, nil)
	if len(m.passes) != 1 {
		t.Fatalf("passes = %d, want 1", len(m.passes))
	}

	// Rebinding releases the uploaded texture on the next frame.
	uploaded := m.passes[0].uniforms[0].Texture
	_ = s.Set("tex", TextureURI("c.png"))
	p.Apply(in, nil)
	if len(m.texReleased) != 1 || m.texReleased[0] != uploaded {
		t.Errorf("released textures = %v, want the uploaded one", m.texReleased)
	}
}

func TestLoadAfterDestroyIsDiscarded(t *testing.T) {
	m := newMockBackend()
	loader := newFakeLoader()
	s := NewStage("s", prog("s"), map[string]UniformValue{"tex": TextureURI("late.png")})
	p, err := NewPipeline(m, 2, 2, s, WithTextureLoader(loader))
	if err != nil {
		t.Fatal(err)
	}
	in := sceneInput(m, 2, 2)

	p.Apply(in, nil)
	s.mu.Lock()
	slot := s.bindings["tex"].slot
	s.mu.Unlock()
	if slot == nil || loader.callCount() != 1 {
		t.Fatalf("load not started: slot = %v, calls = %d", slot, loader.callCount())
	}

	p.Destroy()
	loader.resolve("late.png", image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil)

	if slot.ready() || slot.img.Load() != nil {
		t.Error("a load finishing after Destroy must be dropped")
	}
	if out := p.Apply(in, nil); out != in {
		t.Error("Apply after Destroy must return its input")
	}
	if m.textures != 0 || len(m.texReleased) != 0 {
		t.Errorf("uploaded %d, released %d; want nothing touched", m.textures, len(m.texReleased))
	}
	if len(m.passes) != 0 {
		t.Errorf("submitted %d passes", len(m.passes))
	}
}

func TestDestroyReleasesUploadedTextures(t *testing.T) {
	m := newMockBackend()
	loader := newFakeLoader()
	s := NewStage("s", prog("s"), map[string]UniformValue{"tex": TextureURI("t.png")})
	p, err := NewPipeline(m, 2, 2, s, WithTextureLoader(loader))
	if err != nil {
		t.Fatal(err)
	}
	in := sceneInput(m, 2, 2)

	p.Apply(in, nil)
	loader.resolve("t.png", image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil)
	p.Apply(in, nil)
	if m.textures != 1 {
		t.Fatalf("uploaded %d textures, want 1", m.textures)
	}

	p.Destroy()
	if len(m.texReleased) != m.textures {
		t.Errorf("released %d of %d uploaded textures", len(m.texReleased), m.textures)
	}
}

func TestFailedTextureLoadStaysPending(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	m := newMockBackend()
	loader := newFakeLoader()
	s := NewStage("s", prog("s"), map[string]UniformValue{"tex": TextureURI("missing.png")})
	p := newPipeline(t, m, s, WithTextureLoader(loader), WithLogger(log))
	in := sceneInput(m, 2, 2)

	p.Apply(in, nil)
	loader.resolve("missing.png", nil, errors.New("not found"))
	for range 3 {
		if out := p.Apply(in, nil); out != in {
			t.Fatal("failed texture must keep the stage skipped")
		}
	}
	if p.LastError() != nil {
		t.Errorf("a failed load is not a frame failure: %v", p.LastError())
	}
	if n := strings.Count(buf.String(), "texture load failed"); n != 1 {
		t.Errorf("warned %d times, want 1:\n%s", n, buf.String())
	}

	_ = s.Set("tex", TextureURI("found.png"))
	p.Apply(in, nil)
	loader.resolve("found.png", image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil)
	p.Apply(in, nil)
	if len(m.passes) != 1 {
		t.Errorf("passes = %d after rebinding, want 1", len(m.passes))
	}
}

func TestEagerTextureAndMissingLoader(t *testing.T) {
	m := newMockBackend()
	eager := sceneInput(m, 3, 3)
	s := NewStage("s", prog("s"), map[string]UniformValue{"tex": Texture(eager)})
	lazy := NewStage("lazy", prog("lazy"), map[string]UniformValue{"tex": TextureURI("x.png")})
	p := newPipeline(t, m, NewSequential("root", s, lazy))

	p.Apply(sceneInput(m, 2, 2), nil)
	if got := strings.Join(m.programs(), ","); got != "s" {
		t.Fatalf("passes = %s; only the eager stage can run without a loader", got)
	}
	if m.passes[0].uniforms[0].Texture != eager {
		t.Error("eager texture must be bound as is")
	}
	if m.textures != 0 {
		t.Error("eager textures are not uploaded")
	}
}
