package postfx

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/postfx/asset"
	"github.com/gogpu/postfx/backend"
)

// mockBackend records every call the pipeline makes.
type mockBackend struct {
	mu sync.Mutex

	nextID      int
	compiles    []string
	passes      []mockPass
	created     int
	destroyed   int
	textures    int
	texReleased []*mockTexture
	live        map[*mockTexture]bool

	epoch       uint64
	released    map[string]bool

	failCompile map[string]bool
	failSubmit  map[string]error
	onSubmit    func(*backend.Pass)

	logger *slog.Logger
}

type mockPass struct {
	program  string
	inputs   []backend.Texture
	target   backend.Texture
	uniforms []backend.Uniform
	frame    backend.FrameInfo
}

type mockTexture struct {
	id     int
	w, h   int
	label  string
	format gputypes.TextureFormat
}

func (t *mockTexture) Width() int                     { return t.w }
func (t *mockTexture) Height() int                    { return t.h }
func (t *mockTexture) Format() gputypes.TextureFormat { return t.format }
func (t *mockTexture) Label() string                  { return t.label }
func (t *mockTexture) String() string                 { return fmt.Sprintf("tex#%d", t.id) }

type mockProgram struct {
	name  string
	epoch uint64
}

func (p *mockProgram) Name() string { return p.name }

var errMockSubmit = errors.New("mock: submit failed")

func newMockBackend() *mockBackend {
	return &mockBackend{
		live:        make(map[*mockTexture]bool),
		released:    make(map[string]bool),
		failCompile: make(map[string]bool),
		failSubmit:  make(map[string]error),
	}
}

func (m *mockBackend) Name() string { return "mock" }
func (m *mockBackend) Init() error  { return nil }
func (m *mockBackend) Close()       {}

func (m *mockBackend) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// dropPrograms invalidates every compiled program the way a device switch
// does. With bump false the epoch stays put, as on a backend that cannot
// report the switch.
func (m *mockBackend) dropPrograms(bump bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bump {
		m.epoch++
	}
	m.released = make(map[string]bool)
	for _, name := range m.compiles {
		m.released[name] = true
	}
}

func (m *mockBackend) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l
}

func (m *mockBackend) newTexture(w, h int) *mockTexture {
	m.nextID++
	return &mockTexture{id: m.nextID, w: w, h: h, format: backend.DefaultFormat}
}

func (m *mockBackend) CompileProgram(src backend.ProgramSource) (backend.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiles = append(m.compiles, src.Name)
	if m.failCompile[src.Name] {
		return nil, fmt.Errorf("%w: %s", backend.ErrProgramLink, src.Name)
	}
	delete(m.released, src.Name)
	return &mockProgram{name: src.Name, epoch: m.epoch}, nil
}

func (m *mockBackend) CreateFramebuffer(w, h int, format gputypes.TextureFormat) (backend.Framebuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w <= 0 || h <= 0 {
		return nil, backend.ErrInvalidSize
	}
	t := m.newTexture(w, h)
	t.format = format
	t.label = fmt.Sprintf("fb#%d", t.id)
	m.live[t] = true
	m.created++
	return t, nil
}

func (m *mockBackend) DestroyFramebuffer(fb backend.Framebuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := fb.(*mockTexture)
	if m.live[t] {
		delete(m.live, t)
		m.destroyed++
	}
}

func (m *mockBackend) CreateTexture(img image.Image) (backend.Texture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := img.Bounds()
	m.textures++
	return m.newTexture(b.Dx(), b.Dy()), nil
}

func (m *mockBackend) DestroyTexture(tex backend.Texture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texReleased = append(m.texReleased, tex.(*mockTexture))
}

func (m *mockBackend) SubmitFullscreenPass(p *backend.Pass) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if m.onSubmit != nil {
		m.onSubmit(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSubmit[p.Program.Name()]; err != nil {
		return err
	}
	if mp := p.Program.(*mockProgram); mp.epoch != m.epoch || m.released[mp.name] {
		return fmt.Errorf("%w: program %q", backend.ErrReleased, mp.name)
	}
	if !m.live[p.Target.(*mockTexture)] {
		return backend.ErrReleased
	}
	m.passes = append(m.passes, mockPass{
		program:  p.Program.Name(),
		inputs:   append([]backend.Texture(nil), p.Inputs...),
		target:   p.Target,
		uniforms: append([]backend.Uniform(nil), p.Uniforms...),
		frame:    p.Frame,
	})
	return nil
}

func (m *mockBackend) ReadPixels(backend.Texture) (*backend.Image, error) {
	return nil, errors.New("mock: no pixels")
}

func (m *mockBackend) programs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.passes))
	for i, p := range m.passes {
		names[i] = p.program
	}
	return names
}

func (m *mockBackend) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = nil
}

// prog returns a program source whose name is unique to the test.
func prog(name string) backend.ProgramSource {
	return backend.ProgramSource{
		Name: name,
		WGSL: "fn shade(coord: vec2<i32>, uv: vec2<f32>) -> vec4<f32> { return sample_color(uv); }",
		Kernel: func(f *backend.Fragment) [4]float32 {
			return f.Color()
		},
	}
}

// fakeLoader hands out futures the test resolves by hand.
type fakeLoader struct {
	mu      sync.Mutex
	futures map[string][]*asset.Future
	calls   int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{futures: make(map[string][]*asset.Future)}
}

func (l *fakeLoader) LoadTexture(uri string) *asset.Future {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	f := asset.NewFuture()
	l.futures[uri] = append(l.futures[uri], f)
	return f
}

func (l *fakeLoader) resolve(uri string, img image.Image, err error) {
	l.mu.Lock()
	fs := l.futures[uri]
	l.mu.Unlock()
	for _, f := range fs {
		f.Resolve(img, err)
	}
}

func (l *fakeLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
