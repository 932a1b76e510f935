package postfx

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/postfx/asset"
	"github.com/gogpu/postfx/backend"
)

// TextureLoader starts asynchronous texture loads. asset.Loader implements it.
type TextureLoader interface {
	LoadTexture(uri string) *asset.Future
}

type slotState int32

const (
	slotIdle    slotState = iota // load not requested yet
	slotLoading                  // load requested, no result
	slotDecoded                  // image available, not uploaded
	slotFailed                   // load failed; pending until rebound
)

// textureSlot binds a texture uniform to its handle.
//
// Loader goroutines only touch the atomic fields. uploaded and owner are
// owned by the render goroutine and guarded by the stage mutex.
type textureSlot struct {
	uri   string
	eager backend.Texture

	state    atomic.Int32
	img      atomic.Pointer[image.Image]
	loadErr  atomic.Pointer[error]
	detached atomic.Bool
	warned   bool

	uploaded backend.Texture
	owner    backend.Backend
}

func newTextureSlot(v UniformValue) *textureSlot {
	return &textureSlot{uri: v.uri, eager: v.tex}
}

// request starts the load if it has not been started. It never blocks.
func (s *textureSlot) request(loader TextureLoader) {
	if s.eager != nil || loader == nil {
		return
	}
	if !s.state.CompareAndSwap(int32(slotIdle), int32(slotLoading)) {
		return
	}
	loader.LoadTexture(s.uri).OnComplete(s.complete)
}

// complete runs on the loader goroutine.
func (s *textureSlot) complete(res asset.Result) {
	if s.detached.Load() {
		return
	}
	if res.Err != nil {
		err := res.Err
		s.loadErr.Store(&err)
		s.state.Store(int32(slotFailed))
		return
	}
	img := res.Image
	s.img.Store(&img)
	s.state.Store(int32(slotDecoded))
}

// ready reports whether resolve would return a handle, without uploading.
func (s *textureSlot) ready() bool {
	return s.eager != nil || s.uploaded != nil || slotState(s.state.Load()) == slotDecoded
}

// resolve returns the texture handle, uploading a decoded image on first
// use. ok is false while the slot is pending.
func (s *textureSlot) resolve(b backend.Backend) (tex backend.Texture, ok bool, err error) {
	if s.eager != nil {
		return s.eager, true, nil
	}
	if s.uploaded != nil {
		return s.uploaded, true, nil
	}
	if slotState(s.state.Load()) != slotDecoded {
		return nil, false, nil
	}
	img := *s.img.Load()
	tex, err = b.CreateTexture(img)
	if err != nil {
		return nil, false, err
	}
	s.uploaded = tex
	s.owner = b
	s.img.Store(nil)
	return tex, true, nil
}

// failure returns the load error, if the load failed.
func (s *textureSlot) failure() error {
	if p := s.loadErr.Load(); p != nil {
		return *p
	}
	return nil
}

// detach stops pending loads from writing back and returns the uploaded
// texture, which the caller must destroy on the render goroutine.
func (s *textureSlot) detach() (backend.Backend, backend.Texture) {
	s.detached.Store(true)
	b, tex := s.owner, s.uploaded
	s.owner, s.uploaded = nil, nil
	return b, tex
}
