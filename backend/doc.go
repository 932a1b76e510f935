// Package backend defines the graphics capability surface consumed by the
// postfx pipeline.
//
// A post-processing pipeline needs very little from a graphics API:
// render targets it can allocate and destroy, sampled textures for
// uploaded images, compiled programs, and a way to submit one full-screen
// pass. Backend captures exactly that surface so the pipeline engine stays
// independent of the underlying API.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import _ "github.com/gogpu/postfx/backend/software"
//	import _ "github.com/gogpu/postfx/backend/wgpu"
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	b := backend.Default()
//	if err := b.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
// # Programs
//
// A ProgramSource is an opaque blob as far as the pipeline is concerned.
// It carries a WGSL body for GPU backends and a Kernel for the software
// backend; each backend picks the representation it understands and
// reports ErrProgramLink when the source has none it can use.
package backend
