// Package postfx provides a screen-space post-processing pipeline for
// real-time renderers.
//
// # Overview
//
// A Pipeline applies a tree of full-screen passes to a rendered color
// buffer (and optional depth buffer). Leaves are Stages: one program plus
// its uniforms. Inner nodes are Composites, which either chain their
// members (Sequential) or run them side by side on the same input and
// blend the results (ParallelBlend).
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/postfx"
//	    "github.com/gogpu/postfx/backend"
//	    _ "github.com/gogpu/postfx/backend/software"
//	    "github.com/gogpu/postfx/library"
//	)
//
//	b, _ := backend.Open("")
//	lib := library.New()
//	bw, _ := lib.Create("blackAndWhite", map[string]postfx.UniformValue{
//	    "gradations": postfx.Float(8),
//	})
//	p, _ := postfx.NewPipeline(b, 1280, 720, postfx.NewSequential("post", bw))
//
//	for running {
//	    out := p.Apply(sceneColor, sceneDepth)
//	    present(out)
//	}
//
// # Enabling and Disabling
//
// Disabled stages are identities: they submit nothing and pass their input
// through, so toggling an effect never changes the shape of the buffer
// chain. A pipeline with no enabled stage returns the scene color as is.
//
// # Uniforms
//
// Uniform kinds are fixed by the first value set; a later value of another
// kind is rejected with a *TypeMismatchError at Set time. Texture uniforms
// may name a URI. The image is fetched in the background through the
// pipeline's TextureLoader, and the stage is skipped until it arrives.
//
// # Failure Handling
//
// Apply is fail-open. If a program fails to link or a pass cannot run, the
// frame falls back to the unprocessed input and the error is reported via
// LastError, the error handler and the logger.
//
// # Buffers
//
// Intermediate framebuffers come from a pool owned by the pipeline. A
// sequential chain holds at most two of them at a time. Resize destroys
// the pool.
package postfx
