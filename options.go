package postfx

import (
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/postfx/backend"
)

// Option configures a Pipeline during creation.
//
// Example:
//
//	loader := asset.NewLoader(asset.WithRoot("assets"))
//	p, err := postfx.NewPipeline(b, 1280, 720, root,
//	    postfx.WithTextureLoader(loader),
//	    postfx.WithErrorHandler(func(err error) { metrics.Inc("postfx_fail") }),
//	)
type Option func(*options)

type options struct {
	format        gputypes.TextureFormat
	loader        TextureLoader
	onError       func(error)
	logger        *slog.Logger
	fixedViewport bool
}

func defaultOptions() options {
	return options{format: backend.DefaultFormat}
}

// WithFormat sets the format of intermediate framebuffers.
func WithFormat(format gputypes.TextureFormat) Option {
	return func(o *options) {
		var undefined gputypes.TextureFormat
		if format != undefined {
			o.format = format
		}
	}
}

// WithTextureLoader sets the loader used for texture uniforms bound by URI.
// Without a loader such uniforms stay pending and their stages are skipped.
func WithTextureLoader(l TextureLoader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithErrorHandler registers fn to receive every error that made Apply fall
// back to its input. fn runs on the Apply goroutine and must not call back
// into the pipeline.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithLogger gives the pipeline its own logger instead of the package
// logger set with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFixedViewport makes Apply reject inputs whose size differs from the
// viewport instead of resizing to them.
func WithFixedViewport() Option {
	return func(o *options) {
		o.fixedViewport = true
	}
}
