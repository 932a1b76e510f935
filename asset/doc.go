// Package asset loads images for texture uniforms.
//
// A Loader resolves URIs (local paths, file://, http(s):// and data: URIs)
// on background goroutines and hands back a Future that the render thread
// can poll without blocking:
//
//	loader := asset.NewLoader(asset.WithRoot("assets"))
//	f := loader.LoadTexture("textures/cockpit.png")
//	if res, ok := f.Poll(); ok && res.Err == nil {
//		use(res.Image)
//	}
//
// Decoded images are cached by URI, and concurrent requests for the same URI
// share a single load.
package asset
