package asset

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/h2non/filetype"
	xdraw "golang.org/x/image/draw"
)

// Decode decodes an encoded image in any registered format and returns it as
// *image.NRGBA. Images larger than maxDim on either side are downscaled,
// preserving aspect ratio. maxDim <= 0 disables the limit.
func Decode(data []byte, maxDim int) (*image.NRGBA, error) {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && !filetype.IsImage(data) {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, kind.MIME.Value)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	logger().Debug("asset: decoded image", "format", format, "bounds", src.Bounds())
	return normalize(src, maxDim), nil
}

// normalize converts src to NRGBA with a zero origin, downscaling with a
// Catmull-Rom filter when it exceeds maxDim.
func normalize(src image.Image, maxDim int) *image.NRGBA {
	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

func fitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
