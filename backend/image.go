package backend

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image is a CPU-side RGBA buffer with float components in [0, 1].
// Colors are stored unpremultiplied, four float32 values per pixel.
//
// Image is what ReadPixels returns and what the software backend renders
// into. It implements image.Image and Sampler.
type Image struct {
	width  int
	height int
	pix    []float32
}

// NewImage creates a transparent image with the given dimensions.
func NewImage(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		width:  width,
		height: height,
		pix:    make([]float32, width*height*4),
	}
}

// ImageFrom converts any image.Image into an Image.
// The source is normalized to NRGBA with golang.org/x/image/draw first so
// paletted, gray and premultiplied sources all take the same path.
func ImageFrom(src image.Image) *Image {
	b := src.Bounds()
	nrgba, ok := src.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	}

	img := NewImage(b.Dx(), b.Dy())
	for y := 0; y < img.height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+img.width*4]
		dst := img.pix[y*img.width*4 : (y+1)*img.width*4]
		for i, v := range row {
			dst[i] = float32(v) / 255
		}
	}
	return img
}

// Width returns the image width in pixels.
func (m *Image) Width() int {
	return m.width
}

// Height returns the image height in pixels.
func (m *Image) Height() int {
	return m.height
}

// Pix returns the raw pixel data (RGBA, four floats per pixel).
func (m *Image) Pix() []float32 {
	return m.pix
}

// Fetch returns the pixel at (x, y), clamping coordinates to the edges.
func (m *Image) Fetch(x, y int) [4]float32 {
	if m.width == 0 || m.height == 0 {
		return [4]float32{}
	}
	x = clampInt(x, 0, m.width-1)
	y = clampInt(y, 0, m.height-1)
	i := (y*m.width + x) * 4
	return [4]float32{m.pix[i], m.pix[i+1], m.pix[i+2], m.pix[i+3]}
}

// Sample returns the nearest pixel to normalized coordinates (u, v).
func (m *Image) Sample(u, v float32) [4]float32 {
	return m.Fetch(int(floor32(u*float32(m.width))), int(floor32(v*float32(m.height))))
}

// Set stores c at (x, y). Out-of-bounds writes are ignored.
func (m *Image) Set(x, y int, c [4]float32) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return
	}
	i := (y*m.width + x) * 4
	m.pix[i+0] = clamp01(c[0])
	m.pix[i+1] = clamp01(c[1])
	m.pix[i+2] = clamp01(c[2])
	m.pix[i+3] = clamp01(c[3])
}

// Fill sets every pixel to c.
func (m *Image) Fill(c [4]float32) {
	for i := 0; i < len(m.pix); i += 4 {
		m.pix[i+0] = clamp01(c[0])
		m.pix[i+1] = clamp01(c[1])
		m.pix[i+2] = clamp01(c[2])
		m.pix[i+3] = clamp01(c[3])
	}
}

// CopyFrom copies src into m. Both images must have the same size.
func (m *Image) CopyFrom(src *Image) {
	if src.width != m.width || src.height != m.height {
		return
	}
	copy(m.pix, src.pix)
}

// Equal reports whether both images have identical size and contents.
func (m *Image) Equal(other *Image) bool {
	if other == nil || m.width != other.width || m.height != other.height {
		return false
	}
	for i := range m.pix {
		if m.pix[i] != other.pix[i] {
			return false
		}
	}
	return true
}

// ToNRGBA converts the image to an 8-bit image.NRGBA.
func (m *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.width, m.height))
	for i, v := range m.pix {
		out.Pix[i] = to8(v)
	}
	return out
}

// At implements the image.Image interface.
func (m *Image) At(x, y int) color.Color {
	c := m.Fetch(x, y)
	return color.NRGBA{R: to8(c[0]), G: to8(c[1]), B: to8(c[2]), A: to8(c[3])}
}

// Bounds implements the image.Image interface.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// ColorModel implements the image.Image interface.
func (m *Image) ColorModel() color.Model {
	return color.NRGBAModel
}

func to8(v float32) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floor32(v float32) float32 {
	i := float32(int(v))
	if i > v {
		i--
	}
	return i
}
