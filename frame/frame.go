// Package frame holds the color and depth buffers exchanged by cooperating
// render processes.
//
// An Image is a tightly packed color buffer with 3 (RGB) or 4 (RGBA) bytes
// per pixel. A Pair couples an Image with a depth buffer of one float32 per
// pixel; smaller depth values are nearer the viewer and the sentinel Far
// marks pixels where nothing was drawn. Row 0 is the first scanline the
// render target returns; no vertical flip is ever applied.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Far is the depth of background pixels: nothing was drawn there.
const Far float32 = 1.0

// Frame buffer errors
var (
	ErrComponents   = errors.New("frame: color components must be 3 or 4")
	ErrSizeMismatch = errors.New("frame: buffer length does not match dimensions")
	ErrBounds       = errors.New("frame: region out of bounds")
)

// Image is a packed color buffer.
type Image struct {
	Width      int
	Height     int
	Components int
	Pix        []byte
}

// NewImage allocates a zeroed image.
func NewImage(width, height, components int) *Image {
	img := &Image{}
	img.Resize(width, height, components)
	return img
}

// Pixels returns the number of pixels.
func (m *Image) Pixels() int {
	return m.Width * m.Height
}

// Bounds returns the image rectangle with its origin at (0, 0).
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Resize changes the dimensions, reusing the existing storage when it is
// large enough. Pixel contents are unspecified afterwards.
func (m *Image) Resize(width, height, components int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	m.Width, m.Height, m.Components = width, height, components
	n := width * height * components
	if cap(m.Pix) >= n {
		m.Pix = m.Pix[:n]
		return
	}
	m.Pix = make([]byte, n)
}

// Validate checks the buffer invariants.
func (m *Image) Validate() error {
	if m.Components != 3 && m.Components != 4 {
		return fmt.Errorf("%w: got %d", ErrComponents, m.Components)
	}
	if len(m.Pix) != m.Width*m.Height*m.Components {
		return fmt.Errorf("%w: %dx%dx%d color, %d bytes", ErrSizeMismatch,
			m.Width, m.Height, m.Components, len(m.Pix))
	}
	return nil
}

// PixOffset returns the index of the first byte of pixel (x, y).
func (m *Image) PixOffset(x, y int) int {
	return (y*m.Width + x) * m.Components
}

// At returns the color of pixel (x, y). Three-component images report an
// opaque alpha.
func (m *Image) At(x, y int) color.RGBA {
	i := m.PixOffset(x, y)
	c := color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xFF}
	if m.Components == 4 {
		c.A = m.Pix[i+3]
	}
	return c
}

// Set stores c at pixel (x, y). Alpha is dropped for three-component images.
func (m *Image) Set(x, y int, c color.RGBA) {
	i := m.PixOffset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
	if m.Components == 4 {
		m.Pix[i+3] = c.A
	}
}

// CopyFrom makes m a copy of src, reusing m's storage when possible.
func (m *Image) CopyFrom(src *Image) {
	m.Resize(src.Width, src.Height, src.Components)
	copy(m.Pix, src.Pix)
}

// Region copies the inclusive rectangle (x1,y1)-(x2,y2) into a new image.
// Corners may be given in any order.
func (m *Image) Region(x1, y1, x2, y2 int) (*Image, error) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	if x1 < 0 || y1 < 0 || x2 >= m.Width || y2 >= m.Height {
		return nil, ErrBounds
	}
	w, h := x2-x1+1, y2-y1+1
	out := NewImage(w, h, m.Components)
	rowBytes := w * m.Components
	for row := 0; row < h; row++ {
		src := m.PixOffset(x1, y1+row)
		copy(out.Pix[row*rowBytes:(row+1)*rowBytes], m.Pix[src:src+rowBytes])
	}
	return out, nil
}

// ToRGBA converts the image into an *image.RGBA without flipping rows.
func (m *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	if m.Components == 4 {
		copy(out.Pix, m.Pix)
		return out
	}
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+4 {
		out.Pix[j] = m.Pix[i]
		out.Pix[j+1] = m.Pix[i+1]
		out.Pix[j+2] = m.Pix[i+2]
		out.Pix[j+3] = 0xFF
	}
	return out
}

// FromImage converts any image.Image into a packed image with the given
// number of components.
func FromImage(src image.Image, components int) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy(), components)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			out.Set(x, y, c)
		}
	}
	return out
}

// Pair is a color image with a parallel depth buffer of the same size.
type Pair struct {
	Image
	Depth []float32
}

// NewPair allocates a pair whose depth is cleared to Far.
func NewPair(width, height, components int) *Pair {
	p := &Pair{}
	p.Resize(width, height, components)
	p.ClearDepth()
	return p
}

// Resize changes both buffers in lock-step, reusing storage when possible.
func (p *Pair) Resize(width, height, components int) {
	p.Image.Resize(width, height, components)
	n := p.Image.Pixels()
	if cap(p.Depth) >= n {
		p.Depth = p.Depth[:n]
		return
	}
	p.Depth = make([]float32, n)
}

// ClearDepth sets every depth sample to Far.
func (p *Pair) ClearDepth() {
	for i := range p.Depth {
		p.Depth[i] = Far
	}
}

// Clear fills the color buffer with c and the depth buffer with Far.
func (p *Pair) Clear(c color.RGBA) {
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			p.Set(x, y, c)
		}
	}
	p.ClearDepth()
}

// Validate checks that both buffers match the dimensions.
func (p *Pair) Validate() error {
	if err := p.Image.Validate(); err != nil {
		return err
	}
	if len(p.Depth) != p.Width*p.Height {
		return fmt.Errorf("%w: %dx%d depth, %d samples", ErrSizeMismatch,
			p.Width, p.Height, len(p.Depth))
	}
	return nil
}

// SameShape reports whether p and q have identical dimensions and component
// counts.
func (p *Pair) SameShape(q *Pair) bool {
	return p.Width == q.Width && p.Height == q.Height && p.Components == q.Components
}

// CopyFrom makes p a copy of src.
func (p *Pair) CopyFrom(src *Pair) {
	p.Resize(src.Width, src.Height, src.Components)
	copy(p.Pix, src.Pix)
	copy(p.Depth, src.Depth)
}
