// Package scale converts color images between the full resolution of a
// render target and the reduced resolution used to save compositing
// bandwidth.
//
// Both magnifiers always produce four-component output. Nearest keeps the
// alpha of four-component input and writes 0xFF otherwise; Linear output
// is always opaque.
package scale

import (
	"encoding/binary"
	"fmt"
	"image"
	"strings"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/xmath"
)

// Method selects the magnification algorithm.
type Method int

const (
	// Nearest replicates the closest source pixel.
	Nearest Method = iota
	// Linear blends neighbors; it only supports power-of-two factors.
	Linear
)

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses "nearest" or "linear".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "nearest", "":
		return Nearest, nil
	case "linear":
		return Linear, nil
	}
	return Nearest, fmt.Errorf("scale: unknown magnify method %q", s)
}

// RequiresPowerOfTwo reports whether the method only handles power-of-two
// reduction factors.
func (m Method) RequiresPowerOfTwo() bool {
	return m == Linear
}

// Magnify upsamples src to a width x height four-component dst with the
// given method.
func Magnify(m Method, dst, src *frame.Image, width, height int) {
	dst.Resize(width, height, 4)
	switch m {
	case Linear:
		MagnifyLinearRect(dst, dst.Bounds(), src, src.Bounds())
	default:
		MagnifyNearestRect(dst, dst.Bounds(), src, src.Bounds())
	}
}

// MagnifyNearest upsamples src to width x height by pixel replication.
func MagnifyNearest(dst, src *frame.Image, width, height int) {
	Magnify(Nearest, dst, src, width, height)
}

// MagnifyLinear upsamples src to width x height with power-of-two blending.
func MagnifyLinear(dst, src *frame.Image, width, height int) {
	Magnify(Linear, dst, src, width, height)
}

// MagnifyNearestRect fills the dr rectangle of dst from the sr rectangle
// of src. dst must have four components. Destination pixel (x, y) takes
// source pixel (x*srcW/destW, y*srcH/destH) relative to the rectangles.
func MagnifyNearestRect(dst *frame.Image, dr image.Rectangle, src *frame.Image, sr image.Rectangle) {
	destW, destH := dr.Dx(), dr.Dy()
	srcW, srcH := sr.Dx(), sr.Dy()
	if destW <= 0 || destH <= 0 || srcW <= 0 || srcH <= 0 {
		return
	}
	comps := src.Components
	rowBytes := 4 * destW

	// Source column of every destination column.
	cols := make([]int, destW)
	for x := range cols {
		cols[x] = (sr.Min.X + x*srcW/destW) * comps
	}

	lastSrcRow := -1
	for y := 0; y < destH; y++ {
		srcRow := sr.Min.Y + y*srcH/destH
		d := dst.PixOffset(dr.Min.X, dr.Min.Y+y)
		destLine := dst.Pix[d : d+rowBytes]

		if srcRow == lastSrcRow {
			prev := dst.PixOffset(dr.Min.X, dr.Min.Y+y-1)
			copy(destLine, dst.Pix[prev:prev+rowBytes])
			continue
		}

		s := src.PixOffset(0, srcRow)
		srcLine := src.Pix[s : s+src.Width*comps]
		if comps == 4 {
			for x, c := range cols {
				copy(destLine[4*x:4*x+4], srcLine[c:c+4])
			}
		} else {
			for x, c := range cols {
				o := 4 * x
				destLine[o], destLine[o+1], destLine[o+2], destLine[o+3] = srcLine[c], srcLine[c+1], srcLine[c+2], 0xFF
			}
		}
		lastSrcRow = srcRow
	}
}

// half divides each of the four bytes of a packed pixel by two.
func half(v uint32) uint32 {
	return (v >> 1) & 0x7F7F7F7F
}

// blend averages two packed little-endian pixels and keeps them opaque.
func blend(a, b uint32) uint32 {
	return (half(a) + half(b)) | 0xFF000000
}

// MagnifyLinearRect fills the dr rectangle of dst from the sr rectangle of
// src by linear interpolation. The magnification in each axis is rounded up
// to a power of two: source pixels are first placed on a sparse grid, then
// the gaps are filled by averaging the two neighbors at half the stride
// until the stride reaches one. Trailing edge columns and rows copy their
// neighbor.
func MagnifyLinearRect(dst *frame.Image, dr image.Rectangle, src *frame.Image, sr image.Rectangle) {
	destW, destH := dr.Dx(), dr.Dy()
	srcW, srcH := sr.Dx(), sr.Dy()
	if destW <= 0 || destH <= 0 || srcW <= 0 || srcH <= 0 {
		return
	}
	xmag := xmath.CeilPow2(xmath.CeilDiv(destW, srcW))
	ymag := xmath.CeilPow2(xmath.CeilDiv(destH, srcH))
	comps := src.Components
	le := binary.LittleEndian

	at := func(x, y int) int { return dst.PixOffset(dr.Min.X+x, dr.Min.Y+y) }

	for y, sy := 0, sr.Min.Y; y < destH; y, sy = y+ymag, sy+1 {
		s := src.PixOffset(sr.Min.X, sy)
		for x := 0; x < destW; x += xmag {
			d := at(x, y)
			dst.Pix[d], dst.Pix[d+1], dst.Pix[d+2], dst.Pix[d+3] = src.Pix[s], src.Pix[s+1], src.Pix[s+2], 0xFF
			s += comps
		}
	}

	for ; xmag > 1; xmag >>= 1 {
		h := xmag / 2
		for y := 0; y < destH; y += ymag {
			x := h
			for ; x < destW-h; x += xmag {
				a := le.Uint32(dst.Pix[at(x-h, y):])
				b := le.Uint32(dst.Pix[at(x+h, y):])
				le.PutUint32(dst.Pix[at(x, y):], blend(a, b))
			}
			if x < destW {
				copy(dst.Pix[at(x, y):at(x, y)+4], dst.Pix[at(x-h, y):at(x-h, y)+4])
			}
		}
	}

	rowBytes := 4 * destW
	for ; ymag > 1; ymag >>= 1 {
		h := ymag / 2
		y := h
		for ; y < destH-h; y += ymag {
			out := dst.Pix[at(0, y) : at(0, y)+rowBytes]
			above := dst.Pix[at(0, y-h) : at(0, y-h)+rowBytes]
			below := dst.Pix[at(0, y+h) : at(0, y+h)+rowBytes]
			for i := 0; i < rowBytes; i += 4 {
				le.PutUint32(out[i:], blend(le.Uint32(above[i:]), le.Uint32(below[i:])))
			}
		}
		if y < destH {
			copy(dst.Pix[at(0, y):at(0, y)+rowBytes], dst.Pix[at(0, y-h):at(0, y-h)+rowBytes])
		}
	}
}

// Shrink samples every k-th pixel of src into dst, producing a
// ceil(W/k) x ceil(H/k) image with src's component count.
func Shrink(dst, src *frame.Image, k int) {
	if k < 1 {
		k = 1
	}
	w, h := xmath.CeilDiv(src.Width, k), xmath.CeilDiv(src.Height, k)
	dst.Resize(w, h, src.Components)
	comps := src.Components
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := src.PixOffset(x*k, y*k)
			d := dst.PixOffset(x, y)
			copy(dst.Pix[d:d+comps], src.Pix[s:s+comps])
		}
	}
}
