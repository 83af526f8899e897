// Package compression provides the encodings applied to frames before they
// cross the message channel: background-run encoding of depth/color pairs
// for compressed compositing, and byte-level codecs (pixel RLE, zlib,
// lossless JPEG 2000) for delivering images to a client.
package compression

import (
	"errors"
	"fmt"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// Depth run errors
var (
	ErrRunsCorrupted = errors.New("compression: corrupted depth runs")
	ErrRunsShape     = errors.New("compression: depth runs do not match buffer")
)

const depthRunsHeaderSize = 4 * 4

// DepthRuns is a depth/color pair in which every stretch of background
// pixels (depth equal to frame.Far) is collapsed into one run. Only the
// remaining literal pixels carry depth and color.
//
// Runs alternates freely between literal runs (positive count) and
// background runs (negative count); the absolute values sum to Pixels.
// Depth holds one sample per literal pixel and Color Components bytes
// per literal pixel, both in scan order.
type DepthRuns struct {
	Pixels     int
	Components int
	Runs       []int32
	Depth      []float32
	Color      []byte
}

// Reset empties r for an image of the given pixel count, keeping storage.
func (r *DepthRuns) Reset(pixels, components int) {
	r.Pixels = pixels
	r.Components = components
	r.Runs = r.Runs[:0]
	r.Depth = r.Depth[:0]
	r.Color = r.Color[:0]
}

// Literals returns the number of non-background pixels.
func (r *DepthRuns) Literals() int {
	return len(r.Depth)
}

func (r *DepthRuns) appendBackground(n int) {
	if k := len(r.Runs); k > 0 && r.Runs[k-1] < 0 {
		r.Runs[k-1] -= int32(n)
		return
	}
	r.Runs = append(r.Runs, -int32(n))
}

func (r *DepthRuns) appendLiterals(depth []float32, color []byte) {
	n := len(depth)
	if n == 0 {
		return
	}
	if k := len(r.Runs); k > 0 && r.Runs[k-1] > 0 {
		r.Runs[k-1] += int32(n)
	} else {
		r.Runs = append(r.Runs, int32(n))
	}
	r.Depth = append(r.Depth, depth...)
	r.Color = append(r.Color, color...)
}

// CompressDepth encodes p into dst, replacing dst's contents.
func CompressDepth(p *frame.Pair, dst *DepthRuns) {
	dst.Reset(p.Pixels(), p.Components)
	comps := p.Components
	n := len(p.Depth)
	i := 0
	for i < n {
		start := i
		if p.Depth[i] == frame.Far {
			for i < n && p.Depth[i] == frame.Far {
				i++
			}
			dst.appendBackground(i - start)
			continue
		}
		for i < n && p.Depth[i] != frame.Far {
			i++
		}
		dst.appendLiterals(p.Depth[start:i], p.Pix[start*comps:i*comps])
	}
}

// runCursor walks the runs of a DepthRuns value.
type runCursor struct {
	r    *DepthRuns
	run  int
	left int
	bg   bool
	lit  int
}

func (c *runCursor) load() {
	for c.left == 0 && c.run < len(c.r.Runs) {
		v := int(c.r.Runs[c.run])
		c.run++
		if v < 0 {
			c.left, c.bg = -v, true
		} else {
			c.left, c.bg = v, false
		}
	}
}

func (c *runCursor) advance(n int) {
	c.left -= n
	if !c.bg {
		c.lit += n
	}
}

// MergeDepth composites local and remote into dst, keeping the nearer
// sample of every pixel. Ties keep local. dst must not alias either input.
func MergeDepth(local, remote, dst *DepthRuns) error {
	if local.Pixels != remote.Pixels || local.Components != remote.Components {
		return fmt.Errorf("%w: %d/%d pixels, %d/%d components", ErrRunsShape,
			local.Pixels, remote.Pixels, local.Components, remote.Components)
	}
	dst.Reset(local.Pixels, local.Components)
	comps := local.Components

	a := runCursor{r: local}
	b := runCursor{r: remote}
	for done := 0; done < local.Pixels; {
		a.load()
		b.load()
		if a.left == 0 || b.left == 0 {
			return ErrRunsCorrupted
		}
		n := min(a.left, b.left)

		switch {
		case a.bg && b.bg:
			dst.appendBackground(n)
		case b.bg:
			dst.appendLiterals(local.Depth[a.lit:a.lit+n], local.Color[a.lit*comps:(a.lit+n)*comps])
		case a.bg:
			dst.appendLiterals(remote.Depth[b.lit:b.lit+n], remote.Color[b.lit*comps:(b.lit+n)*comps])
		default:
			for k := 0; k < n; k++ {
				ai, bi := a.lit+k, b.lit+k
				if remote.Depth[bi] < local.Depth[ai] {
					dst.appendLiterals(remote.Depth[bi:bi+1], remote.Color[bi*comps:(bi+1)*comps])
				} else {
					dst.appendLiterals(local.Depth[ai:ai+1], local.Color[ai*comps:(ai+1)*comps])
				}
			}
		}
		a.advance(n)
		b.advance(n)
		done += n
	}
	return nil
}

// UncompressDepth writes r into p. Literal pixels overwrite depth and
// color; background pixels get depth frame.Far and keep p's color.
func UncompressDepth(r *DepthRuns, p *frame.Pair) error {
	if r.Pixels != p.Pixels() || r.Components != p.Components {
		return fmt.Errorf("%w: %d pixels into %dx%d", ErrRunsShape, r.Pixels, p.Width, p.Height)
	}
	comps := r.Components
	pos, lit := 0, 0
	for _, v := range r.Runs {
		if v < 0 {
			end := pos - int(v)
			if end > len(p.Depth) {
				return ErrRunsCorrupted
			}
			for ; pos < end; pos++ {
				p.Depth[pos] = frame.Far
			}
			continue
		}
		n := int(v)
		if pos+n > len(p.Depth) || lit+n > len(r.Depth) {
			return ErrRunsCorrupted
		}
		copy(p.Depth[pos:pos+n], r.Depth[lit:lit+n])
		copy(p.Pix[pos*comps:(pos+n)*comps], r.Color[lit*comps:(lit+n)*comps])
		pos += n
		lit += n
	}
	if pos != len(p.Depth) {
		return ErrRunsCorrupted
	}
	return nil
}

// Validate checks the run and literal counts.
func (r *DepthRuns) Validate() error {
	if r.Components != 3 && r.Components != 4 {
		return fmt.Errorf("%w: %d components", ErrRunsCorrupted, r.Components)
	}
	total, lits := 0, 0
	for _, v := range r.Runs {
		if v == 0 {
			return ErrRunsCorrupted
		}
		if v < 0 {
			total -= int(v)
		} else {
			total += int(v)
			lits += int(v)
		}
	}
	if total != r.Pixels || lits != len(r.Depth) || len(r.Color) != lits*r.Components {
		return ErrRunsCorrupted
	}
	return nil
}

// Size returns the marshaled length.
func (r *DepthRuns) Size() int {
	return depthRunsHeaderSize + 4*len(r.Runs) + 4*len(r.Depth) + len(r.Color)
}

// MaxDepthRunsSize bounds the marshaled length of runs over pixels samples
// with the given number of color components.
func MaxDepthRunsSize(pixels, components int) int {
	return depthRunsHeaderSize + (8+components)*pixels
}

// AppendMarshal appends the encoded runs to buf.
func (r *DepthRuns) AppendMarshal(buf []byte) []byte {
	w := xdr.WrapBuffer(buf)
	w.WriteInt(r.Pixels)
	w.WriteInt(r.Components)
	w.WriteInt(len(r.Runs))
	w.WriteInt(len(r.Depth))
	w.WriteInt32s(r.Runs)
	w.WriteFloat32s(r.Depth)
	w.WriteBytes(r.Color)
	return w.Bytes()
}

// Unmarshal decodes runs written by AppendMarshal, reusing r's storage.
func (r *DepthRuns) Unmarshal(data []byte) error {
	rd := xdr.NewReader(data)
	if rd.Len() < depthRunsHeaderSize {
		return ErrRunsCorrupted
	}
	pixels, _ := rd.ReadInt()
	comps, _ := rd.ReadInt()
	nruns, _ := rd.ReadInt()
	nlit, _ := rd.ReadInt()
	if pixels < 0 || nruns < 0 || nlit < 0 || nlit > pixels || nruns > pixels ||
		(comps != 3 && comps != 4) {
		return ErrRunsCorrupted
	}
	if rd.Len() != 4*nruns+4*nlit+comps*nlit {
		return ErrRunsCorrupted
	}
	r.Reset(pixels, comps)
	r.Runs = growInt32(r.Runs, nruns)
	r.Depth = growFloat32(r.Depth, nlit)
	r.Color = growBytes(r.Color, comps*nlit)
	if err := rd.ReadInt32s(r.Runs); err != nil {
		return ErrRunsCorrupted
	}
	if err := rd.ReadFloat32s(r.Depth); err != nil {
		return ErrRunsCorrupted
	}
	if err := rd.ReadBytesInto(r.Color); err != nil {
		return ErrRunsCorrupted
	}
	return r.Validate()
}

func growInt32(s []int32, n int) []int32 {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]int32, n)
}

func growFloat32(s []float32, n int) []float32 {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]float32, n)
}

func growBytes(s []byte, n int) []byte {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]byte, n)
}
