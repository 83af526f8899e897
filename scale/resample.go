package scale

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mrjoshuak/go-sortlast/frame"
)

// Filter selects the resampling kernel for Resample.
type Filter int

// Resampling filters
const (
	FilterNearest Filter = iota
	FilterApproxBiLinear
	FilterBiLinear
	FilterCatmullRom
)

func (f Filter) interpolator() draw.Interpolator {
	switch f {
	case FilterApproxBiLinear:
		return draw.ApproxBiLinear
	case FilterBiLinear:
		return draw.BiLinear
	case FilterCatmullRom:
		return draw.CatmullRom
	default:
		return draw.NearestNeighbor
	}
}

// ParseFilter parses a filter name: nearest, approx-bilinear, bilinear or
// catmull-rom.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(s) {
	case "nearest":
		return FilterNearest, nil
	case "approx-bilinear":
		return FilterApproxBiLinear, nil
	case "bilinear":
		return FilterBiLinear, nil
	case "catmull-rom", "":
		return FilterCatmullRom, nil
	}
	return FilterNearest, fmt.Errorf("scale: unknown filter %q", s)
}

// Resample scales src to an arbitrary width x height with a filtered
// kernel, keeping src's component count. Unlike the magnifiers it handles
// non-integer ratios and downsampling.
func Resample(dst, src *frame.Image, width, height int, f Filter) {
	if width <= 0 || height <= 0 {
		dst.Resize(0, 0, src.Components)
		return
	}
	if width == src.Width && height == src.Height {
		dst.CopyFrom(src)
		return
	}
	in := src.ToRGBA()
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	f.interpolator().Scale(out, out.Bounds(), in, in.Bounds(), draw.Src, nil)

	dst.Resize(width, height, src.Components)
	if src.Components == 4 {
		copy(dst.Pix, out.Pix)
		return
	}
	for i, j := 0, 0; j < len(dst.Pix); i, j = i+4, j+3 {
		dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2] = out.Pix[i], out.Pix[i+1], out.Pix[i+2]
	}
}
