package main

import (
	"context"
	"image/color"
	"math"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/memtarget"
)

// rectsPerRank sets the scene density.
const rectsPerRank = 3

// sceneRects returns n overlapping boxes scattered over the window at
// distinct depths.
func sceneRects(n int) []memtarget.Rect {
	const golden = 0.6180339887498949
	frac := func(v float64) float64 { return v - math.Floor(v) }
	rects := make([]memtarget.Rect, n)
	for i := range rects {
		x := frac(float64(i)*0.37) * 0.7
		y := frac(float64(i)*0.61) * 0.7
		rects[i] = memtarget.Rect{
			X0:    x,
			Y0:    y,
			X1:    x + 0.3,
			Y1:    y + 0.3,
			Depth: float32(0.05 + 0.9*frac(float64(i+1)*golden)),
			Color: color.RGBA{
				R: uint8(40 + (i*97)%200),
				G: uint8(40 + (i*53)%200),
				B: uint8(40 + (i*29)%200),
				A: 0xFF,
			},
		}
	}
	return rects
}

// partition gives rank r every box i with i mod ranks == r, each rank
// drawing into its own width x height target.
func partition(rects []memtarget.Rect, ranks, width, height int) []*memtarget.Target {
	targets := make([]*memtarget.Target, ranks)
	for r := range targets {
		var mine []memtarget.Rect
		for i := r; i < len(rects); i += ranks {
			mine = append(mine, rects[i])
		}
		targets[r] = memtarget.New(width, height, memtarget.NewRenderer(mine...))
	}
	return targets
}

// reference renders the whole scene in one target.
func reference(ctx context.Context, rects []memtarget.Rect, width, height int) (*frame.Image, error) {
	t := memtarget.New(width, height, memtarget.NewRenderer(rects...))
	if err := t.Render(ctx); err != nil {
		return nil, err
	}
	return &t.Framebuffer().Image, nil
}
