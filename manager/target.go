package manager

import (
	"context"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/state"
)

// RenderTarget is the window-like collaborator that owns the renderers and
// the framebuffer. Rasterization itself happens behind Render.
type RenderTarget interface {
	// Render draws the current scene state of every renderer.
	Render(ctx context.Context) error

	// ActualSize is the current framebuffer size in pixels.
	ActualSize() (width, height int)
	// ScreenSize is the largest size the target supports. Zero means
	// unlimited, e.g. offscreen targets.
	ScreenSize() (width, height int)
	SetSize(width, height int)

	// Capture reads the lower-left width x height corner of the last
	// rendered frame into dst, with dst's component count (3 or 4).
	Capture(dst *frame.Pair, width, height int) error
	// Display writes img over the lower-left corner of the framebuffer.
	Display(img *frame.Image) error

	Renderers() []Renderer

	// CheckAbort reports whether the frame in flight should be abandoned.
	CheckAbort() bool

	DesiredUpdateRate() float64
	SetDesiredUpdateRate(rate float64)
	TileScale() [2]int
	SetTileScale(scale [2]int)
	TileViewport() [4]float64
	SetTileViewport(vp [4]float64)
}

// Renderer is one viewport of a render target with its own camera,
// background and lights.
type Renderer interface {
	// State returns the renderer's settings. LightCount is ignored; the
	// lights are read through Lights.
	State() state.RendererState
	SetState(s state.RendererState)

	Lights() []state.LightState
	// SetLights replaces the lights, creating or dropping lights so the
	// renderer ends up with exactly len(lights).
	SetLights(lights []state.LightState)

	// VisibleBounds returns the local bounds of the visible geometry, or
	// state.EmptyBounds when nothing is visible.
	VisibleBounds() state.Bounds
	ResetCamera(b state.Bounds)
	ResetCameraClippingRange(b state.Bounds)
}

// DefaultSize replaces a zero render target size.
const DefaultSize = 300

// FitToScreen shrinks width x height to fit a screen of sw x sh, keeping
// the aspect ratio. A zero screen dimension is unlimited.
func FitToScreen(width, height, sw, sh int) (int, int) {
	if sw > 0 && width > sw {
		height = height * sw / width
		width = sw
	}
	if sh > 0 && height > sh {
		width = width * sh / height
		height = sh
	}
	return width, height
}
