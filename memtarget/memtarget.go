// Package memtarget is an in-memory render target. Its renderers draw
// axis-aligned, depth-tested rectangles, which is enough geometry to drive
// the coordination and compositing code without a graphics stack.
package memtarget

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/manager"
	"github.com/mrjoshuak/go-sortlast/state"
)

// Target errors
var (
	ErrCaptureBounds = errors.New("memtarget: capture larger than framebuffer")
)

// Rect is a filled rectangle in normalized viewport coordinates. Pixels
// with centers in [X0, X1) x [Y0, Y1) are covered.
type Rect struct {
	X0, Y0, X1, Y1 float64
	Depth          float32
	Color          color.RGBA
}

// Bounds returns the rectangle as a flat box at its depth.
func (r Rect) Bounds() state.Bounds {
	d := float64(r.Depth)
	return state.Bounds{r.X0, r.X1, r.Y0, r.Y1, d, d}
}

// Renderer draws a list of rectangles into its viewport.
type Renderer struct {
	Rects []Rect

	st     state.RendererState
	lights []state.LightState

	resets int
}

var _ manager.Renderer = (*Renderer)(nil)

// NewRenderer returns a renderer covering the whole target, drawing the
// given rectangles.
func NewRenderer(rects ...Rect) *Renderer {
	return &Renderer{
		Rects: rects,
		st: state.RendererState{
			Draw:     true,
			Viewport: [4]float64{0, 0, 1, 1},
			Camera: state.CameraState{
				Position:      [3]float64{0, 0, 1},
				ViewUp:        [3]float64{0, 1, 0},
				ClippingRange: [2]float64{0.01, 1000},
				ViewAngle:     30,
			},
		},
	}
}

// State returns the renderer settings.
func (r *Renderer) State() state.RendererState {
	s := r.st
	s.LightCount = len(r.lights)
	return s
}

// SetState replaces the renderer settings.
func (r *Renderer) SetState(s state.RendererState) {
	r.st = s
}

// Lights returns the renderer's lights.
func (r *Renderer) Lights() []state.LightState {
	return r.lights
}

// SetLights replaces the lights.
func (r *Renderer) SetLights(lights []state.LightState) {
	r.lights = append(r.lights[:0], lights...)
}

// VisibleBounds returns the union of the rectangles' boxes.
func (r *Renderer) VisibleBounds() state.Bounds {
	b := state.EmptyBounds()
	if !r.st.Draw {
		return b
	}
	for _, rc := range r.Rects {
		b = b.Union(rc.Bounds())
	}
	return b
}

// ResetCamera points the camera at the center of b from a distance that
// keeps the whole box in view.
func (r *Renderer) ResetCamera(b state.Bounds) {
	if !b.Valid() {
		return
	}
	c := b.Center()
	radius := b.Diagonal() / 2
	if radius == 0 {
		radius = 0.5
	}
	cam := &r.st.Camera
	angle := cam.ViewAngle
	if angle <= 0 {
		angle = 30
	}
	dist := radius / math.Sin(angle*math.Pi/360)
	cam.FocalPoint = c
	cam.Position = [3]float64{c[0], c[1], c[2] + dist}
	cam.ViewUp = [3]float64{0, 1, 0}
	if cam.ParallelScale != 0 {
		cam.ParallelScale = radius
	}
	r.ResetCameraClippingRange(b)
	r.resets++
}

// ResetCameraClippingRange fits the near and far planes around b.
func (r *Renderer) ResetCameraClippingRange(b state.Bounds) {
	if !b.Valid() {
		return
	}
	cam := &r.st.Camera
	dz := cam.Position[2] - b.Center()[2]
	radius := b.Diagonal() / 2
	near := math.Max(dz-radius, 0.001*(dz+radius))
	cam.ClippingRange = [2]float64{near, dz + radius}
}

// Resets returns how many times ResetCamera changed the camera.
func (r *Renderer) Resets() int {
	return r.resets
}

// Target is a framebuffer with a list of renderers. It is safe for
// concurrent use, although frames are normally driven by one goroutine.
type Target struct {
	mu sync.Mutex

	width, height int
	screen        [2]int
	fb            frame.Pair
	renderers     []manager.Renderer

	displayed frame.Image
	renders   int
	displays  int
	abort     bool

	rate         float64
	tileScale    [2]int
	tileViewport [4]float64
}

var _ manager.RenderTarget = (*Target)(nil)

// New returns a width x height target with the given renderers.
func New(width, height int, renderers ...*Renderer) *Target {
	t := &Target{
		width:        width,
		height:       height,
		tileScale:    [2]int{1, 1},
		tileViewport: [4]float64{0, 0, 1, 1},
	}
	for _, r := range renderers {
		t.renderers = append(t.renderers, r)
	}
	return t
}

// AddRenderer appends a renderer.
func (t *Target) AddRenderer(r *Renderer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderers = append(t.renderers, r)
}

// Render clears every renderer's viewport to its background and draws its
// rectangles with a nearest-wins depth test.
func (t *Target) Render(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fb.Resize(t.width, t.height, 4)
	t.fb.Clear(color.RGBA{A: 0xFF})
	for _, mr := range t.renderers {
		r, ok := mr.(*Renderer)
		if !ok || !r.st.Draw {
			continue
		}
		vx0, vy0, vx1, vy1 := t.viewportPixels(r.st.Viewport)
		bg := toRGBA(r.st.Background)
		for y := vy0; y < vy1; y++ {
			for x := vx0; x < vx1; x++ {
				t.fb.Set(x, y, bg)
				t.fb.Depth[y*t.width+x] = frame.Far
			}
		}
		vw, vh := float64(vx1-vx0), float64(vy1-vy0)
		for _, rc := range r.Rects {
			x0 := vx0 + int(math.Round(rc.X0*vw))
			x1 := vx0 + int(math.Round(rc.X1*vw))
			y0 := vy0 + int(math.Round(rc.Y0*vh))
			y1 := vy0 + int(math.Round(rc.Y1*vh))
			for y := max(y0, vy0); y < min(y1, vy1); y++ {
				for x := max(x0, vx0); x < min(x1, vx1); x++ {
					i := y*t.width + x
					if rc.Depth < t.fb.Depth[i] {
						t.fb.Depth[i] = rc.Depth
						t.fb.Set(x, y, rc.Color)
					}
				}
			}
		}
	}
	t.renders++
	return nil
}

func (t *Target) viewportPixels(vp [4]float64) (x0, y0, x1, y1 int) {
	w, h := float64(t.width), float64(t.height)
	x0 = clampInt(int(math.Round(vp[0]*w)), 0, t.width)
	y0 = clampInt(int(math.Round(vp[1]*h)), 0, t.height)
	x1 = clampInt(int(math.Round(vp[2]*w)), x0, t.width)
	y1 = clampInt(int(math.Round(vp[3]*h)), y0, t.height)
	return
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func toRGBA(c [3]float64) color.RGBA {
	b := func(v float64) uint8 {
		return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
	}
	return color.RGBA{R: b(c[0]), G: b(c[1]), B: b(c[2]), A: 0xFF}
}

// ActualSize returns the framebuffer size.
func (t *Target) ActualSize() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// ScreenSize returns the size limit set by SetScreenSize.
func (t *Target) ScreenSize() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.screen[0], t.screen[1]
}

// SetScreenSize limits the sizes the target supports. Zero removes the
// limit.
func (t *Target) SetScreenSize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen = [2]int{width, height}
}

// SetSize resizes the framebuffer for the next render.
func (t *Target) SetSize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width, t.height = width, height
}

// Capture copies the lower-left width x height corner of the last render.
func (t *Target) Capture(dst *frame.Pair, width, height int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if width > t.fb.Width || height > t.fb.Height {
		return fmt.Errorf("%w: %dx%d of %dx%d", ErrCaptureBounds, width, height, t.fb.Width, t.fb.Height)
	}
	comps := dst.Components
	if comps != 3 {
		comps = 4
	}
	dst.Resize(width, height, comps)
	for y := 0; y < height; y++ {
		copy(dst.Depth[y*width:(y+1)*width], t.fb.Depth[y*t.fb.Width:y*t.fb.Width+width])
		src := t.fb.PixOffset(0, y)
		out := dst.PixOffset(0, y)
		if comps == 4 {
			copy(dst.Pix[out:out+4*width], t.fb.Pix[src:src+4*width])
			continue
		}
		for x := 0; x < width; x++ {
			s, d := src+4*x, out+3*x
			dst.Pix[d], dst.Pix[d+1], dst.Pix[d+2] = t.fb.Pix[s], t.fb.Pix[s+1], t.fb.Pix[s+2]
		}
	}
	return nil
}

// Display records img as the displayed image.
func (t *Target) Display(img *frame.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.displayed.CopyFrom(img)
	t.displays++
	return nil
}

// Displayed returns a copy of the last displayed image and how many images
// have been displayed.
func (t *Target) Displayed() (*frame.Image, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	img := &frame.Image{}
	img.CopyFrom(&t.displayed)
	return img, t.displays
}

// Framebuffer returns a copy of the last rendered color and depth.
func (t *Target) Framebuffer() *frame.Pair {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &frame.Pair{}
	p.CopyFrom(&t.fb)
	return p
}

// Renders returns how many frames were rendered.
func (t *Target) Renders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renders
}

// Renderers returns the renderers in drawing order.
func (t *Target) Renderers() []manager.Renderer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]manager.Renderer(nil), t.renderers...)
}

// SetAbort makes CheckAbort report v.
func (t *Target) SetAbort(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abort = v
}

// CheckAbort reports the flag set by SetAbort.
func (t *Target) CheckAbort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abort
}

func (t *Target) DesiredUpdateRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

func (t *Target) SetDesiredUpdateRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rate = rate
}

func (t *Target) TileScale() [2]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tileScale
}

func (t *Target) SetTileScale(scale [2]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tileScale = scale
}

func (t *Target) TileViewport() [4]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tileViewport
}

func (t *Target) SetTileViewport(vp [4]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tileViewport = vp
}
