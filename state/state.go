// Package state defines the per-frame view state that the root process
// broadcasts to satellites: window geometry, per-renderer camera and
// background settings, and lights.
package state

import "math"

// Record tags. Every record in a frame stream starts with one of these so a
// receiver detects a desynchronized stream instead of misparsing it.
const (
	WindowInfoTag   = 87834
	RendererInfoTag = 87836
	LightInfoTag    = 87838
)

// WindowState describes the render target for one frame.
type WindowState struct {
	FullSize          [2]int
	ReducedSize       [2]int
	RendererCount     int
	UseCompositing    bool
	TileScale         [2]int
	ReductionFactor   float64
	DesiredUpdateRate float64
	TileViewport      [4]float64
}

// CameraState is the view a renderer draws with. A ParallelScale of zero
// means a perspective projection.
type CameraState struct {
	Position      [3]float64
	FocalPoint    [3]float64
	ViewUp        [3]float64
	WindowCenter  [2]float64
	ClippingRange [2]float64
	ViewAngle     float64
	ParallelScale float64
}

// RendererState is everything about one renderer except its lights.
type RendererState struct {
	Draw               bool
	LightCount         int
	Viewport           [4]float64
	Camera             CameraState
	Background         [3]float64
	Background2        [3]float64
	GradientBackground bool
}

// LightType identifies how a light is attached to the scene.
type LightType int32

// Light types
const (
	Headlight   LightType = 1
	CameraLight LightType = 2
	SceneLight  LightType = 3
)

// LightState is one light of a renderer.
type LightState struct {
	Type       LightType
	Position   [3]float64
	FocalPoint [3]float64
}

// RendererFrame couples a renderer's state with its lights, in stream order.
type RendererFrame struct {
	RendererState
	Lights []LightState
}

// Frame is the complete state broadcast at the start of a frame.
type Frame struct {
	Window    WindowState
	Renderers []RendererFrame
}

// Bounds is an axis-aligned box stored as xmin, xmax, ymin, ymax, zmin, zmax.
type Bounds [6]float64

// EmptyBounds returns a box that contains nothing; its union with any
// box is that box.
func EmptyBounds() Bounds {
	return Bounds{math.MaxFloat64, -math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64}
}

// Valid reports whether the box contains at least one point.
func (b Bounds) Valid() bool {
	return b[0] <= b[1] && b[2] <= b[3] && b[4] <= b[5]
}

// Union returns the smallest box containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	for i := 0; i < 6; i += 2 {
		b[i] = math.Min(b[i], o[i])
		b[i+1] = math.Max(b[i+1], o[i+1])
	}
	return b
}

// Center returns the midpoint of the box.
func (b Bounds) Center() [3]float64 {
	return [3]float64{(b[0] + b[1]) / 2, (b[2] + b[3]) / 2, (b[4] + b[5]) / 2}
}

// Diagonal returns the length of the box diagonal.
func (b Bounds) Diagonal() float64 {
	dx, dy, dz := b[1]-b[0], b[3]-b[2], b[5]-b[4]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
