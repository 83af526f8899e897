package manager

import (
	"math"

	"github.com/mrjoshuak/go-sortlast/internal/xmath"
	"github.com/mrjoshuak/go-sortlast/scale"
)

// SetImageReductionFactor clamps f to [1, MaxImageReductionFactor] and
// makes it the reduction factor of the next frame. Methods that need
// power-of-two factors round down. It returns the factor in effect.
func (m *Manager) SetImageReductionFactor(f float64) float64 {
	if math.IsNaN(f) {
		f = 1
	}
	f = xmath.Clamp(f, 1, m.maxFactor)
	if m.method.RequiresPowerOfTwo() {
		f = float64(xmath.FloorPow2(int(f)))
	}
	if f != m.factor {
		m.log.Debug("image reduction factor changed", "from", m.factor, "to", f)
		m.factor = f
	}
	return f
}

// SetMaxImageReductionFactor changes the cap and re-clamps the current
// factor.
func (m *Manager) SetMaxImageReductionFactor(f float64) {
	m.maxFactor = max(f, 1)
	m.SetImageReductionFactor(m.factor)
}

// SetMagnifyImageMethod changes the upsampling method and re-applies the
// reduction factor under the method's rules.
func (m *Manager) SetMagnifyImageMethod(method scale.Method) {
	if method == m.method {
		return
	}
	m.method = method
	m.SetImageReductionFactor(m.factor)
}

// pixelTimeShare is the smallest share of the render time reserved for
// reading back and compositing pixels.
const pixelTimeShare = 0.15

// SetImageReductionFactorForUpdateRate picks the reduction factor that
// lets a frame finish at rate frames per second. It keeps a smoothed
// estimate of the per-pixel compositing cost from the previous frames and
// reduces until the pixels fit the time left after rendering. A rate of
// zero turns reduction off.
func (m *Manager) SetImageReductionFactorForUpdateRate(rate float64) float64 {
	m.log.Debug("setting reduction factor for update rate", "rate", rate)
	if rate == 0 {
		return m.SetImageReductionFactor(1)
	}

	w, h := m.windowSize()
	numPixels := float64(w * h)
	numReduced := int(numPixels / (m.factor * m.factor))
	if numReduced <= 0 {
		// Nothing rendered yet.
		return m.SetImageReductionFactor(1)
	}

	timePerPixel := m.imageProcessingTime.Seconds() / float64(numReduced)
	m.avgTimePerPixel = (3*m.avgTimePerPixel + timePerPixel) / 4
	if m.avgTimePerPixel <= 0 {
		m.avgTimePerPixel = 0
		return m.SetImageReductionFactor(1)
	}

	renderTime := m.renderTime.Seconds()
	allotted := 1/rate - renderTime
	if allotted < pixelTimeShare*renderTime {
		allotted = pixelTimeShare * renderTime
	}
	pixels := allotted / m.avgTimePerPixel
	m.log.Debug("pixel budget", "timePerPixel", timePerPixel,
		"avgTimePerPixel", m.avgTimePerPixel, "allotted", allotted, "pixels", pixels)

	switch {
	case pixels < 1 || numPixels/pixels > m.maxFactor:
		return m.SetImageReductionFactor(m.maxFactor)
	case pixels >= numPixels:
		return m.SetImageReductionFactor(1)
	}
	return m.SetImageReductionFactor(float64(int(numPixels / pixels)))
}
