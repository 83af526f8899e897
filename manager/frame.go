package manager

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/scale"
	"github.com/mrjoshuak/go-sortlast/state"
)

// Render runs one complete frame from the root.
func (m *Manager) Render(ctx context.Context) error {
	if err := m.StartFrame(ctx); err != nil {
		return err
	}
	return m.EndFrame(ctx)
}

// SatelliteRender runs one complete frame on a satellite. Satellites
// serving RMIs call it for every render request of the root.
func (m *Manager) SatelliteRender(ctx context.Context) error {
	if err := m.SatelliteStartFrame(ctx); err != nil {
		return err
	}
	return m.EndFrame(ctx)
}

// StartFrame begins a frame on the root: it triggers satellite renders,
// broadcasts the frame state, shrinks viewports by the reduction factor
// and renders locally. The frame stays in flight until EndFrame.
func (m *Manager) StartFrame(ctx context.Context) (err error) {
	if err := m.checkReady(); err != nil {
		return err
	}
	if !m.isRoot() {
		m.log.Warn("StartFrame called on a satellite")
		return ErrNotRoot
	}
	if !m.inFrame.CompareAndSwap(false, true) {
		m.log.Warn("StartFrame called with a frame in flight")
		return ErrFrameInFlight
	}
	defer func() {
		if err != nil {
			m.restoreViewports()
			m.inFrame.Store(false)
		}
	}()

	m.invalidateImages()
	if !m.cfg.ParallelRendering {
		w, h := m.windowSize()
		m.fullSize = [2]int{w, h}
		m.reducedSize = m.fullSize
		return m.target.Render(ctx)
	}

	if m.cfg.AutoImageReductionFactor {
		m.SetImageReductionFactorForUpdateRate(m.target.DesiredUpdateRate())
	}
	m.imageProcessingTime = 0
	m.started = time.Now()

	w, h := m.windowSize()
	if w == 0 || h == 0 {
		m.log.Debug("resetting window size", "width", DefaultSize, "height", DefaultSize)
		w, h = DefaultSize, DefaultSize
		m.target.SetSize(w, h)
	}
	m.fullSize = [2]int{w, h}
	m.reducedSize = [2]int{reduce(w, m.factor), reduce(h, m.factor)}

	rens := m.target.Renderers()
	m.wire.Window = state.WindowState{
		FullSize:          m.fullSize,
		ReducedSize:       m.reducedSize,
		RendererCount:     len(rens),
		UseCompositing:    m.useCompositing,
		TileScale:         m.target.TileScale(),
		ReductionFactor:   m.factor,
		DesiredUpdateRate: m.target.DesiredUpdateRate(),
		TileViewport:      m.target.TileViewport(),
	}
	if cap(m.wire.Renderers) < len(rens) {
		m.wire.Renderers = make([]state.RendererFrame, len(rens))
	}
	m.wire.Renderers = m.wire.Renderers[:len(rens)]
	for i, ren := range rens {
		rs := ren.State()
		if m.factor > 1 {
			m.saveViewport(ren, rs.Viewport)
			for k := range rs.Viewport {
				rs.Viewport[k] /= m.factor
			}
			ren.SetState(rs)
		}
		rf := &m.wire.Renderers[i]
		rf.RendererState = rs
		rf.Lights = append(rf.Lights[:0], ren.Lights()...)
	}

	if m.cfg.RenderEventPropagation {
		if err := m.c.TriggerRMIOnAllChildren(ctx, RenderRMITag, nil); err != nil {
			return fmt.Errorf("manager: render trigger: %w", err)
		}
	}
	payload := m.wire.Marshal()
	if _, err := m.c.Broadcast(ctx, payload, m.cfg.RootRank); err != nil {
		return fmt.Errorf("manager: frame state broadcast: %w", err)
	}
	m.log.Debug("frame started", "bytes", len(payload), "renderers", len(rens),
		"full", m.fullSize, "reduced", m.reducedSize, "factor", m.factor)

	return m.target.Render(ctx)
}

// SatelliteStartFrame receives the root's frame state, applies it to the
// local target and renders. Satellites with fewer or more renderers or
// lights than the root adapt without failing.
func (m *Manager) SatelliteStartFrame(ctx context.Context) (err error) {
	if err := m.checkReady(); err != nil {
		return err
	}
	if m.isRoot() {
		m.log.Warn("SatelliteStartFrame called on the root")
		return ErrNotSatellite
	}
	if !m.inFrame.CompareAndSwap(false, true) {
		m.log.Warn("SatelliteStartFrame called with a frame in flight")
		return ErrFrameInFlight
	}
	defer func() {
		if err != nil {
			m.restoreViewports()
			m.inFrame.Store(false)
		}
	}()

	m.invalidateImages()
	m.imageProcessingTime = 0
	m.started = time.Now()

	data, err := m.c.Broadcast(ctx, nil, m.cfg.RootRank)
	if err != nil {
		return fmt.Errorf("manager: frame state broadcast: %w", err)
	}
	if err := m.wire.Unmarshal(data); err != nil {
		m.log.Error("failed to read frame state", "err", err)
		return fmt.Errorf("manager: frame state: %w", err)
	}
	m.applyWindow(&m.wire.Window)
	m.applyRenderers(m.wire.Renderers)
	m.log.Debug("frame state applied", "bytes", len(data),
		"full", m.fullSize, "reduced", m.reducedSize, "factor", m.factor)

	return m.target.Render(ctx)
}

func (m *Manager) applyWindow(win *state.WindowState) {
	m.target.SetDesiredUpdateRate(win.DesiredUpdateRate)
	if m.cfg.SynchronizeTileProperties {
		m.target.SetTileViewport(win.TileViewport)
		m.target.SetTileScale(win.TileScale)
	}
	m.useCompositing = win.UseCompositing
	if m.maxFactor < win.ReductionFactor {
		m.maxFactor = win.ReductionFactor
	}
	m.SetImageReductionFactor(win.ReductionFactor)
	m.fullSize = win.FullSize
	m.reducedSize = win.ReducedSize
	m.setRenderWindowSize()
}

// setRenderWindowSize fits the full size into the screen, keeping the
// aspect ratio, and resizes the target.
func (m *Manager) setRenderWindowSize() {
	sw, sh := m.target.ScreenSize()
	full, reduced := &m.fullSize, &m.reducedSize
	full[0], full[1] = FitToScreen(full[0], full[1], sw, sh)
	reduced[0] = min(reduced[0], full[0])
	reduced[1] = min(reduced[1], full[1])
	if reduced[0] > 0 {
		m.factor = float64(full[0]) / float64(reduced[0])
	}
	m.target.SetSize(full[0], full[1])
}

func (m *Manager) applyRenderers(frames []state.RendererFrame) {
	rens := m.target.Renderers()
	switch {
	case len(rens) < len(frames):
		m.log.Warn("not enough renderers", "local", len(rens), "root", len(frames))
	case len(rens) > len(frames):
		m.log.Warn("too many renderers", "local", len(rens), "root", len(frames))
	}
	for i := range min(len(rens), len(frames)) {
		ren, rf := rens[i], &frames[i]
		m.saveViewport(ren, ren.State().Viewport)
		ren.SetState(rf.RendererState)
		if n := len(ren.Lights()); n != len(rf.Lights) {
			m.log.Warn("light count differs from root, adjusting", "renderer", i, "local", n, "root", len(rf.Lights))
		}
		ren.SetLights(rf.Lights)
	}
}

// EndFrame finishes the frame in flight on either role: it agrees with the
// root on aborting, composites unless compositing is off or the frame was
// aborted, restores viewports and writes the image back. An aborted frame
// still completes and returns ErrAborted. The frame is released on every
// path.
func (m *Manager) EndFrame(ctx context.Context) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if !m.inFrame.Load() {
		return ErrNoFrame
	}
	defer m.inFrame.Store(false)
	defer m.restoreViewports()

	if m.isRoot() && !m.cfg.ParallelRendering {
		return nil
	}
	m.renderTime = time.Since(m.started) - m.imageProcessingTime

	aborted, err := m.checkForAbortComposite(ctx)
	if err != nil {
		return err
	}
	if !aborted && m.useCompositing {
		if err := m.compositeFrame(ctx); err != nil {
			return err
		}
	}
	m.restoreViewports()
	if err := m.writeFullImage(); err != nil {
		return err
	}
	m.frames++
	if aborted {
		m.log.Warn("frame aborted", "frame", m.frames)
		return ErrAborted
	}
	m.log.Debug("frame done", "frame", m.frames,
		"render", m.renderTime, "imageProcessing", m.imageProcessingTime)
	return nil
}

// checkForAbortComposite shares the root's abort decision with every rank
// so that all of them skip compositing together.
func (m *Manager) checkForAbortComposite(ctx context.Context) (bool, error) {
	flag := []byte{0}
	if m.isRoot() && m.target.CheckAbort() {
		flag[0] = 1
	}
	got, err := m.c.Broadcast(ctx, flag, m.cfg.RootRank)
	if err != nil {
		return false, fmt.Errorf("manager: abort flag broadcast: %w", err)
	}
	return len(got) == 1 && got[0] != 0, nil
}

func (m *Manager) compositeFrame(ctx context.Context) error {
	if err := m.readReducedImage(); err != nil {
		return err
	}
	start := time.Now()
	err := m.comp.CompositeBuffer(ctx, &m.buffers.Local, &m.buffers.Scratch)
	m.imageProcessingTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("manager: composite: %w", err)
	}
	return nil
}

func (m *Manager) windowSize() (int, int) {
	if f := m.cfg.ForcedSize; f[0] > 0 && f[1] > 0 {
		return f[0], f[1]
	}
	if m.target == nil {
		return 0, 0
	}
	// A tiled target reports the size of the whole tiled image.
	w, h := m.target.ActualSize()
	if ts := m.target.TileScale(); ts[0] > 1 || ts[1] > 1 {
		w /= max(ts[0], 1)
		h /= max(ts[1], 1)
	}
	return w, h
}

// reduce divides a full size by the reduction factor, rounding up. The
// result stays within [1, size].
func reduce(size int, factor float64) int {
	return min(max(int(math.Ceil(float64(size)/factor)), 1), size)
}

func (m *Manager) saveViewport(ren Renderer, vp [4]float64) {
	m.scaled = append(m.scaled, ren)
	m.viewports = append(m.viewports, vp)
}

func (m *Manager) restoreViewports() {
	for i, ren := range m.scaled {
		rs := ren.State()
		rs.Viewport = m.viewports[i]
		ren.SetState(rs)
	}
	clear(m.scaled)
	m.scaled = m.scaled[:0]
	m.viewports = m.viewports[:0]
}

func (m *Manager) invalidateImages() {
	m.fullUpToDate = false
	m.reducedUpToDate = false
	m.displayUpToDate = false
	m.full = &m.fullImage
}

// readReducedImage captures the local image at reduced size. Without
// reduction the capture doubles as the full image.
func (m *Manager) readReducedImage() error {
	if m.reducedUpToDate {
		return nil
	}
	start := time.Now()
	size := m.reducedSize
	if m.factor <= 1 {
		size = m.fullSize
	}
	local, _ := m.buffers.Ensure(size[0], size[1], m.cfg.Components)
	if err := m.target.Capture(local, size[0], size[1]); err != nil {
		return fmt.Errorf("manager: capture: %w", err)
	}
	if m.factor <= 1 {
		m.full = &local.Image
		m.fullUpToDate = true
	}
	m.imageProcessingTime += time.Since(start)
	m.reducedUpToDate = true
	return nil
}

// magnifyReducedImage brings the full image up to date. Magnification time
// counts as render time since it scales with the full image size.
func (m *Manager) magnifyReducedImage() error {
	if m.fullUpToDate {
		return nil
	}
	if err := m.readReducedImage(); err != nil {
		return err
	}
	if !m.fullUpToDate {
		start := time.Now()
		scale.Magnify(m.method, &m.fullImage, &m.buffers.Local.Image, m.fullSize[0], m.fullSize[1])
		m.renderTime += time.Since(start)
		m.full = &m.fullImage
	}
	m.fullUpToDate = true
	return nil
}

func (m *Manager) writeFullImage() error {
	if m.displayUpToDate || !m.cfg.WriteBackImages {
		return nil
	}
	var err error
	switch {
	case m.cfg.MagnifyImages && m.fullSize != m.reducedSize:
		if err = m.magnifyReducedImage(); err == nil {
			err = m.target.Display(m.full)
		}
	case m.reducedUpToDate:
		err = m.target.Display(&m.buffers.Local.Image)
	}
	if err != nil {
		return fmt.Errorf("manager: write back: %w", err)
	}
	m.displayUpToDate = true
	return nil
}

// PixelData returns a copy of the full-size image of the last frame,
// magnifying the reduced image if needed.
func (m *Manager) PixelData() (*frame.Image, error) {
	if m.target == nil {
		return nil, ErrNoTarget
	}
	if err := m.magnifyReducedImage(); err != nil {
		return nil, err
	}
	img := &frame.Image{}
	img.CopyFrom(m.full)
	return img, nil
}

// PixelDataRegion returns the inclusive rectangle (x1,y1)-(x2,y2) of the
// full-size image.
func (m *Manager) PixelDataRegion(x1, y1, x2, y2 int) (*frame.Image, error) {
	if m.target == nil {
		return nil, ErrNoTarget
	}
	if err := m.magnifyReducedImage(); err != nil {
		return nil, err
	}
	return m.full.Region(x1, y1, x2, y2)
}

// ReducedPixelData returns a copy of the reduced-size image of the last
// frame.
func (m *Manager) ReducedPixelData() (*frame.Image, error) {
	if m.target == nil {
		return nil, ErrNoTarget
	}
	if err := m.readReducedImage(); err != nil {
		return nil, err
	}
	img := &frame.Image{}
	img.CopyFrom(&m.buffers.Local.Image)
	return img, nil
}

// ReducedPixelDataRegion returns the inclusive rectangle (x1,y1)-(x2,y2) of
// the reduced-size image.
func (m *Manager) ReducedPixelDataRegion(x1, y1, x2, y2 int) (*frame.Image, error) {
	if m.target == nil {
		return nil, ErrNoTarget
	}
	if err := m.readReducedImage(); err != nil {
		return nil, err
	}
	return m.buffers.Local.Image.Region(x1, y1, x2, y2)
}
