// Package manager coordinates sort-last parallel rendering.
//
// One Manager runs on every rank of a comm.Controller. The root drives
// frames: StartFrame triggers a render on every satellite, broadcasts the
// window, renderer and light state, and renders locally; EndFrame
// composites the ranks' images and writes the result back to the render
// target. Satellites serve those requests from StartServices.
//
// Every collective step (state broadcast, abort flag, composite, bounds
// query) must be entered by all ranks in the same order. A peer that never
// answers blocks the group until the context passed in is done; there are
// no internal timeouts.
//
// A Manager is driven by one goroutine at a time: the caller on the root,
// the goroutine running StartServices on satellites.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/composite"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
	"github.com/mrjoshuak/go-sortlast/scale"
	"github.com/mrjoshuak/go-sortlast/state"
)

// Message and RMI tags.
const (
	RenderRMITag = 34532
	BoundsRMITag = 54636
	BoundsTag    = 23543
)

// Manager errors
var (
	ErrNotRoot       = errors.New("manager: operation is only valid on the root")
	ErrNotSatellite  = errors.New("manager: operation is only valid on a satellite")
	ErrFrameInFlight = errors.New("manager: a frame is already in flight")
	ErrNoFrame       = errors.New("manager: no frame in flight")
	ErrAborted       = errors.New("manager: frame aborted")
	ErrNoController  = errors.New("manager: no controller")
	ErrNoTarget      = errors.New("manager: no render target")
	ErrNoRenderer    = errors.New("manager: render target has no renderers")
)

// Manager is the per-rank render coordinator.
type Manager struct {
	c      comm.Controller
	target RenderTarget
	cfg    Config
	log    *slog.Logger
	comp   composite.Compositer

	// inFrame is held from StartFrame (or SatelliteStartFrame) until
	// EndFrame returns, and during bounds collectives.
	inFrame atomic.Bool

	factor         float64
	maxFactor      float64
	method         scale.Method
	useCompositing bool

	fullSize    [2]int
	reducedSize [2]int

	wire state.Frame

	// Renderers whose viewport was changed for this frame, with the
	// viewports to restore.
	scaled    []Renderer
	viewports [][4]float64

	buffers   frame.Buffers
	fullImage frame.Image
	// full is fullImage, or the captured image when no magnification is
	// needed.
	full *frame.Image

	fullUpToDate    bool
	reducedUpToDate bool
	displayUpToDate bool

	started             time.Time
	renderTime          time.Duration
	imageProcessingTime time.Duration
	avgTimePerPixel     float64
	frames              int

	rmiOnce sync.Once
	rmiIDs  []comm.RMIID
}

// New returns a Manager for the local rank of c drawing through target.
func New(c comm.Controller, target RenderTarget, cfg Config) *Manager {
	if cfg.MaxImageReductionFactor < 1 {
		cfg.MaxImageReductionFactor = 1
	}
	if cfg.Components != 3 {
		cfg.Components = 4
	}
	m := &Manager{
		c:              c,
		target:         target,
		cfg:            cfg,
		log:            logging.OrNop(cfg.Logger),
		factor:         1,
		maxFactor:      cfg.MaxImageReductionFactor,
		method:         cfg.MagnifyMethod,
		useCompositing: cfg.UseCompositing,
	}
	m.full = &m.fullImage
	if c != nil {
		m.log = m.log.With("rank", c.LocalRank())
		m.comp = composite.New(cfg.Compositer, c, composite.Options{
			Root:            cfg.RootRank,
			BroadcastResult: cfg.BroadcastResult,
			Deflate:         cfg.Deflate,
			Logger:          m.log,
		})
	}
	m.SetImageReductionFactor(cfg.ImageReductionFactor)
	return m
}

func (m *Manager) isRoot() bool {
	return m.c.LocalRank() == m.cfg.RootRank
}

func (m *Manager) checkReady() error {
	if m.c == nil {
		return ErrNoController
	}
	if m.target == nil {
		return ErrNoTarget
	}
	return nil
}

// IsRoot reports whether the local rank drives frames.
func (m *Manager) IsRoot() bool {
	return m.c != nil && m.isRoot()
}

// InFrame reports whether a frame or bounds collective is in flight.
func (m *Manager) InFrame() bool {
	return m.inFrame.Load()
}

func (m *Manager) initializeRMIs() {
	m.rmiOnce.Do(func() {
		m.rmiIDs = append(m.rmiIDs,
			m.c.AddRMI(RenderRMITag, m.renderRMI),
			m.c.AddRMI(BoundsRMITag, m.boundsRMI))
	})
}

// StartServices serves render and bounds requests from the root until the
// root calls StopServices, the context is done or the controller fails.
func (m *Manager) StartServices(ctx context.Context) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if m.isRoot() {
		m.log.Warn("starting services on the root process")
	}
	m.initializeRMIs()
	m.log.Info("render services started")
	err := m.c.ProcessRMIs(ctx)
	m.log.Info("render services stopped", "err", err)
	return err
}

// StopServices ends StartServices on every satellite.
func (m *Manager) StopServices(ctx context.Context) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if !m.isRoot() {
		m.log.Error("can only stop services on the root")
		return ErrNotRoot
	}
	return m.c.TriggerBreakRMIs(ctx)
}

// Close unregisters the Manager's RMI callbacks.
func (m *Manager) Close() error {
	if m.c == nil {
		return nil
	}
	for _, id := range m.rmiIDs {
		m.c.RemoveRMI(id)
	}
	m.rmiIDs = nil
	return nil
}

func (m *Manager) renderRMI(ctx context.Context, _ []byte, _ int) error {
	err := m.SatelliteRender(ctx)
	switch {
	case err == nil, errors.Is(err, ErrAborted):
		return nil
	case ctx.Err() != nil, errors.Is(err, comm.ErrClosed):
		return err
	}
	m.log.Warn("satellite frame failed", "err", err)
	return nil
}

func (m *Manager) boundsRMI(ctx context.Context, arg []byte, _ int) error {
	id, err := xdr.NewReader(arg).ReadInt()
	if err != nil {
		m.log.Warn("bounds request without renderer id", "err", err)
	}
	b := state.EmptyBounds()
	if ren, _, ok := m.renderer(id); ok {
		b = ren.VisibleBounds()
	}
	if err := m.c.Send(ctx, state.MarshalBounds(b), m.cfg.RootRank, BoundsTag); err != nil {
		return fmt.Errorf("manager: send bounds: %w", err)
	}
	return nil
}

// renderer returns renderer id, falling back to the first one for an
// invalid id.
func (m *Manager) renderer(id int) (Renderer, int, bool) {
	rens := m.target.Renderers()
	if len(rens) == 0 {
		return nil, 0, false
	}
	if id < 0 || id >= len(rens) {
		m.log.Warn("invalid renderer requested, defaulting to first renderer", "id", id, "renderers", len(rens))
		id = 0
	}
	return rens[id], id, true
}

// ImageReductionFactor returns the current reduction factor.
func (m *Manager) ImageReductionFactor() float64 { return m.factor }

// MaxImageReductionFactor returns the cap on the reduction factor.
func (m *Manager) MaxImageReductionFactor() float64 { return m.maxFactor }

// MagnifyImageMethod returns the upsampling method.
func (m *Manager) MagnifyImageMethod() scale.Method { return m.method }

// UseCompositing reports whether frames are composited.
func (m *Manager) UseCompositing() bool { return m.useCompositing }

// SetUseCompositing enables or disables compositing. On the root it takes
// effect for the next frame on every rank.
func (m *Manager) SetUseCompositing(v bool) { m.useCompositing = v }

// FullSize returns the full image size of the last frame.
func (m *Manager) FullSize() [2]int { return m.fullSize }

// ReducedSize returns the reduced image size of the last frame.
func (m *Manager) ReducedSize() [2]int { return m.reducedSize }

// RenderTime returns the time spent rendering the last frame, including
// magnification.
func (m *Manager) RenderTime() time.Duration { return m.renderTime }

// ImageProcessingTime returns the time spent reading back and compositing
// the last frame.
func (m *Manager) ImageProcessingTime() time.Duration { return m.imageProcessingTime }

// Frames returns the number of frames completed.
func (m *Manager) Frames() int { return m.frames }

// BufferGrows returns how often the compositing buffers were reallocated.
func (m *Manager) BufferGrows() int { return m.buffers.Grows() }
