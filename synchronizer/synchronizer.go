// Package synchronizer keeps two cooperating processes in step: a root that
// drives frames, typically an interactive client, and a satellite that
// renders on its behalf.
//
// Each frame the root triggers the satellite, sends it the window size,
// tile settings and desired update rate (plus cameras and lights when
// enabled), and renders locally. The satellite applies the state, renders,
// and streams its image back through a relay pass, which the root
// displays.
//
// Several synchronizers can share one controller. Each is keyed by a
// numeric identifier from which all of its tags are derived, and a
// Registry rejects a second synchronizer with an identifier already in
// use.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/manager"
	"github.com/mrjoshuak/go-sortlast/relay"
	"github.com/mrjoshuak/go-sortlast/state"
)

// Tag ranges. A synchronizer with identifier id uses base+id in each.
const (
	RMITagBase    = 1 << 24
	StateTagBase  = 2 << 24
	HeaderTagBase = 3 << 24
	ImageTagBase  = 4 << 24
)

// Synchronizer errors
var (
	ErrDuplicateIdentifier = errors.New("synchronizer: identifier already registered")
	ErrInvalidIdentifier   = errors.New("synchronizer: identifier out of range")
	ErrNoRegistry          = errors.New("synchronizer: no registry")
	ErrGroupSize           = errors.New("synchronizer: controller must have exactly two ranks")
	ErrNotRoot             = errors.New("synchronizer: operation is only valid on the root")
	ErrFrameInFlight       = errors.New("synchronizer: a frame is already in flight")
	ErrNoFrame             = errors.New("synchronizer: no frame in flight")
	ErrClosed              = errors.New("synchronizer: closed")
)

// Config configures a Synchronizer.
type Config struct {
	// Identifier keys the instance. It must be unique within the Registry
	// and below MaxIdentifier.
	Identifier int

	// RootRank is 0 or 1; the other rank is the satellite.
	RootRank int

	// SynchronizeRenderers adds every renderer's camera and lights to the
	// window state.
	SynchronizeRenderers bool

	SynchronizeTileProperties bool

	// ImageFromSatellite makes the satellite stream its image to the root.
	ImageFromSatellite bool

	Codec       relay.Codec
	Components  int
	PostProcess func(*frame.Image) (*frame.Image, error)

	Logger *slog.Logger
}

// DefaultConfig returns the configuration of identifier 0 with rank 0 as
// the root, camera and light synchronization, and zlib images from the
// satellite.
func DefaultConfig() Config {
	return Config{
		SynchronizeRenderers:      true,
		SynchronizeTileProperties: true,
		ImageFromSatellite:        true,
		Codec:                     relay.CodecZlib,
		Components:                4,
	}
}

// Synchronizer is one side of a two-party render loop.
type Synchronizer struct {
	c       comm.Controller
	target  manager.RenderTarget
	reg     *Registry
	cfg     Config
	log     *slog.Logger
	partner int

	pass  *relay.Pass
	rmiID comm.RMIID

	inFrame atomic.Bool
	closed  atomic.Bool

	wire   state.Frame
	frames atomic.Int64
}

// New registers a synchronizer for the local rank of c. It fails when the
// identifier is out of range or already registered in reg.
func New(c comm.Controller, target manager.RenderTarget, reg *Registry, cfg Config) (*Synchronizer, error) {
	if reg == nil {
		return nil, ErrNoRegistry
	}
	if c == nil {
		return nil, manager.ErrNoController
	}
	if target == nil {
		return nil, manager.ErrNoTarget
	}
	if c.Size() != 2 || (cfg.RootRank != 0 && cfg.RootRank != 1) {
		return nil, fmt.Errorf("%w: size %d, root %d", ErrGroupSize, c.Size(), cfg.RootRank)
	}

	s := &Synchronizer{
		c:       c,
		target:  target,
		reg:     reg,
		cfg:     cfg,
		partner: 1 - cfg.RootRank,
	}
	s.log = logging.OrNop(cfg.Logger).With("rank", c.LocalRank(), "sync", cfg.Identifier)
	if err := reg.add(cfg.Identifier, s); err != nil {
		s.log.Warn("synchronizer not registered", "err", err)
		return nil, err
	}

	s.pass = relay.New(c, target, relay.Config{
		ServerRank:  s.partner,
		ClientRank:  cfg.RootRank,
		HeaderTag:   HeaderTagBase + cfg.Identifier,
		ImageTag:    ImageTagBase + cfg.Identifier,
		Codec:       cfg.Codec,
		Components:  cfg.Components,
		SendImage:   cfg.ImageFromSatellite,
		PostProcess: cfg.PostProcess,
		Logger:      cfg.Logger,
	})
	s.rmiID = c.AddRMI(s.rmiTag(), s.renderRMI)
	return s, nil
}

// Identifier returns the identifier the synchronizer is registered under.
func (s *Synchronizer) Identifier() int { return s.cfg.Identifier }

// IsRoot reports whether the local rank drives frames.
func (s *Synchronizer) IsRoot() bool { return s.c.LocalRank() == s.cfg.RootRank }

// Frames returns the number of frames completed on this side.
func (s *Synchronizer) Frames() int { return int(s.frames.Load()) }

// Relay returns the relay pass carrying the satellite's images.
func (s *Synchronizer) Relay() *relay.Pass { return s.pass }

func (s *Synchronizer) rmiTag() int   { return RMITagBase + s.cfg.Identifier }
func (s *Synchronizer) stateTag() int { return StateTagBase + s.cfg.Identifier }

// Close unregisters the RMI callback and releases the identifier.
func (s *Synchronizer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.c.RemoveRMI(s.rmiID)
	s.reg.remove(s.cfg.Identifier, s)
	return nil
}

// Render runs one frame from the root.
func (s *Synchronizer) Render(ctx context.Context) error {
	if err := s.StartFrame(ctx); err != nil {
		return err
	}
	return s.EndFrame(ctx)
}

// StartFrame triggers the satellite, sends it the frame state and renders
// locally.
func (s *Synchronizer) StartFrame(ctx context.Context) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.IsRoot() {
		s.log.Warn("StartFrame called on the satellite")
		return ErrNotRoot
	}
	if !s.inFrame.CompareAndSwap(false, true) {
		s.log.Warn("frame already in flight")
		return ErrFrameInFlight
	}
	defer func() {
		if err != nil {
			s.inFrame.Store(false)
		}
	}()

	s.collectState()
	if err := s.c.TriggerRMI(ctx, s.partner, s.rmiTag(), nil); err != nil {
		return fmt.Errorf("synchronizer: trigger: %w", err)
	}
	data := s.wire.Marshal()
	if err := s.c.Send(ctx, data, s.partner, s.stateTag()); err != nil {
		return fmt.Errorf("synchronizer: send state: %w", err)
	}
	s.log.Debug("sent frame state", "bytes", len(data), "renderers", len(s.wire.Renderers))

	if err := s.target.Render(ctx); err != nil {
		return fmt.Errorf("synchronizer: render: %w", err)
	}
	return nil
}

// EndFrame receives and displays the satellite's image.
func (s *Synchronizer) EndFrame(ctx context.Context) error {
	if !s.IsRoot() {
		return ErrNotRoot
	}
	if !s.inFrame.Load() {
		return ErrNoFrame
	}
	defer s.inFrame.Store(false)
	if err := s.pass.Render(ctx); err != nil {
		return fmt.Errorf("synchronizer: %w", err)
	}
	s.frames.Add(1)
	return nil
}

func (s *Synchronizer) collectState() {
	w, h := s.target.ActualSize()
	if w == 0 || h == 0 {
		w, h = manager.DefaultSize, manager.DefaultSize
	}
	win := &s.wire.Window
	*win = state.WindowState{
		FullSize:          [2]int{w, h},
		ReducedSize:       [2]int{w, h},
		ReductionFactor:   1,
		DesiredUpdateRate: s.target.DesiredUpdateRate(),
		TileScale:         s.target.TileScale(),
		TileViewport:      s.target.TileViewport(),
	}
	s.wire.Renderers = s.wire.Renderers[:0]
	if !s.cfg.SynchronizeRenderers {
		return
	}
	for _, ren := range s.target.Renderers() {
		rs := ren.State()
		lights := ren.Lights()
		rs.LightCount = len(lights)
		s.wire.Renderers = append(s.wire.Renderers, state.RendererFrame{
			RendererState: rs,
			Lights:        lights,
		})
	}
	win.RendererCount = len(s.wire.Renderers)
}

// StartServices serves frames for every synchronizer registered on the
// controller until the root calls StopServices.
func (s *Synchronizer) StartServices(ctx context.Context) error {
	if s.IsRoot() {
		s.log.Warn("starting services on the root process")
	}
	s.log.Info("synchronizer services started")
	err := s.c.ProcessRMIs(ctx)
	s.log.Info("synchronizer services stopped", "err", err)
	return err
}

// StopServices ends StartServices on the satellite.
func (s *Synchronizer) StopServices(ctx context.Context) error {
	if !s.IsRoot() {
		return ErrNotRoot
	}
	return s.c.TriggerBreakRMIs(ctx)
}

func (s *Synchronizer) renderRMI(ctx context.Context, _ []byte, _ int) error {
	err := s.satelliteRender(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil, errors.Is(err, comm.ErrClosed):
		return err
	}
	s.log.Warn("satellite frame failed", "err", err)
	return nil
}

func (s *Synchronizer) satelliteRender(ctx context.Context) error {
	data, _, err := s.c.Receive(ctx, s.cfg.RootRank, s.stateTag())
	if err != nil {
		return fmt.Errorf("synchronizer: receive state: %w", err)
	}
	if err := s.wire.Unmarshal(data); err != nil {
		// The root still waits for an image.
		s.log.Error("cannot decode frame state", "err", err)
	} else {
		s.apply()
	}
	if err := s.pass.Render(ctx); err != nil {
		return err
	}
	s.frames.Add(1)
	return nil
}

func (s *Synchronizer) apply() {
	win := &s.wire.Window
	s.target.SetDesiredUpdateRate(win.DesiredUpdateRate)
	if s.cfg.SynchronizeTileProperties {
		s.target.SetTileScale(win.TileScale)
		s.target.SetTileViewport(win.TileViewport)
	}
	sw, sh := s.target.ScreenSize()
	w, h := manager.FitToScreen(win.FullSize[0], win.FullSize[1], sw, sh)
	s.target.SetSize(w, h)

	if len(s.wire.Renderers) == 0 {
		return
	}
	rens := s.target.Renderers()
	if len(rens) != len(s.wire.Renderers) {
		s.log.Warn("renderer count differs from root", "local", len(rens), "root", len(s.wire.Renderers))
	}
	for i := range min(len(rens), len(s.wire.Renderers)) {
		rf := &s.wire.Renderers[i]
		rens[i].SetState(rf.RendererState)
		rens[i].SetLights(rf.Lights)
	}
}
