package manager

import (
	"context"
	"fmt"

	"github.com/mrjoshuak/go-sortlast/internal/xdr"
	"github.com/mrjoshuak/go-sortlast/state"
)

// ComputeVisiblePropBounds returns the union of the visible bounds of
// renderer id over all ranks. It runs on the root and needs satellites to
// be serving RMIs. With a frame in flight only the local bounds are used,
// since a nested collective would deadlock the group.
func (m *Manager) ComputeVisiblePropBounds(ctx context.Context, id int) (state.Bounds, error) {
	if err := m.checkReady(); err != nil {
		return state.EmptyBounds(), err
	}
	ren, id, ok := m.renderer(id)
	if !ok {
		return state.EmptyBounds(), ErrNoRenderer
	}
	if !m.inFrame.CompareAndSwap(false, true) {
		m.log.Debug("frame in flight, using local bounds")
		return ren.VisibleBounds(), nil
	}
	defer m.inFrame.Store(false)
	return m.collectBounds(ctx, ren, id)
}

func (m *Manager) collectBounds(ctx context.Context, ren Renderer, id int) (state.Bounds, error) {
	if !m.cfg.ParallelRendering {
		return ren.VisibleBounds(), nil
	}
	if !m.isRoot() {
		m.log.Error("bounds can only be computed on the root")
		return state.EmptyBounds(), ErrNotRoot
	}

	w := xdr.NewBufferWriter(4)
	w.WriteInt(id)
	if err := m.c.TriggerRMIOnAllChildren(ctx, BoundsRMITag, w.Bytes()); err != nil {
		return state.EmptyBounds(), fmt.Errorf("manager: bounds trigger: %w", err)
	}

	// Local bounds only after every RMI is out, in case computing them
	// involves the satellites.
	b := ren.VisibleBounds()
	for r := 0; r < m.c.Size(); r++ {
		if r == m.cfg.RootRank {
			continue
		}
		data, _, err := m.c.Receive(ctx, r, BoundsTag)
		if err != nil {
			return state.EmptyBounds(), fmt.Errorf("manager: bounds from %d: %w", r, err)
		}
		rb, err := state.UnmarshalBounds(data)
		if err != nil {
			return state.EmptyBounds(), fmt.Errorf("manager: bounds from %d: %w", r, err)
		}
		b = b.Union(rb)
	}
	return b, nil
}

// ResetCamera fits the camera of renderer id to the bounds of all ranks.
// When no rank has visible geometry the camera is left alone.
func (m *Manager) ResetCamera(ctx context.Context, id int) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	ren, id, ok := m.renderer(id)
	if !ok {
		return ErrNoRenderer
	}
	if !m.inFrame.CompareAndSwap(false, true) {
		ren.ResetCamera(ren.VisibleBounds())
		return nil
	}
	defer m.inFrame.Store(false)

	b, err := m.collectBounds(ctx, ren, id)
	if err != nil {
		return err
	}
	if !b.Valid() {
		if b = ren.VisibleBounds(); !b.Valid() {
			return nil
		}
	}
	ren.ResetCamera(b)
	return nil
}

// ResetAllCameras resets the camera of every renderer.
func (m *Manager) ResetAllCameras(ctx context.Context) error {
	if m.target == nil {
		return ErrNoTarget
	}
	for i := range m.target.Renderers() {
		if err := m.ResetCamera(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// ResetCameraClippingRange fits the near and far planes of renderer id to
// the bounds of all ranks.
func (m *Manager) ResetCameraClippingRange(ctx context.Context, id int) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	ren, id, ok := m.renderer(id)
	if !ok {
		return ErrNoRenderer
	}
	if !m.inFrame.CompareAndSwap(false, true) {
		ren.ResetCameraClippingRange(ren.VisibleBounds())
		return nil
	}
	defer m.inFrame.Store(false)

	b, err := m.collectBounds(ctx, ren, id)
	if err != nil {
		return err
	}
	ren.ResetCameraClippingRange(b)
	return nil
}
