package state

import (
	"errors"
	"fmt"

	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// Stream errors
var (
	ErrStreamCorrupt = errors.New("state: corrupt state stream")
	ErrTooManyItems  = errors.New("state: record count exceeds stream length")
)

// Encoded record sizes, tag included.
const (
	windowRecordSize   = 4 + 4*4 + 4 + 4 + 2*4 + 8 + 8 + 4*8
	rendererRecordSize = 4 + 4 + 4 + 4*8 + 3*3*8 + 2*8 + 2*8 + 8 + 2*3*8 + 4 + 8
	lightRecordSize    = 4 + 3*8 + 3*8 + 4
	boundsSize         = 6 * 8
)

func expectTag(r *xdr.Reader, want int) error {
	tag, err := r.ReadInt()
	if err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("%w: tag %d, want %d", ErrStreamCorrupt, tag, want)
	}
	return nil
}

// Save appends the window record.
func (s *WindowState) Save(w *xdr.BufferWriter) {
	w.WriteInt(WindowInfoTag)
	w.WriteInt(s.FullSize[0])
	w.WriteInt(s.FullSize[1])
	w.WriteInt(s.ReducedSize[0])
	w.WriteInt(s.ReducedSize[1])
	w.WriteInt(s.RendererCount)
	w.WriteBool(s.UseCompositing)
	w.WriteInt(s.TileScale[0])
	w.WriteInt(s.TileScale[1])
	w.WriteFloat64(s.ReductionFactor)
	w.WriteFloat64(s.DesiredUpdateRate)
	w.WriteFloat64s(s.TileViewport[:]...)
}

// Restore reads a window record written by Save.
func (s *WindowState) Restore(r *xdr.Reader) error {
	if err := expectTag(r, WindowInfoTag); err != nil {
		return err
	}
	if r.Len() < windowRecordSize-4 {
		return fmt.Errorf("state: window record: %w", xdr.ErrShortBuffer)
	}
	// Length was checked above; the reads cannot fail.
	s.FullSize[0], _ = r.ReadInt()
	s.FullSize[1], _ = r.ReadInt()
	s.ReducedSize[0], _ = r.ReadInt()
	s.ReducedSize[1], _ = r.ReadInt()
	s.RendererCount, _ = r.ReadInt()
	s.UseCompositing, _ = r.ReadBool()
	s.TileScale[0], _ = r.ReadInt()
	s.TileScale[1], _ = r.ReadInt()
	s.ReductionFactor, _ = r.ReadFloat64()
	s.DesiredUpdateRate, _ = r.ReadFloat64()
	_ = r.ReadFloat64s(s.TileViewport[:])
	if s.RendererCount < 0 {
		return fmt.Errorf("%w: %d renderers", ErrStreamCorrupt, s.RendererCount)
	}
	return nil
}

// Save appends the renderer record.
func (s *RendererState) Save(w *xdr.BufferWriter) {
	c := &s.Camera
	w.WriteInt(RendererInfoTag)
	w.WriteBool(s.Draw)
	w.WriteInt(s.LightCount)
	w.WriteFloat64s(s.Viewport[:]...)
	w.WriteFloat64s(c.Position[:]...)
	w.WriteFloat64s(c.FocalPoint[:]...)
	w.WriteFloat64s(c.ViewUp[:]...)
	w.WriteFloat64s(c.WindowCenter[:]...)
	w.WriteFloat64s(c.ClippingRange[:]...)
	w.WriteFloat64(c.ViewAngle)
	w.WriteFloat64s(s.Background[:]...)
	w.WriteFloat64s(s.Background2[:]...)
	w.WriteBool(s.GradientBackground)
	w.WriteFloat64(c.ParallelScale)
}

// Restore reads a renderer record written by Save.
func (s *RendererState) Restore(r *xdr.Reader) error {
	if err := expectTag(r, RendererInfoTag); err != nil {
		return err
	}
	if r.Len() < rendererRecordSize-4 {
		return fmt.Errorf("state: renderer record: %w", xdr.ErrShortBuffer)
	}
	c := &s.Camera
	s.Draw, _ = r.ReadBool()
	s.LightCount, _ = r.ReadInt()
	_ = r.ReadFloat64s(s.Viewport[:])
	_ = r.ReadFloat64s(c.Position[:])
	_ = r.ReadFloat64s(c.FocalPoint[:])
	_ = r.ReadFloat64s(c.ViewUp[:])
	_ = r.ReadFloat64s(c.WindowCenter[:])
	_ = r.ReadFloat64s(c.ClippingRange[:])
	c.ViewAngle, _ = r.ReadFloat64()
	_ = r.ReadFloat64s(s.Background[:])
	_ = r.ReadFloat64s(s.Background2[:])
	s.GradientBackground, _ = r.ReadBool()
	c.ParallelScale, _ = r.ReadFloat64()
	if s.LightCount < 0 {
		return fmt.Errorf("%w: %d lights", ErrStreamCorrupt, s.LightCount)
	}
	return nil
}

// Save appends the light record.
func (s *LightState) Save(w *xdr.BufferWriter) {
	w.WriteInt(LightInfoTag)
	w.WriteFloat64s(s.Position[:]...)
	w.WriteFloat64s(s.FocalPoint[:]...)
	w.WriteInt32(int32(s.Type))
}

// Restore reads a light record written by Save.
func (s *LightState) Restore(r *xdr.Reader) error {
	if err := expectTag(r, LightInfoTag); err != nil {
		return err
	}
	if r.Len() < lightRecordSize-4 {
		return fmt.Errorf("state: light record: %w", xdr.ErrShortBuffer)
	}
	_ = r.ReadFloat64s(s.Position[:])
	_ = r.ReadFloat64s(s.FocalPoint[:])
	t, _ := r.ReadInt32()
	s.Type = LightType(t)
	return nil
}

// Size returns the encoded length of the frame.
func (f *Frame) Size() int {
	n := windowRecordSize + len(f.Renderers)*rendererRecordSize
	for i := range f.Renderers {
		n += len(f.Renderers[i].Lights) * lightRecordSize
	}
	return n
}

// Encode appends the frame to w: the window record, then each renderer
// record followed by its light records. RendererCount and LightCount are
// taken from the slice lengths.
func (f *Frame) Encode(w *xdr.BufferWriter) {
	win := f.Window
	win.RendererCount = len(f.Renderers)
	win.Save(w)
	for i := range f.Renderers {
		rf := &f.Renderers[i]
		rs := rf.RendererState
		rs.LightCount = len(rf.Lights)
		rs.Save(w)
		for j := range rf.Lights {
			rf.Lights[j].Save(w)
		}
	}
}

// Marshal returns the encoded frame.
func (f *Frame) Marshal() []byte {
	w := xdr.NewBufferWriter(f.Size())
	f.Encode(w)
	return w.Bytes()
}

// Unmarshal decodes a frame, reusing f's renderer and light slices.
func (f *Frame) Unmarshal(data []byte) error {
	r := xdr.NewReader(data)
	if err := f.Window.Restore(r); err != nil {
		return err
	}
	n := f.Window.RendererCount
	if n > r.Len()/rendererRecordSize {
		return fmt.Errorf("%w: %d renderers", ErrTooManyItems, n)
	}
	if cap(f.Renderers) < n {
		f.Renderers = make([]RendererFrame, n)
	}
	f.Renderers = f.Renderers[:n]
	for i := range f.Renderers {
		rf := &f.Renderers[i]
		if err := rf.RendererState.Restore(r); err != nil {
			return fmt.Errorf("renderer %d: %w", i, err)
		}
		if rf.LightCount > r.Len()/lightRecordSize {
			return fmt.Errorf("renderer %d: %w: %d lights", i, ErrTooManyItems, rf.LightCount)
		}
		if cap(rf.Lights) < rf.LightCount {
			rf.Lights = make([]LightState, rf.LightCount)
		}
		rf.Lights = rf.Lights[:rf.LightCount]
		for j := range rf.Lights {
			if err := rf.Lights[j].Restore(r); err != nil {
				return fmt.Errorf("renderer %d light %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// MarshalBounds encodes a bounding box as six doubles.
func MarshalBounds(b Bounds) []byte {
	w := xdr.NewBufferWriter(boundsSize)
	w.WriteFloat64s(b[:]...)
	return w.Bytes()
}

// UnmarshalBounds decodes a bounding box written by MarshalBounds.
func UnmarshalBounds(data []byte) (Bounds, error) {
	var b Bounds
	if len(data) != boundsSize {
		return b, fmt.Errorf("%w: bounds of %d bytes", ErrStreamCorrupt, len(data))
	}
	err := xdr.NewReader(data).ReadFloat64s(b[:])
	return b, err
}
