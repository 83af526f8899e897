// Package relay delivers one rendered frame from a server rank to a client
// rank.
//
// Every pass the server renders locally. When it is the image source it
// captures the frame, sends a four integer header (valid, width, height,
// components) and, only for a valid header, the encoded pixels. The client
// receives the header, sizes its image from it, receives the pixels and
// displays them. A header with valid unset means there is nothing to show
// and is not an error.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
	"github.com/mrjoshuak/go-sortlast/manager"
)

// Default message tags.
const (
	HeaderTag = 23600
	ImageTag  = 23601
)

// HeaderSize is the encoded size of a Header in bytes.
const HeaderSize = 16

// DefaultMaxImageBytes bounds the decoded image a client accepts.
const DefaultMaxImageBytes = 64 << 20

// Relay errors
var (
	ErrHeader  = errors.New("relay: malformed image header")
	ErrRole    = errors.New("relay: local rank is neither server nor client")
	ErrNoImage = errors.New("relay: no image received yet")
)

// Header announces the image that follows it.
type Header struct {
	Valid      bool
	Width      int
	Height     int
	Components int
}

// Size returns the number of packed color bytes the header announces.
func (h Header) Size() int {
	return h.Width * h.Height * h.Components
}

// fits reports whether a valid h describes at most limit bytes. The
// product is checked without overflowing.
func (h Header) fits(limit int) bool {
	if h.Width <= 0 || h.Height <= 0 || h.Components <= 0 {
		return false
	}
	if h.Width > limit/h.Height {
		return false
	}
	return h.Width*h.Height <= limit/h.Components
}

// Marshal encodes h as four 32-bit integers.
func (h Header) Marshal() []byte {
	w := xdr.NewBufferWriter(HeaderSize)
	valid := 0
	if h.Valid {
		valid = 1
	}
	w.WriteInt(valid)
	w.WriteInt(h.Width)
	w.WriteInt(h.Height)
	w.WriteInt(h.Components)
	return w.Bytes()
}

// UnmarshalHeader decodes a Header. A valid header must carry a positive
// size and 3 or 4 components.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrHeader, len(data))
	}
	r := xdr.NewReader(data)
	var v [4]int32
	if err := r.ReadInt32s(v[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrHeader, err)
	}
	h := Header{
		Valid:      v[0] != 0,
		Width:      int(v[1]),
		Height:     int(v[2]),
		Components: int(v[3]),
	}
	if h.Valid && (h.Width <= 0 || h.Height <= 0 || (h.Components != 3 && h.Components != 4)) {
		return Header{}, fmt.Errorf("%w: %dx%dx%d", ErrHeader, h.Width, h.Height, h.Components)
	}
	return h, nil
}

// Config configures a Pass.
type Config struct {
	ServerRank int
	ClientRank int

	// HeaderTag and ImageTag route the two messages of a pass. Relays
	// sharing a controller need distinct tags.
	HeaderTag int
	ImageTag  int

	// Codec must match on both sides.
	Codec Codec

	// Components is the number of color components the server captures.
	Components int

	// SendImage makes the server the image source. When false the server
	// still renders but sends an invalid header.
	SendImage bool

	// MaxImageBytes bounds width*height*components of a received image.
	// Zero means DefaultMaxImageBytes.
	MaxImageBytes int

	// PostProcess runs on the client after decoding and before display. It
	// may return its argument.
	PostProcess func(*frame.Image) (*frame.Image, error)

	Logger *slog.Logger
}

// DefaultConfig returns a server on rank 0 sending zlib compressed RGBA
// frames to rank 1.
func DefaultConfig() Config {
	return Config{
		ServerRank: 0,
		ClientRank: 1,
		HeaderTag:  HeaderTag,
		ImageTag:   ImageTag,
		Codec:      CodecZlib,
		Components:    4,
		SendImage:     true,
		MaxImageBytes: DefaultMaxImageBytes,
	}
}

// Pass is one side of the relay. The role follows from the local rank of
// the controller.
type Pass struct {
	c      comm.Controller
	target manager.RenderTarget
	cfg    Config
	log    *slog.Logger

	capture  frame.Pair
	received frame.Image
	last     Header
	bytes    int
	elapsed  time.Duration
}

// New returns a Pass for the local rank of c. target renders on the server
// and displays on the client.
func New(c comm.Controller, target manager.RenderTarget, cfg Config) *Pass {
	if cfg.Components != 3 {
		cfg.Components = 4
	}
	if cfg.HeaderTag == 0 && cfg.ImageTag == 0 {
		cfg.HeaderTag, cfg.ImageTag = HeaderTag, ImageTag
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	p := &Pass{
		c:      c,
		target: target,
		cfg:    cfg,
		log:    logging.OrNop(cfg.Logger).With("rank", c.LocalRank()),
	}
	return p
}

// IsServer reports whether the local rank is the server.
func (p *Pass) IsServer() bool {
	return p.c.LocalRank() == p.cfg.ServerRank
}

// IsClient reports whether the local rank is the client.
func (p *Pass) IsClient() bool {
	return p.c.LocalRank() == p.cfg.ClientRank
}

// Render runs one pass on either side.
func (p *Pass) Render(ctx context.Context) error {
	start := time.Now()
	defer func() { p.elapsed = time.Since(start) }()
	switch {
	case p.IsServer():
		return p.serve(ctx)
	case p.IsClient():
		return p.receive(ctx)
	}
	p.log.Warn("relay pass on an uninvolved rank")
	return ErrRole
}

func (p *Pass) serve(ctx context.Context) error {
	if err := p.target.Render(ctx); err != nil {
		return fmt.Errorf("relay: render: %w", err)
	}

	h := Header{Components: p.cfg.Components}
	if p.cfg.SendImage {
		h.Width, h.Height = p.target.ActualSize()
		h.Valid = h.Width > 0 && h.Height > 0
	}
	var payload []byte
	if h.Valid {
		p.capture.Resize(h.Width, h.Height, h.Components)
		if err := p.target.Capture(&p.capture, h.Width, h.Height); err != nil {
			return fmt.Errorf("relay: capture: %w", err)
		}
		var err error
		if payload, err = p.cfg.Codec.Encode(&p.capture.Image); err != nil {
			return fmt.Errorf("relay: encode: %w", err)
		}
	}

	if err := p.c.Send(ctx, h.Marshal(), p.cfg.ClientRank, p.cfg.HeaderTag); err != nil {
		return fmt.Errorf("relay: send header: %w", err)
	}
	p.last = h
	p.bytes = 0
	if !h.Valid {
		p.log.Debug("sent empty header")
		return nil
	}
	if err := p.c.Send(ctx, payload, p.cfg.ClientRank, p.cfg.ImageTag); err != nil {
		return fmt.Errorf("relay: send image: %w", err)
	}
	p.bytes = len(payload)
	p.log.Debug("sent image", "width", h.Width, "height", h.Height,
		"codec", p.cfg.Codec, "bytes", len(payload), "raw", h.Size())
	return nil
}

func (p *Pass) receive(ctx context.Context) error {
	data, _, err := p.c.Receive(ctx, p.cfg.ServerRank, p.cfg.HeaderTag)
	if err != nil {
		return fmt.Errorf("relay: receive header: %w", err)
	}
	h, err := UnmarshalHeader(data)
	if err != nil {
		return err
	}
	p.last = h
	p.bytes = 0
	if !h.Valid {
		p.log.Debug("server sent nothing to show")
		return nil
	}

	if !h.fits(p.cfg.MaxImageBytes) {
		return fmt.Errorf("%w: %dx%dx%d exceeds %d bytes", ErrHeader,
			h.Width, h.Height, h.Components, p.cfg.MaxImageBytes)
	}
	p.received.Resize(h.Width, h.Height, h.Components)
	payload, _, err := p.c.Receive(ctx, p.cfg.ServerRank, p.cfg.ImageTag)
	if err != nil {
		return fmt.Errorf("relay: receive image: %w", err)
	}
	p.bytes = len(payload)
	if err := p.cfg.Codec.Decode(payload, &p.received); err != nil {
		return err
	}

	out := &p.received
	if p.cfg.PostProcess != nil {
		if out, err = p.cfg.PostProcess(out); err != nil {
			return fmt.Errorf("relay: post-process: %w", err)
		}
	}
	if err := p.target.Display(out); err != nil {
		return fmt.Errorf("relay: display: %w", err)
	}
	p.log.Debug("displayed image", "width", out.Width, "height", out.Height, "bytes", len(payload))
	return nil
}

// LastHeader returns the header of the most recent pass.
func (p *Pass) LastHeader() Header {
	return p.last
}

// Image returns a copy of the last image the client received, before
// post-processing.
func (p *Pass) Image() (*frame.Image, error) {
	if !p.last.Valid || p.received.Pixels() == 0 {
		return nil, ErrNoImage
	}
	out := &frame.Image{}
	out.CopyFrom(&p.received)
	return out, nil
}

// Stats returns the payload size and duration of the most recent pass.
func (p *Pass) Stats() (payloadBytes int, elapsed time.Duration) {
	return p.bytes, p.elapsed
}
