package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mrjoshuak/go-sortlast/compression"
	"github.com/mrjoshuak/go-sortlast/frame"
)

// Codec selects how image bytes travel after the header. Both sides must
// be configured with the same codec.
type Codec int

// Image codecs
const (
	// CodecRaw sends the packed pixels unchanged.
	CodecRaw Codec = iota
	// CodecRLE run-length encodes whole pixels.
	CodecRLE
	// CodecZlib deflates the packed pixels.
	CodecZlib
	// CodecJ2K sends a lossless JPEG 2000 codestream.
	CodecJ2K
)

// ErrPayload reports image bytes that do not match the header.
var ErrPayload = errors.New("relay: image payload does not match header")

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecRLE:
		return "rle"
	case CodecZlib:
		return "zlib"
	case CodecJ2K:
		return "j2k"
	}
	return fmt.Sprintf("Codec(%d)", int(c))
}

// ParseCodec parses raw, rle, zlib or j2k.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "raw", "none", "":
		return CodecRaw, nil
	case "rle":
		return CodecRLE, nil
	case "zlib", "zip":
		return CodecZlib, nil
	case "j2k", "jpeg2000", "htj2k":
		return CodecJ2K, nil
	}
	return CodecRaw, fmt.Errorf("relay: unknown codec %q", s)
}

// Encode returns the payload for img. The raw codec returns img.Pix
// itself.
func (c Codec) Encode(img *frame.Image) ([]byte, error) {
	switch c {
	case CodecRLE:
		return compression.RLECompress(img.Pix, img.Components), nil
	case CodecZlib:
		return compression.ZlibCompress(img.Pix)
	case CodecJ2K:
		return compression.J2KEncode(img, compression.DefaultJ2KOptions())
	}
	return img.Pix, nil
}

// Decode fills dst, already sized from the header, from a payload.
func (c Codec) Decode(payload []byte, dst *frame.Image) error {
	var err error
	switch c {
	case CodecRLE:
		err = compression.RLEDecompressTo(payload, dst.Pix, dst.Components)
	case CodecZlib:
		err = compression.ZlibDecompressTo(dst.Pix, payload)
	case CodecJ2K:
		err = compression.J2KDecodeTo(payload, dst)
	default:
		if len(payload) != len(dst.Pix) {
			err = fmt.Errorf("%d bytes for %d", len(payload), len(dst.Pix))
		} else {
			copy(dst.Pix, payload)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPayload, c, err)
	}
	return nil
}
