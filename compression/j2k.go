package compression

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/mrjoshuak/go-jpeg2000"

	"github.com/mrjoshuak/go-sortlast/frame"
)

// JPEG 2000 errors
var (
	ErrJ2KCorrupted = errors.New("compression: corrupted JPEG 2000 data")
	ErrJ2KSize      = errors.New("compression: JPEG 2000 image size mismatch")
)

// J2KOptions controls the lossless JPEG 2000 codec.
type J2KOptions struct {
	// HighThroughput selects the HTJ2K block coder.
	HighThroughput bool
	// BlockSize is the HT code-block edge in samples.
	BlockSize int
	// NumResolutions is the number of wavelet resolution levels.
	NumResolutions int
}

// DefaultJ2KOptions returns the options used for frame delivery.
func DefaultJ2KOptions() J2KOptions {
	return J2KOptions{
		HighThroughput: true,
		BlockSize:      64,
		NumResolutions: 6,
	}
}

// J2KEncode compresses img losslessly into a raw JPEG 2000 codestream.
// The alpha channel is kept, so four-component images round-trip exactly.
func J2KEncode(img *frame.Image, opts J2KOptions) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Width == 0 || img.Height == 0 {
		return nil, nil
	}

	src := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	if img.Components == 4 {
		copy(src.Pix, img.Pix)
	} else {
		for i, j := 0, 0; i < len(img.Pix); i, j = i+3, j+4 {
			src.Pix[j], src.Pix[j+1], src.Pix[j+2], src.Pix[j+3] = img.Pix[i], img.Pix[i+1], img.Pix[i+2], 0xFF
		}
	}

	// Keep at least one sample per edge at the coarsest resolution.
	levels := opts.NumResolutions
	for levels > 1 && (img.Width>>(levels-1) == 0 || img.Height>>(levels-1) == 0) {
		levels--
	}

	var buf bytes.Buffer
	err := jpeg2000.Encode(&buf, src, &jpeg2000.Options{
		Format:         jpeg2000.FormatJ2K,
		Lossless:       true,
		HighThroughput: opts.HighThroughput,
		HTBlockWidth:   opts.BlockSize,
		HTBlockHeight:  opts.BlockSize,
		NumResolutions: levels,
	})
	if err != nil {
		return nil, fmt.Errorf("compression: jpeg2000 encode: %w", err)
	}
	return buf.Bytes(), nil
}

// J2KDecodeTo decodes a codestream produced by J2KEncode into dst, whose
// dimensions and component count must already be set.
func J2KDecodeTo(src []byte, dst *frame.Image) error {
	if len(src) == 0 {
		if dst.Pixels() != 0 {
			return ErrJ2KCorrupted
		}
		return nil
	}
	img, err := jpeg2000.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJ2KCorrupted, err)
	}
	b := img.Bounds()
	if b.Dx() != dst.Width || b.Dy() != dst.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrJ2KSize, b.Dx(), b.Dy(), dst.Width, dst.Height)
	}

	comps := dst.Components
	if nrgba, ok := img.(*image.NRGBA); ok && comps == 4 {
		for y := 0; y < dst.Height; y++ {
			off := nrgba.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Width*4:], nrgba.Pix[off:off+4*dst.Width])
		}
		return nil
	}
	// Unpremultiplying through color.RGBA loses precision at low alpha, so
	// 16-bit samples are narrowed directly.
	wide, _ := img.(*image.NRGBA64)
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			var c color.NRGBA
			if wide != nil {
				w := wide.NRGBA64At(b.Min.X+x, b.Min.Y+y)
				c = color.NRGBA{R: uint8(w.R >> 8), G: uint8(w.G >> 8), B: uint8(w.B >> 8), A: uint8(w.A >> 8)}
			} else {
				c = color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			}
			i := (y*dst.Width + x) * comps
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = c.R, c.G, c.B
			if comps == 4 {
				dst.Pix[i+3] = c.A
			}
		}
	}
	return nil
}
