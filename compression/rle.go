package compression

import (
	"errors"
)

// RLE compression errors
var (
	ErrRLECorrupted = errors.New("compression: corrupted RLE data")
	ErrRLEOverflow  = errors.New("compression: RLE decompressed size overflow")
)

// RLE constants
const (
	// rleMinRunLength is the minimum number of equal pixels encoded as a run
	rleMinRunLength = 2
	// rleMaxRunLength is the maximum number of pixels in one token
	rleMaxRunLength = 128
)

func samePixel(src []byte, i, j, bpp int) bool {
	a, b := src[i*bpp:(i+1)*bpp], src[j*bpp:(j+1)*bpp]
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

// RLECompress encodes packed pixels of bpp bytes each.
//
// Each token starts with a signed count byte:
//   - Negative count (-n): the next pixel is repeated (n+1) times (run)
//   - Non-negative count (+n): the next (n+1) pixels are copied literally
//
// Flat background regions, the common case in partial renders, collapse
// to one token per 128 pixels.
func RLECompress(src []byte, bpp int) []byte {
	if len(src) == 0 || bpp <= 0 {
		return nil
	}
	n := len(src) / bpp

	dst := make([]byte, 0, len(src)/4+16)

	i := 0
	for i < n {
		runEnd := i + 1
		for runEnd < n && runEnd-i < rleMaxRunLength && samePixel(src, i, runEnd, bpp) {
			runEnd++
		}
		if runEnd-i >= rleMinRunLength {
			dst = append(dst, byte(-(runEnd - i - 1)))
			dst = append(dst, src[i*bpp:(i+1)*bpp]...)
			i = runEnd
			continue
		}

		literalStart := i
		for i < n && i-literalStart < rleMaxRunLength {
			if i+1 < n && samePixel(src, i, i+1, bpp) {
				break
			}
			i++
		}
		dst = append(dst, byte(i-literalStart-1))
		dst = append(dst, src[literalStart*bpp:i*bpp]...)
	}

	return dst
}

// RLEDecompressTo decodes into dst, which must have exactly the
// decompressed length.
func RLEDecompressTo(src, dst []byte, bpp int) error {
	if bpp <= 0 || len(dst)%bpp != 0 {
		return ErrRLECorrupted
	}
	dstPos := 0
	i := 0
	for i < len(src) {
		count := int(int8(src[i]))
		i++

		if count < 0 {
			runBytes := (-count + 1) * bpp
			if i+bpp > len(src) {
				return ErrRLECorrupted
			}
			if dstPos+runBytes > len(dst) {
				return ErrRLEOverflow
			}
			px := src[i : i+bpp]
			i += bpp
			for end := dstPos + runBytes; dstPos < end; dstPos += bpp {
				copy(dst[dstPos:], px)
			}
		} else {
			literalBytes := (count + 1) * bpp
			if i+literalBytes > len(src) {
				return ErrRLECorrupted
			}
			if dstPos+literalBytes > len(dst) {
				return ErrRLEOverflow
			}
			copy(dst[dstPos:], src[i:i+literalBytes])
			dstPos += literalBytes
			i += literalBytes
		}
	}

	if dstPos != len(dst) {
		return ErrRLECorrupted
	}
	return nil
}
