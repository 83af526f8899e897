package compression

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// ErrZlibCorrupted reports a stream that does not inflate to the expected
// size.
var ErrZlibCorrupted = errors.New("compression: corrupted zlib data")

// ZlibLevel is a zlib compression level.
type ZlibLevel int

// Zlib levels. ZlibHuffmanOnly is a klauspost extension.
const (
	ZlibHuffmanOnly ZlibLevel = zlib.HuffmanOnly
	ZlibDefault     ZlibLevel = zlib.DefaultCompression
	ZlibStore       ZlibLevel = zlib.NoCompression
	ZlibFast        ZlibLevel = zlib.BestSpeed
	ZlibBest        ZlibLevel = zlib.BestCompression
)

// sliceWriter appends to a byte slice.
type sliceWriter struct{ b []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

type deflater struct {
	out sliceWriter
	zw  *zlib.Writer
}

// Frames are deflated once per exchange, so only the fast level is pooled.
var fastDeflaters = sync.Pool{
	New: func() any {
		d := &deflater{}
		d.zw, _ = zlib.NewWriterLevel(&d.out, int(ZlibFast))
		return d
	},
}

// ZlibCompress deflates src at ZlibFast. An empty src yields nil.
func ZlibCompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	return AppendZlib(nil, src, ZlibFast)
}

// AppendZlib appends the zlib stream of src at the given level to dst.
func AppendZlib(dst, src []byte, level ZlibLevel) ([]byte, error) {
	if level != ZlibFast {
		out := &sliceWriter{b: dst}
		zw, err := zlib.NewWriterLevel(out, int(level))
		if err != nil {
			return dst, err
		}
		if err := writeAll(zw, src); err != nil {
			return dst, err
		}
		return out.b, nil
	}

	d := fastDeflaters.Get().(*deflater)
	defer fastDeflaters.Put(d)
	d.out.b = dst
	d.zw.Reset(&d.out)
	err := writeAll(d.zw, src)
	out := d.out.b
	d.out.b = nil
	if err != nil {
		return dst, err
	}
	return out, nil
}

func writeAll(zw *zlib.Writer, src []byte) error {
	if _, err := zw.Write(src); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

type inflater struct {
	src bytes.Reader
	zr  io.ReadCloser
}

var inflaters = sync.Pool{New: func() any { return &inflater{} }}

// reset points the inflater at src, reusing the zlib reader when it can.
func (f *inflater) reset(src []byte) error {
	f.src.Reset(src)
	if r, ok := f.zr.(zlib.Resetter); ok && r.Reset(&f.src, nil) == nil {
		return nil
	}
	zr, err := zlib.NewReader(&f.src)
	if err != nil {
		f.zr = nil
		return err
	}
	f.zr = zr
	return nil
}

// ZlibDecompress inflates src, which must expand to exactly size bytes.
func ZlibDecompress(src []byte, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrZlibCorrupted
	}
	dst := make([]byte, size)
	if err := ZlibDecompressTo(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

// ZlibDecompressTo inflates src into dst. The stream must fill dst
// exactly; short or longer streams are ErrZlibCorrupted.
func ZlibDecompressTo(dst, src []byte) error {
	if len(src) == 0 {
		if len(dst) != 0 {
			return ErrZlibCorrupted
		}
		return nil
	}

	f := inflaters.Get().(*inflater)
	defer inflaters.Put(f)
	if err := f.reset(src); err != nil {
		return ErrZlibCorrupted
	}
	if _, err := io.ReadFull(f.zr, dst); err != nil {
		return ErrZlibCorrupted
	}
	var extra [1]byte
	if n, _ := f.zr.Read(extra[:]); n != 0 {
		return ErrZlibCorrupted
	}
	return nil
}
