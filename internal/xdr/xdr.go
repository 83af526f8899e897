// Package xdr provides little-endian fixed-width encoding and decoding for
// the messages exchanged between cooperating render processes.
//
// Every multi-byte value on the wire is little-endian: integers are four
// bytes, doubles eight bytes and depth samples four-byte IEEE 754 floats.
// Readers are bounds-checked so that a truncated or corrupted message is
// reported instead of misparsed.
package xdr

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrShortBuffer is returned when a read cannot complete because the
	// message holds fewer bytes than requested.
	ErrShortBuffer = errors.New("xdr: buffer too short")

	// ErrNegativeSize is returned when a size parameter is negative.
	ErrNegativeSize = errors.New("xdr: negative size")
)

// ByteOrder is the byte order used for every value on the wire.
var ByteOrder = binary.LittleEndian

// Reader decodes values from a byte slice, tracking a read position.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	if r.pos >= len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

// Pos returns the current read position.
func (r *Reader) Pos() int {
	return r.pos
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	if r.pos+n > len(r.data) {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// ReadInt32 reads a signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint32(r.data[r.pos:])
	r.pos += 4
	return int32(v), nil
}

// ReadInt reads a 32-bit integer and widens it to int.
func (r *Reader) ReadInt() (int, error) {
	v, err := r.ReadInt32()
	return int(v), err
}

// ReadBool reads a 32-bit integer and reports whether it is non-zero.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadInt32()
	return v != 0, err
}

// ReadFloat32 reads a 32-bit IEEE 754 floating-point number.
func (r *Reader) ReadFloat32() (float32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint32(r.data[r.pos:])
	r.pos += 4
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a 64-bit IEEE 754 floating-point number.
func (r *Reader) ReadFloat64() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(v), nil
}

// ReadFloat64s fills dst with consecutive doubles.
func (r *Reader) ReadFloat64s(dst []float64) error {
	if r.pos+8*len(dst) > len(r.data) {
		return ErrShortBuffer
	}
	for i := range dst {
		dst[i] = math.Float64frombits(ByteOrder.Uint64(r.data[r.pos:]))
		r.pos += 8
	}
	return nil
}

// ReadFloat32s fills dst with consecutive floats.
func (r *Reader) ReadFloat32s(dst []float32) error {
	if r.pos+4*len(dst) > len(r.data) {
		return ErrShortBuffer
	}
	DecodeFloat32s(dst, r.data[r.pos:r.pos+4*len(dst)])
	r.pos += 4 * len(dst)
	return nil
}

// ReadInt32s fills dst with consecutive 32-bit integers.
func (r *Reader) ReadInt32s(dst []int32) error {
	if r.pos+4*len(dst) > len(r.data) {
		return ErrShortBuffer
	}
	for i := range dst {
		dst[i] = int32(ByteOrder.Uint32(r.data[r.pos:]))
		r.pos += 4
	}
	return nil
}

// ReadBytesInto copies len(dst) bytes into dst.
func (r *Reader) ReadBytesInto(dst []byte) error {
	n := len(dst)
	if r.pos+n > len(r.data) {
		return ErrShortBuffer
	}
	copy(dst, r.data[r.pos:r.pos+n])
	r.pos += n
	return nil
}

// Next returns the next n bytes without copying them.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if r.pos+n > len(r.data) {
		return nil, ErrShortBuffer
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// BufferWriter appends encoded values to a growing byte slice.
type BufferWriter struct {
	buf []byte
}

// NewBufferWriter creates a BufferWriter with the given initial capacity.
func NewBufferWriter(capacity int) *BufferWriter {
	return &BufferWriter{buf: make([]byte, 0, capacity)}
}

// WrapBuffer creates a BufferWriter that appends to buf[:0], reusing its
// storage when large enough.
func WrapBuffer(buf []byte) *BufferWriter {
	return &BufferWriter{buf: buf[:0]}
}

// Len returns the number of bytes written.
func (w *BufferWriter) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes.
func (w *BufferWriter) Bytes() []byte {
	return w.buf
}

// Reset discards the written bytes, keeping the storage.
func (w *BufferWriter) Reset() {
	w.buf = w.buf[:0]
}

// WriteInt32 appends a signed 32-bit integer.
func (w *BufferWriter) WriteInt32(v int32) {
	w.buf = ByteOrder.AppendUint32(w.buf, uint32(v))
}

// WriteInt appends v as a 32-bit integer.
func (w *BufferWriter) WriteInt(v int) {
	w.WriteInt32(int32(v))
}

// WriteBool appends 1 for true and 0 for false as a 32-bit integer.
func (w *BufferWriter) WriteBool(v bool) {
	if v {
		w.WriteInt32(1)
		return
	}
	w.WriteInt32(0)
}

// WriteFloat32 appends a 32-bit float.
func (w *BufferWriter) WriteFloat32(v float32) {
	w.buf = ByteOrder.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteFloat64 appends a 64-bit float.
func (w *BufferWriter) WriteFloat64(v float64) {
	w.buf = ByteOrder.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteFloat64s appends every value of v.
func (w *BufferWriter) WriteFloat64s(v ...float64) {
	for _, f := range v {
		w.WriteFloat64(f)
	}
}

// WriteFloat32s appends every value of v.
func (w *BufferWriter) WriteFloat32s(v []float32) {
	start := len(w.buf)
	w.buf = grow(w.buf, 4*len(v))
	EncodeFloat32s(w.buf[start:], v)
}

// WriteInt32s appends every value of v.
func (w *BufferWriter) WriteInt32s(v []int32) {
	for _, i := range v {
		w.WriteInt32(i)
	}
}

// WriteBytes appends raw bytes.
func (w *BufferWriter) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// grow extends buf by n bytes, reallocating only when needed.
func grow(buf []byte, n int) []byte {
	if cap(buf)-len(buf) >= n {
		return buf[:len(buf)+n]
	}
	nb := make([]byte, len(buf)+n, 2*len(buf)+n)
	copy(nb, buf)
	return nb
}

// EncodeFloat32s writes src into dst, which must hold 4*len(src) bytes.
func EncodeFloat32s(dst []byte, src []float32) {
	if len(src) == 0 {
		return
	}
	_ = dst[4*len(src)-1]
	for i, v := range src {
		ByteOrder.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// DecodeFloat32s reads len(dst) floats from src, which must hold
// 4*len(dst) bytes.
func DecodeFloat32s(dst []float32, src []byte) {
	if len(dst) == 0 {
		return
	}
	_ = src[4*len(dst)-1]
	for i := range dst {
		dst[i] = math.Float32frombits(ByteOrder.Uint32(src[4*i:]))
	}
}
