package xdr

import (
	"bytes"
	"math"
	"testing"
)

func TestReaderIntegers(t *testing.T) {
	// Little-endian test data
	data := []byte{
		0x78, 0x56, 0x34, 0x12, // int32: 0x12345678
		0xFD, 0xFF, 0xFF, 0xFF, // int32: -3
		0x01, 0x00, 0x00, 0x00, // bool: true
	}
	r := NewReader(data)

	v, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("ReadInt32() error = %v", err)
	}
	if v != 0x12345678 {
		t.Errorf("ReadInt32() = 0x%08X, want 0x12345678", v)
	}

	n, err := r.ReadInt()
	if err != nil {
		t.Fatalf("ReadInt() error = %v", err)
	}
	if n != -3 {
		t.Errorf("ReadInt() = %d, want -3", n)
	}

	b, err := r.ReadBool()
	if err != nil || !b {
		t.Errorf("ReadBool() = %v, %v; want true, nil", b, err)
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d after reading everything, want 0", r.Len())
	}
	if _, err := r.ReadInt32(); err != ErrShortBuffer {
		t.Errorf("ReadInt32() past end error = %v, want ErrShortBuffer", err)
	}
}

func TestWriterReaderFloats(t *testing.T) {
	w := NewBufferWriter(0)
	w.WriteFloat64(math.Pi)
	w.WriteFloat64s(1.5, -2.25)
	w.WriteFloat32(0.1)
	w.WriteFloat32s([]float32{1, 0.5, 0.25})

	r := NewReader(w.Bytes())
	pi, err := r.ReadFloat64()
	if err != nil || pi != math.Pi {
		t.Fatalf("ReadFloat64() = %v, %v", pi, err)
	}
	pair := make([]float64, 2)
	if err := r.ReadFloat64s(pair); err != nil {
		t.Fatalf("ReadFloat64s() error = %v", err)
	}
	if pair[0] != 1.5 || pair[1] != -2.25 {
		t.Errorf("ReadFloat64s() = %v", pair)
	}
	f, err := r.ReadFloat32()
	if err != nil || f != 0.1 {
		t.Errorf("ReadFloat32() = %v, %v", f, err)
	}
	depth := make([]float32, 3)
	if err := r.ReadFloat32s(depth); err != nil {
		t.Fatalf("ReadFloat32s() error = %v", err)
	}
	if depth[0] != 1 || depth[1] != 0.5 || depth[2] != 0.25 {
		t.Errorf("ReadFloat32s() = %v", depth)
	}
}

func TestWriterByteLayout(t *testing.T) {
	w := NewBufferWriter(4)
	w.WriteInt32(0x01020304)
	w.WriteBool(false)
	w.WriteBytes([]byte{9, 8})

	want := []byte{0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0, 9, 8}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", w.Bytes(), want)
	}

	w.Reset()
	if w.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", w.Len())
	}
}

func TestWrapBufferReusesStorage(t *testing.T) {
	storage := make([]byte, 64)
	w := WrapBuffer(storage)
	w.WriteFloat32s(make([]float32, 8))
	if &w.Bytes()[0] != &storage[0] {
		t.Error("WrapBuffer reallocated although capacity was sufficient")
	}
}

func TestReaderShortReads(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if err := r.ReadFloat32s(make([]float32, 1)); err != ErrShortBuffer {
		t.Errorf("ReadFloat32s() error = %v, want ErrShortBuffer", err)
	}
	if _, err := r.Next(-1); err != ErrNegativeSize {
		t.Errorf("Next(-1) error = %v, want ErrNegativeSize", err)
	}
	if err := r.Skip(4); err != ErrShortBuffer {
		t.Errorf("Skip(4) error = %v, want ErrShortBuffer", err)
	}
	b, err := r.Next(3)
	if err != nil || len(b) != 3 {
		t.Errorf("Next(3) = %v, %v", b, err)
	}
}

func TestEncodeDecodeFloat32sEmpty(t *testing.T) {
	EncodeFloat32s(nil, nil)
	DecodeFloat32s(nil, nil)
}

func BenchmarkWriteFloat32s(b *testing.B) {
	depth := make([]float32, 512*512)
	w := NewBufferWriter(4 * len(depth))
	b.SetBytes(int64(4 * len(depth)))
	for i := 0; i < b.N; i++ {
		w.Reset()
		w.WriteFloat32s(depth)
	}
}
