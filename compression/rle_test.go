package compression

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// signedByte converts a signed int8 value to a byte for use in test data.
// This is needed because Go doesn't allow negative byte literals.
func signedByte(v int8) byte {
	return byte(v)
}

func TestRLECompressEmpty(t *testing.T) {
	if RLECompress(nil, 4) != nil {
		t.Error("Compressing nil should return nil")
	}
	if RLECompress([]byte{}, 3) != nil {
		t.Error("Compressing empty should return nil")
	}
}

func TestRLECompressRun(t *testing.T) {
	// Five identical RGB pixels
	data := bytes.Repeat([]byte{1, 2, 3}, 5)
	compressed := RLECompress(data, 3)

	expected := []byte{signedByte(-4), 1, 2, 3}
	if !bytes.Equal(compressed, expected) {
		t.Errorf("Compress run: got %v, want %v", compressed, expected)
	}
}

func TestRLECompressLiterals(t *testing.T) {
	data := []byte{1, 1, 2, 2, 3, 3}
	compressed := RLECompress(data, 2)

	expected := []byte{2, 1, 1, 2, 2, 3, 3}
	if !bytes.Equal(compressed, expected) {
		t.Errorf("Compress literals: got %v, want %v", compressed, expected)
	}
}

func TestRLELongRunSplits(t *testing.T) {
	data := make([]byte, 4*300)
	compressed := RLECompress(data, 4)
	// 128 + 128 + 44 pixels
	if len(compressed) != 3*5 {
		t.Errorf("compressed length = %d, want 15", len(compressed))
	}
	out := make([]byte, len(data))
	if err := RLEDecompressTo(compressed, out, 4); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Error("long run round trip mismatch")
	}
}

func TestRLERoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, bpp := range []int{3, 4} {
		data := make([]byte, 0, 1000*bpp)
		for len(data) < cap(data) {
			px := make([]byte, bpp)
			rng.Read(px)
			repeat := 1 + rng.Intn(6)
			for k := 0; k < repeat && len(data) < cap(data); k++ {
				data = append(data, px...)
			}
		}
		compressed := RLECompress(data, bpp)
		out := make([]byte, len(data))
		if err := RLEDecompressTo(compressed, out, bpp); err != nil {
			t.Fatalf("bpp=%d: %v", bpp, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("bpp=%d: round trip mismatch", bpp)
		}
	}
}

func TestRLEDecompressErrors(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		size int
		want error
	}{
		{"truncated run", []byte{signedByte(-3), 1, 2}, 12, ErrRLECorrupted},
		{"truncated literal", []byte{1, 1, 2, 3}, 6, ErrRLECorrupted},
		{"overflow", []byte{signedByte(-9), 1, 2, 3}, 9, ErrRLEOverflow},
		{"underflow", []byte{0, 1, 2, 3}, 6, ErrRLECorrupted},
		{"partial pixel size", nil, 5, ErrRLECorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RLEDecompressTo(tt.src, make([]byte, tt.size), 3)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func BenchmarkRLECompress(b *testing.B) {
	data := make([]byte, 512*512*4)
	for i := 0; i < len(data); i += 4 * 37 {
		data[i] = byte(i)
	}
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		RLECompress(data, 4)
	}
}
