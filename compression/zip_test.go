package compression

import (
	"bytes"
	"errors"
	"testing"
)

func TestZlibCompressEmpty(t *testing.T) {
	result, err := ZlibCompress(nil)
	if err != nil || result != nil {
		t.Errorf("ZlibCompress(nil) = %v, %v", result, err)
	}
}

func TestZlibDecompressEmpty(t *testing.T) {
	if err := ZlibDecompressTo(nil, nil); err != nil {
		t.Errorf("empty decompress: %v", err)
	}
	if err := ZlibDecompressTo(make([]byte, 4), nil); !errors.Is(err, ErrZlibCorrupted) {
		t.Errorf("empty src with non-empty dst err = %v", err)
	}
}

func TestZlibRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("depth and color "), 4096)
	for _, level := range []ZlibLevel{ZlibHuffmanOnly, ZlibDefault, ZlibStore, ZlibFast, ZlibBest} {
		compressed, err := AppendZlib(nil, data, level)
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		out, err := ZlibDecompress(compressed, len(data))
		if err != nil {
			t.Fatalf("level %d: decompress: %v", level, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestZlibPooledReuse(t *testing.T) {
	for i := 0; i < 10; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 1000+i)
		compressed, err := ZlibCompress(data)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]byte, len(data))
		if err := ZlibDecompressTo(out, compressed); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("iteration %d: mismatch", i)
		}
	}
}

func TestZlibDecompressErrors(t *testing.T) {
	compressed, _ := ZlibCompress([]byte("hello hello hello"))

	if err := ZlibDecompressTo(make([]byte, 5), []byte{1, 2, 3}); !errors.Is(err, ErrZlibCorrupted) {
		t.Errorf("garbage err = %v", err)
	}
	if err := ZlibDecompressTo(make([]byte, 100), compressed); !errors.Is(err, ErrZlibCorrupted) {
		t.Errorf("wrong size err = %v", err)
	}
	if err := ZlibDecompressTo(make([]byte, 5), compressed); !errors.Is(err, ErrZlibCorrupted) {
		t.Errorf("trailing data err = %v", err)
	}
	if _, err := ZlibDecompress(compressed, -1); !errors.Is(err, ErrZlibCorrupted) {
		t.Errorf("negative size err = %v", err)
	}
}

func BenchmarkZlibCompress(b *testing.B) {
	data := make([]byte, 512*512*4)
	for i := range data {
		data[i] = byte(i / 97)
	}
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		if _, err := ZlibCompress(data); err != nil {
			b.Fatal(err)
		}
	}
}

func TestAppendZlibKeepsPrefix(t *testing.T) {
	prefix := []byte{1, 2, 3, 4}
	data := bytes.Repeat([]byte{7}, 300)
	out, err := AppendZlib(append([]byte(nil), prefix...), data, ZlibFast)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[:4], prefix) {
		t.Fatalf("prefix = %v", out[:4])
	}
	got, err := ZlibDecompress(out[4:], len(data))
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("round trip after prefix: %v", err)
	}
}
