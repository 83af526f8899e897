package compression

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/mrjoshuak/go-sortlast/frame"
)

// randomPair fills a pair with random color and depth, with roughly
// the given fraction of background pixels in short spans.
func randomPair(rng *rand.Rand, w, h, comps int, background float64) *frame.Pair {
	p := frame.NewPair(w, h, comps)
	rng.Read(p.Pix)
	for i := 0; i < len(p.Depth); {
		span := 1 + rng.Intn(8)
		bg := rng.Float64() < background
		for k := 0; k < span && i < len(p.Depth); k, i = k+1, i+1 {
			if bg {
				p.Depth[i] = frame.Far
			} else {
				// Coarse depths so ties between pairs are common.
				p.Depth[i] = float32(rng.Intn(8)) / 10
			}
		}
	}
	return p
}

// mergePairs is the per-pixel reference: nearer wins, ties keep a.
func mergePairs(a, b *frame.Pair) *frame.Pair {
	out := &frame.Pair{}
	out.CopyFrom(a)
	c := a.Components
	for i := range a.Depth {
		if b.Depth[i] < a.Depth[i] {
			out.Depth[i] = b.Depth[i]
			copy(out.Pix[i*c:(i+1)*c], b.Pix[i*c:(i+1)*c])
		}
	}
	return out
}

func TestCompressDepthRuns(t *testing.T) {
	p := frame.NewPair(8, 1, 3)
	p.Depth[2], p.Depth[3], p.Depth[7] = 0.5, 0.25, 0.75
	for i := range p.Pix {
		p.Pix[i] = byte(i)
	}

	var r DepthRuns
	CompressDepth(p, &r)

	if want := []int32{-2, 2, -3, 1}; !reflect.DeepEqual(r.Runs, want) {
		t.Errorf("Runs = %v, want %v", r.Runs, want)
	}
	if want := []float32{0.5, 0.25, 0.75}; !reflect.DeepEqual(r.Depth, want) {
		t.Errorf("Depth = %v, want %v", r.Depth, want)
	}
	if want := []byte{6, 7, 8, 9, 10, 11, 21, 22, 23}; !reflect.DeepEqual(r.Color, want) {
		t.Errorf("Color = %v, want %v", r.Color, want)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompressAllBackground(t *testing.T) {
	p := frame.NewPair(100, 100, 4)
	var r DepthRuns
	CompressDepth(p, &r)
	if len(r.Runs) != 1 || r.Runs[0] != -10000 || r.Literals() != 0 {
		t.Errorf("Runs = %v, literals = %d", r.Runs, r.Literals())
	}
	if r.Size() != depthRunsHeaderSize+4 {
		t.Errorf("Size = %d", r.Size())
	}
}

func TestMergeDepthMatchesPixelMerge(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, comps := range []int{3, 4} {
		for _, bg := range []float64{0, 0.5, 0.9, 1} {
			a := randomPair(rng, 37, 11, comps, bg)
			b := randomPair(rng, 37, 11, comps, bg)

			var ra, rb, merged DepthRuns
			CompressDepth(a, &ra)
			CompressDepth(b, &rb)
			if err := MergeDepth(&ra, &rb, &merged); err != nil {
				t.Fatal(err)
			}
			if err := merged.Validate(); err != nil {
				t.Fatalf("merged runs invalid: %v", err)
			}

			got := &frame.Pair{}
			got.CopyFrom(a)
			if err := UncompressDepth(&merged, got); err != nil {
				t.Fatal(err)
			}
			want := mergePairs(a, b)
			if !reflect.DeepEqual(got.Depth, want.Depth) {
				t.Errorf("comps=%d bg=%v: depth mismatch", comps, bg)
			}
			if !reflect.DeepEqual(got.Pix, want.Pix) {
				t.Errorf("comps=%d bg=%v: color mismatch", comps, bg)
			}
		}
	}
}

func TestMergeDepthShapeMismatch(t *testing.T) {
	var a, b, out DepthRuns
	CompressDepth(frame.NewPair(4, 4, 4), &a)
	CompressDepth(frame.NewPair(4, 5, 4), &b)
	if err := MergeDepth(&a, &b, &out); !errors.Is(err, ErrRunsShape) {
		t.Errorf("err = %v, want ErrRunsShape", err)
	}
}

func TestDepthRunsMarshal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := randomPair(rng, 20, 20, 4, 0.6)
	var r DepthRuns
	CompressDepth(p, &r)

	data := r.AppendMarshal(nil)
	if len(data) != r.Size() {
		t.Fatalf("marshaled %d bytes, Size %d", len(data), r.Size())
	}
	var back DepthRuns
	if err := back.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Runs, r.Runs) || !reflect.DeepEqual(back.Depth, r.Depth) ||
		!reflect.DeepEqual(back.Color, r.Color) || back.Pixels != r.Pixels {
		t.Error("marshal round trip mismatch")
	}

	bad := append([]byte(nil), data...)
	// Corrupt the first run count.
	bad[depthRunsHeaderSize] ^= 0x01
	if err := back.Unmarshal(bad); !errors.Is(err, ErrRunsCorrupted) {
		t.Errorf("corrupt runs err = %v", err)
	}
	if err := back.Unmarshal(data[:len(data)-1]); !errors.Is(err, ErrRunsCorrupted) {
		t.Errorf("truncated err = %v", err)
	}
}

func TestUncompressKeepsBackgroundColor(t *testing.T) {
	p := frame.NewPair(4, 1, 3)
	for i := range p.Pix {
		p.Pix[i] = 9
	}
	r := DepthRuns{Pixels: 4, Components: 3, Runs: []int32{-3, 1}, Depth: []float32{0.1}, Color: []byte{1, 2, 3}}
	if err := UncompressDepth(&r, p); err != nil {
		t.Fatal(err)
	}
	want := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 1, 2, 3}
	if !reflect.DeepEqual(p.Pix, want) {
		t.Errorf("Pix = %v, want %v", p.Pix, want)
	}
	if p.Depth[3] != 0.1 || p.Depth[0] != frame.Far {
		t.Errorf("Depth = %v", p.Depth)
	}
}

func BenchmarkMergeDepth(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	pa := randomPair(rng, 512, 512, 4, 0.7)
	pb := randomPair(rng, 512, 512, 4, 0.7)
	var ra, rb, out DepthRuns
	CompressDepth(pa, &ra)
	CompressDepth(pb, &rb)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := MergeDepth(&ra, &rb, &out); err != nil {
			b.Fatal(err)
		}
	}
}
