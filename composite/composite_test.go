package composite

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// runComposite composites inputs[r] on rank r and returns every rank's
// local pair afterwards.
func runComposite(t *testing.T, kind Kind, opts Options, inputs []*frame.Pair) []*frame.Pair {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	group := comm.NewLocalGroup(len(inputs), nil)
	out := make([]*frame.Pair, len(inputs))
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for r := range group {
		out[r] = &frame.Pair{}
		out[r].CopyFrom(inputs[r])
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := New(kind, group[r], opts)
			errs[r] = c.CompositeBuffer(ctx, out[r], &frame.Pair{})
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	return out
}

// reference merges inputs in virtual rank order: nearest wins, ties go
// to the lowest virtual rank.
func reference(inputs []*frame.Pair, root int) *frame.Pair {
	p := len(inputs)
	out := &frame.Pair{}
	out.CopyFrom(inputs[root])
	comps := out.Components
	for v := 1; v < p; v++ {
		in := inputs[(v+root)%p]
		for i := range out.Depth {
			if in.Depth[i] < out.Depth[i] {
				out.Depth[i] = in.Depth[i]
				copy(out.Pix[i*comps:(i+1)*comps], in.Pix[i*comps:(i+1)*comps])
			}
		}
	}
	return out
}

func randomInputs(rng *rand.Rand, p, w, h, comps int) []*frame.Pair {
	inputs := make([]*frame.Pair, p)
	for r := range inputs {
		in := frame.NewPair(w, h, comps)
		rng.Read(in.Pix)
		for i := range in.Depth {
			if rng.Intn(3) > 0 {
				in.Depth[i] = float32(rng.Intn(5)) / 5
			}
		}
		inputs[r] = in
	}
	return inputs
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		rank, size, root int
		want             []level
	}{
		{0, 1, 0, nil},
		{0, 3, 0, []level{{1, 1, true}, {2, 2, true}}},
		{1, 3, 0, []level{{1, 0, false}}},
		{2, 3, 0, []level{{2, 0, false}}},
		{3, 4, 0, []level{{1, 2, false}}},
		{2, 4, 0, []level{{1, 3, true}, {2, 0, false}}},
		// Root 2 of 3: virtual ranks 0,1,2 are real ranks 2,0,1.
		{2, 3, 2, []level{{1, 0, true}, {2, 1, true}}},
		{1, 3, 2, []level{{2, 2, false}}},
	}
	for _, tt := range tests {
		got := schedule(tt.rank, tt.size, tt.root)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("schedule(%d, %d, %d) = %v, want %v", tt.rank, tt.size, tt.root, got, tt.want)
		}
	}
}

func TestCompositeMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, kind := range []Kind{KindTree, KindCompressed} {
		for _, p := range []int{1, 2, 3, 4, 5, 7, 8} {
			for _, root := range []int{0, p - 1} {
				for _, comps := range []int{3, 4} {
					name := fmt.Sprintf("%s/P%d/root%d/c%d", kind, p, root, comps)
					t.Run(name, func(t *testing.T) {
						inputs := randomInputs(rng, p, 23, 9, comps)
						out := runComposite(t, kind, Options{Root: root}, inputs)
						want := reference(inputs, root)
						if !reflect.DeepEqual(out[root].Depth, want.Depth) {
							t.Error("depth mismatch on root")
						}
						if !reflect.DeepEqual(out[root].Pix, want.Pix) {
							t.Error("color mismatch on root")
						}
					})
				}
			}
		}
	}
}

func TestCompressedBitIdenticalToTree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, p := range []int{2, 3, 6} {
		for _, deflate := range []bool{false, true} {
			inputs := randomInputs(rng, p, 31, 17, 4)
			tree := runComposite(t, KindTree, Options{}, inputs)
			comp := runComposite(t, KindCompressed, Options{Deflate: deflate}, inputs)
			if !reflect.DeepEqual(tree[0].Pix, comp[0].Pix) || !reflect.DeepEqual(tree[0].Depth, comp[0].Depth) {
				t.Errorf("P=%d deflate=%v: compressed result differs from tree", p, deflate)
			}
		}
	}
}

func TestBroadcastResult(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, kind := range []Kind{KindTree, KindCompressed} {
		inputs := randomInputs(rng, 5, 16, 16, 3)
		out := runComposite(t, kind, Options{Root: 1, BroadcastResult: true}, inputs)
		want := reference(inputs, 1)
		for r, o := range out {
			if !reflect.DeepEqual(o.Pix, want.Pix) || !reflect.DeepEqual(o.Depth, want.Depth) {
				t.Errorf("%s: rank %d does not hold the composite", kind, r)
			}
		}
	}
}

// patchInputs gives every rank one exclusive 10x10 patch at depth 0.1 in
// its own color over a background.
func patchInputs(p int) ([]*frame.Pair, []color.RGBA) {
	colors := make([]color.RGBA, p)
	inputs := make([]*frame.Pair, p)
	for r := range inputs {
		colors[r] = color.RGBA{R: uint8(60 * (r + 1)), G: uint8(255 - 50*r), B: uint8(30 * r), A: 0xFF}
		in := frame.NewPair(50, 20, 4)
		in.Clear(color.RGBA{A: 0xFF})
		for y := 5; y < 15; y++ {
			for x := r * 12; x < r*12+10; x++ {
				in.Set(x, y, colors[r])
				in.Depth[y*in.Width+x] = 0.1
			}
		}
		inputs[r] = in
	}
	return inputs, colors
}

func TestExclusivePatches(t *testing.T) {
	for _, kind := range []Kind{KindTree, KindCompressed} {
		for _, p := range []int{3, 4} {
			inputs, colors := patchInputs(p)
			res := runComposite(t, kind, Options{}, inputs)[0]
			for y := 0; y < res.Height; y++ {
				for x := 0; x < res.Width; x++ {
					want := color.RGBA{A: 0xFF}
					wantDepth := frame.Far
					if r := x / 12; r < p && x%12 < 10 && y >= 5 && y < 15 {
						want, wantDepth = colors[r], 0.1
					}
					if got := res.At(x, y); got != want {
						t.Fatalf("%s P=%d: (%d,%d) = %v, want %v", kind, p, x, y, got, want)
					}
					if got := res.Depth[y*res.Width+x]; got != wantDepth {
						t.Fatalf("%s P=%d: depth (%d,%d) = %v, want %v", kind, p, x, y, got, wantDepth)
					}
				}
			}
		}
	}
}

func TestTieKeepsLowestVirtualRank(t *testing.T) {
	inputs := make([]*frame.Pair, 4)
	for r := range inputs {
		in := frame.NewPair(1, 1, 3)
		in.Pix[0] = byte(r)
		in.Depth[0] = 0.5
		inputs[r] = in
	}
	for _, root := range []int{0, 2} {
		out := runComposite(t, KindTree, Options{Root: root}, inputs)
		if got := out[root].Pix[0]; int(got) != root {
			t.Errorf("root %d: tie resolved to rank %d", root, got)
		}
	}
}

func TestShapeMismatch(t *testing.T) {
	group := comm.NewLocalGroup(2, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- NewTree(group[1], Options{}).CompositeBuffer(ctx, frame.NewPair(4, 4, 4), &frame.Pair{})
	}()
	err := NewTree(group[0], Options{}).CompositeBuffer(ctx, frame.NewPair(5, 4, 4), &frame.Pair{})
	if err == nil {
		t.Fatal("expected shape error")
	}
	if err := <-errc; err != nil {
		t.Fatalf("sender: %v", err)
	}
}

func TestShapeMismatchReachesRoot(t *testing.T) {
	for _, kind := range []Kind{KindTree, KindCompressed} {
		for _, deflate := range []bool{false, true} {
			group := comm.NewLocalGroup(4, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

			// Rank 2 merges rank 3 and then forwards to the root; its own
			// buffer has the wrong shape.
			errs := make([]error, len(group))
			var wg sync.WaitGroup
			for r, ep := range group {
				local := frame.NewPair(6, 4, 4)
				if r == 2 {
					local = frame.NewPair(3, 4, 4)
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					c := New(kind, ep, Options{Deflate: deflate})
					errs[r] = c.CompositeBuffer(ctx, local, &frame.Pair{})
				}()
			}
			wg.Wait()
			cancel()

			if !errors.Is(errs[0], ErrShape) {
				t.Errorf("%s deflate=%v: root err = %v, want ErrShape", kind, deflate, errs[0])
			}
			if !errors.Is(errs[2], ErrShape) {
				t.Errorf("%s deflate=%v: rank 2 err = %v, want ErrShape", kind, deflate, errs[2])
			}
			for _, r := range []int{1, 3} {
				if errs[r] != nil {
					t.Errorf("%s deflate=%v: rank %d: %v", kind, deflate, r, errs[r])
				}
			}
			for r, ep := range group {
				if n := ep.Pending(); n != 0 {
					t.Errorf("%s deflate=%v: rank %d has %d queued messages", kind, deflate, r, n)
				}
			}
		}
	}
}

func TestDecodeRejectsOversizedInflate(t *testing.T) {
	cc := NewCompressed(comm.NewLocalGroup(1, nil)[0], Options{Deflate: true})
	local := frame.NewPair(4, 4, 4)
	w := xdr.NewBufferWriter(8)
	w.WriteInt(1 << 30)
	w.WriteInt(0)
	if err := cc.decode(w.Bytes(), local); err == nil {
		t.Error("oversized inflate size accepted")
	}
	if err := cc.decode(nil, local); err == nil {
		t.Error("empty message accepted")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("compressed"); err != nil || k != KindCompressed {
		t.Errorf("ParseKind(compressed) = %v, %v", k, err)
	}
	if _, err := ParseKind("binary-swap"); err == nil {
		t.Error("ParseKind(binary-swap) should fail")
	}
}

func BenchmarkMergePixels(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := randomInputs(rng, 2, 1024, 1024, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MergePixels(in[0], in[1])
	}
}
