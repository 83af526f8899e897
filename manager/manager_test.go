package manager_test

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/composite"
	"github.com/mrjoshuak/go-sortlast/manager"
	"github.com/mrjoshuak/go-sortlast/memtarget"
	"github.com/mrjoshuak/go-sortlast/state"
)

var (
	black = color.RGBA{A: 0xFF}
	red   = color.RGBA{R: 0xFF, A: 0xFF}
	blue  = color.RGBA{B: 0xFF, A: 0xFF}
)

// cluster runs one Manager per target over an in-process group. Every
// rank but the root serves RMIs on its own goroutine.
type cluster struct {
	root    int
	eps     []*comm.Endpoint
	mgrs    []*manager.Manager
	targets []*memtarget.Target

	wg   sync.WaitGroup
	errs []error
}

func newCluster(targets []*memtarget.Target, cfg manager.Config) *cluster {
	group := comm.NewLocalGroup(len(targets), nil)
	cl := &cluster{root: cfg.RootRank, eps: group, targets: targets, errs: make([]error, len(targets))}
	for r, tg := range targets {
		cl.mgrs = append(cl.mgrs, manager.New(group[r], tg, cfg))
	}
	return cl
}

func (cl *cluster) serve(ctx context.Context) {
	for r, m := range cl.mgrs {
		if r == cl.root {
			continue
		}
		cl.wg.Add(1)
		go func() {
			defer cl.wg.Done()
			cl.errs[r] = m.StartServices(ctx)
		}()
	}
}

func (cl *cluster) stop(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := cl.mgrs[cl.root].StopServices(ctx); err != nil {
		t.Fatalf("StopServices: %v", err)
	}
	cl.wg.Wait()
	for r, err := range cl.errs {
		if err != nil {
			t.Errorf("rank %d services: %v", r, err)
		}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// patchTargets gives every rank one exclusive 10x10 patch at depth 0.1
// on a 50x20 window.
func patchTargets(p int) ([]*memtarget.Target, []color.RGBA) {
	targets := make([]*memtarget.Target, p)
	colors := make([]color.RGBA, p)
	for r := range targets {
		colors[r] = color.RGBA{R: uint8(60 * (r + 1)), G: uint8(255 - 50*r), B: uint8(30 * r), A: 0xFF}
		rect := memtarget.Rect{
			X0: float64(12*r) / 50, X1: float64(12*r+10) / 50,
			Y0: 5.0 / 20, Y1: 15.0 / 20,
			Depth: 0.1, Color: colors[r],
		}
		targets[r] = memtarget.New(50, 20, memtarget.NewRenderer(rect))
	}
	return targets, colors
}

func TestExclusivePatchesEndToEnd(t *testing.T) {
	for _, kind := range []composite.Kind{composite.KindTree, composite.KindCompressed} {
		for _, p := range []int{3, 4} {
			ctx := testContext(t)
			targets, colors := patchTargets(p)
			cfg := manager.DefaultConfig()
			cfg.Compositer = kind
			cl := newCluster(targets, cfg)
			cl.serve(ctx)

			if err := cl.mgrs[0].Render(ctx); err != nil {
				t.Fatalf("%s P=%d: Render: %v", kind, p, err)
			}
			img, err := cl.mgrs[0].PixelData()
			if err != nil {
				t.Fatal(err)
			}
			if img.Width != 50 || img.Height != 20 {
				t.Fatalf("image is %dx%d", img.Width, img.Height)
			}
			for y := 0; y < 20; y++ {
				for x := 0; x < 50; x++ {
					want := black
					if r := x / 12; r < p && x%12 < 10 && y >= 5 && y < 15 {
						want = colors[r]
					}
					if got := img.At(x, y); got != want {
						t.Fatalf("%s P=%d: (%d,%d) = %v, want %v", kind, p, x, y, got, want)
					}
				}
			}
			shown, n := targets[0].Displayed()
			if n != 1 || shown.At(12*(p-1), 5) != colors[p-1] {
				t.Errorf("%s P=%d: composite not written back (%d displays)", kind, p, n)
			}
			cl.stop(t, ctx)
		}
	}
}

func TestReducedFrame(t *testing.T) {
	ctx := testContext(t)
	targets := []*memtarget.Target{
		memtarget.New(40, 20, memtarget.NewRenderer(memtarget.Rect{X0: 0, X1: 0.5, Y0: 0, Y1: 1, Depth: 0.2, Color: red})),
		memtarget.New(40, 20, memtarget.NewRenderer(memtarget.Rect{X0: 0.25, X1: 1, Y0: 0, Y1: 1, Depth: 0.1, Color: blue})),
	}
	cfg := manager.DefaultConfig()
	cfg.ImageReductionFactor = 2
	cl := newCluster(targets, cfg)
	cl.serve(ctx)
	root := cl.mgrs[0]

	if err := root.Render(ctx); err != nil {
		t.Fatal(err)
	}
	if got := root.ReducedSize(); got != [2]int{20, 10} {
		t.Errorf("ReducedSize = %v", got)
	}
	reduced, err := root.ReducedPixelData()
	if err != nil {
		t.Fatal(err)
	}
	if reduced.Width != 20 || reduced.Height != 10 {
		t.Fatalf("reduced image is %dx%d", reduced.Width, reduced.Height)
	}
	if reduced.At(4, 3) != red || reduced.At(5, 3) != blue || reduced.At(19, 9) != blue {
		t.Errorf("reduced composite wrong: %v %v %v", reduced.At(4, 3), reduced.At(5, 3), reduced.At(19, 9))
	}

	full, err := root.PixelData()
	if err != nil {
		t.Fatal(err)
	}
	if full.Width != 40 || full.Height != 20 || full.Components != 4 {
		t.Fatalf("full image is %dx%dx%d", full.Width, full.Height, full.Components)
	}
	if full.At(9, 7) != red || full.At(10, 7) != blue || full.At(39, 19) != blue {
		t.Errorf("magnified composite wrong: %v %v %v", full.At(9, 7), full.At(10, 7), full.At(39, 19))
	}
	region, err := root.PixelDataRegion(10, 0, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	if region.Width != 3 || region.Height != 2 || region.At(0, 0) != red || region.At(2, 1) != blue {
		t.Errorf("region %dx%d", region.Width, region.Height)
	}
	if _, err := root.PixelDataRegion(0, 0, 40, 0); err == nil {
		t.Error("out of bounds region accepted")
	}

	if vp := targets[0].Renderers()[0].State().Viewport; vp != [4]float64{0, 0, 1, 1} {
		t.Errorf("root viewport not restored: %v", vp)
	}
	cl.stop(t, ctx)
	if vp := targets[1].Renderers()[0].State().Viewport; vp != [4]float64{0, 0, 1, 1} {
		t.Errorf("satellite viewport not restored: %v", vp)
	}
	if got := cl.mgrs[1].ReducedSize(); got != [2]int{20, 10} {
		t.Errorf("satellite ReducedSize = %v", got)
	}
}

func TestStateSynchronized(t *testing.T) {
	ctx := testContext(t)
	rootRen := memtarget.NewRenderer()
	rs := rootRen.State()
	rs.Camera.Position = [3]float64{1, 2, 3}
	rs.Camera.ParallelScale = 4
	rs.Background = [3]float64{0.5, 0, 0}
	rootRen.SetState(rs)
	rootRen.SetLights([]state.LightState{
		{Type: state.Headlight, Position: [3]float64{0, 0, 1}},
		{Type: state.SceneLight, Position: [3]float64{5, 5, 5}},
	})
	rootTarget := memtarget.New(30, 30, rootRen)
	rootTarget.SetDesiredUpdateRate(7.5)
	rootTarget.SetTileScale([2]int{2, 1})

	satRen := memtarget.NewRenderer()
	satRen.SetLights(make([]state.LightState, 3))
	extra := memtarget.NewRenderer()
	satTarget := memtarget.New(10, 10, satRen, extra)

	cl := newCluster([]*memtarget.Target{rootTarget, satTarget}, manager.DefaultConfig())
	cl.serve(ctx)
	if err := cl.mgrs[0].Render(ctx); err != nil {
		t.Fatal(err)
	}
	cl.stop(t, ctx)

	// The root's 30x30 target is tiled 2x1, so one tile is 15x30.
	if got := cl.mgrs[0].FullSize(); got != [2]int{15, 30} {
		t.Errorf("full size %v, want [15 30]", got)
	}
	if w, h := satTarget.ActualSize(); w != 15 || h != 30 {
		t.Errorf("satellite size %dx%d, want 15x30", w, h)
	}
	if got := satRen.Lights(); len(got) != 2 || got[1].Position != [3]float64{5, 5, 5} {
		t.Errorf("satellite lights = %v", got)
	}
	if got := satRen.State().Camera; got != rs.Camera {
		t.Errorf("satellite camera = %+v, want %+v", got, rs.Camera)
	}
	if got := satRen.State().Background; got != rs.Background {
		t.Errorf("satellite background = %v", got)
	}
	if satTarget.DesiredUpdateRate() != 7.5 || satTarget.TileScale() != [2]int{2, 1} {
		t.Error("window settings not synchronized")
	}
	if satTarget.Renders() != 1 {
		t.Errorf("satellite rendered %d times", satTarget.Renders())
	}
}

func TestSatelliteClampsToScreen(t *testing.T) {
	ctx := testContext(t)
	sat := memtarget.New(10, 10, memtarget.NewRenderer())
	sat.SetScreenSize(30, 100)
	cfg := manager.DefaultConfig()
	cfg.UseCompositing = false
	cl := newCluster([]*memtarget.Target{memtarget.New(60, 20, memtarget.NewRenderer()), sat}, cfg)
	cl.serve(ctx)
	if err := cl.mgrs[0].Render(ctx); err != nil {
		t.Fatal(err)
	}
	cl.stop(t, ctx)
	if w, h := sat.ActualSize(); w != 30 || h != 10 {
		t.Errorf("clamped size %dx%d, want 30x10", w, h)
	}
	if cl.mgrs[1].UseCompositing() {
		t.Error("satellite did not pick up UseCompositing")
	}
}

func TestDefaultWindowSize(t *testing.T) {
	ctx := testContext(t)
	tg := memtarget.New(0, 0, memtarget.NewRenderer())
	cl := newCluster([]*memtarget.Target{tg}, manager.DefaultConfig())
	if err := cl.mgrs[0].Render(ctx); err != nil {
		t.Fatal(err)
	}
	if w, h := tg.ActualSize(); w != 300 || h != 300 {
		t.Errorf("size %dx%d, want 300x300", w, h)
	}
	if got := cl.mgrs[0].FullSize(); got != [2]int{300, 300} {
		t.Errorf("FullSize = %v", got)
	}
}

func TestForcedSize(t *testing.T) {
	ctx := testContext(t)
	cfg := manager.DefaultConfig()
	cfg.ForcedSize = [2]int{16, 8}
	cfg.ImageReductionFactor = 3
	m := manager.New(comm.NewLocalGroup(1, nil)[0], memtarget.New(64, 64, memtarget.NewRenderer()), cfg)
	if err := m.Render(ctx); err != nil {
		t.Fatal(err)
	}
	if m.FullSize() != [2]int{16, 8} || m.ReducedSize() != [2]int{6, 3} {
		t.Errorf("full %v reduced %v", m.FullSize(), m.ReducedSize())
	}
}

func TestVisiblePropBounds(t *testing.T) {
	ctx := testContext(t)
	targets := []*memtarget.Target{
		memtarget.New(8, 8, memtarget.NewRenderer(memtarget.Rect{X0: 0.2, X1: 0.4, Y0: 0.2, Y1: 0.4, Depth: 0.5})),
		memtarget.New(8, 8, memtarget.NewRenderer(memtarget.Rect{X0: 0.1, X1: 0.3, Y0: 0.5, Y1: 0.9, Depth: 0.3})),
		memtarget.New(8, 8, memtarget.NewRenderer()),
	}
	cfg := manager.DefaultConfig()
	cfg.RootRank = 1
	cl := newCluster(targets, cfg)
	cl.serve(ctx)
	root := cl.mgrs[1]

	want := state.Bounds{0.1, 0.4, 0.2, 0.9, 0.3, 0.5}
	got, err := root.ComputeVisiblePropBounds(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("bounds = %v, want %v", got, want)
	}
	if got, err := root.ComputeVisiblePropBounds(ctx, 7); err != nil || got != want {
		t.Errorf("invalid renderer id: %v, %v", got, err)
	}

	if err := root.ResetAllCameras(ctx); err != nil {
		t.Fatal(err)
	}
	ren := targets[1].Renderers()[0]
	if fp := ren.State().Camera.FocalPoint; fp != want.Center() {
		t.Errorf("focal point %v, want %v", fp, want.Center())
	}
	if err := root.ResetCameraClippingRange(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := cl.mgrs[0].ComputeVisiblePropBounds(ctx, 0); !errors.Is(err, manager.ErrNotRoot) {
		t.Errorf("bounds on a satellite: %v", err)
	}
	cl.stop(t, ctx)
}

func TestBoundsInsideFrameAreLocal(t *testing.T) {
	ctx := testContext(t)
	targets, _ := patchTargets(2)
	cl := newCluster(targets, manager.DefaultConfig())
	cl.serve(ctx)
	root := cl.mgrs[0]

	if err := root.StartFrame(ctx); err != nil {
		t.Fatal(err)
	}
	if err := root.StartFrame(ctx); !errors.Is(err, manager.ErrFrameInFlight) {
		t.Errorf("reentrant StartFrame: %v", err)
	}
	b, err := root.ComputeVisiblePropBounds(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := targets[0].Renderers()[0].VisibleBounds(); b != want {
		t.Errorf("bounds in frame = %v, want local %v", b, want)
	}
	if err := root.EndFrame(ctx); err != nil {
		t.Fatal(err)
	}
	if root.InFrame() {
		t.Error("frame still in flight")
	}
	cl.stop(t, ctx)
}

func TestAbortedFrame(t *testing.T) {
	ctx := testContext(t)
	targets, colors := patchTargets(3)
	cl := newCluster(targets, manager.DefaultConfig())
	cl.serve(ctx)
	root := cl.mgrs[0]

	targets[0].SetAbort(true)
	if err := root.Render(ctx); !errors.Is(err, manager.ErrAborted) {
		t.Fatalf("aborted Render: %v", err)
	}
	if root.InFrame() {
		t.Fatal("aborted frame left in flight")
	}

	targets[0].SetAbort(false)
	if err := root.Render(ctx); err != nil {
		t.Fatalf("Render after abort: %v", err)
	}
	img, _ := root.PixelData()
	if img.At(24, 10) != colors[2] {
		t.Errorf("composite after abort missing rank 2: %v", img.At(24, 10))
	}
	if root.Frames() != 2 {
		t.Errorf("Frames = %d", root.Frames())
	}
	cl.stop(t, ctx)
}

func TestBroadcastResult(t *testing.T) {
	ctx := testContext(t)
	targets, colors := patchTargets(3)
	cfg := manager.DefaultConfig()
	cfg.BroadcastResult = true
	cl := newCluster(targets, cfg)
	cl.serve(ctx)
	if err := cl.mgrs[0].Render(ctx); err != nil {
		t.Fatal(err)
	}
	cl.stop(t, ctx)
	for r, m := range cl.mgrs {
		img, err := m.PixelData()
		if err != nil {
			t.Fatal(err)
		}
		for p, c := range colors {
			if got := img.At(12*p+5, 10); got != c {
				t.Errorf("rank %d: patch %d = %v, want %v", r, p, got, c)
			}
		}
	}
}

func TestWithoutEventPropagation(t *testing.T) {
	ctx := testContext(t)
	targets, colors := patchTargets(2)
	cfg := manager.DefaultConfig()
	cfg.RenderEventPropagation = false
	cl := newCluster(targets, cfg)

	const frames = 3
	errc := make(chan error, 1)
	go func() {
		for i := 0; i < frames; i++ {
			if err := cl.mgrs[1].SatelliteRender(ctx); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()
	for i := 0; i < frames; i++ {
		if err := cl.mgrs[0].Render(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	img, _ := cl.mgrs[0].PixelData()
	if img.At(15, 10) != colors[1] {
		t.Errorf("satellite patch missing: %v", img.At(15, 10))
	}
	if g := cl.mgrs[0].BufferGrows(); g != 1 {
		t.Errorf("compositing buffers grew %d times over %d frames", g, frames)
	}
}

func TestRoleErrors(t *testing.T) {
	ctx := testContext(t)
	targets, _ := patchTargets(2)
	cl := newCluster(targets, manager.DefaultConfig())
	root, sat := cl.mgrs[0], cl.mgrs[1]

	if err := sat.StartFrame(ctx); !errors.Is(err, manager.ErrNotRoot) {
		t.Errorf("StartFrame on satellite: %v", err)
	}
	if err := root.SatelliteStartFrame(ctx); !errors.Is(err, manager.ErrNotSatellite) {
		t.Errorf("SatelliteStartFrame on root: %v", err)
	}
	if err := sat.StopServices(ctx); !errors.Is(err, manager.ErrNotRoot) {
		t.Errorf("StopServices on satellite: %v", err)
	}
	if err := root.EndFrame(ctx); !errors.Is(err, manager.ErrNoFrame) {
		t.Errorf("EndFrame without frame: %v", err)
	}
	if err := manager.New(nil, targets[0], manager.DefaultConfig()).Render(ctx); !errors.Is(err, manager.ErrNoController) {
		t.Errorf("Render without controller: %v", err)
	}
}

func TestTransportFailureReleasesFrame(t *testing.T) {
	targets, _ := patchTargets(2)
	cl := newCluster(targets, manager.DefaultConfig())
	root := cl.mgrs[0]

	// Nobody serves rank 1, so the composite never completes.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := root.Render(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Render = %v, want deadline exceeded", err)
	}
	if root.InFrame() {
		t.Fatal("failed frame left in flight")
	}
	if vp := targets[0].Renderers()[0].State().Viewport; vp != [4]float64{0, 0, 1, 1} {
		t.Errorf("viewport not restored: %v", vp)
	}
}

func TestCompositingDisabledSkipsWriteBack(t *testing.T) {
	ctx := testContext(t)
	targets, _ := patchTargets(2)
	cfg := manager.DefaultConfig()
	cfg.UseCompositing = false
	cl := newCluster(targets, cfg)
	cl.serve(ctx)
	if err := cl.mgrs[0].Render(ctx); err != nil {
		t.Fatal(err)
	}
	cl.stop(t, ctx)
	if _, n := targets[0].Displayed(); n != 0 {
		t.Errorf("uncomposited full-size frame written back %d times", n)
	}
}

func TestShapeMismatchDoesNotLeakIntoNextFrame(t *testing.T) {
	green := color.RGBA{G: 0xFF, A: 0xFF}
	for _, kind := range []composite.Kind{composite.KindTree, composite.KindCompressed} {
		ctx := testContext(t)
		targets, colors := patchTargets(3)
		// Rank 1 cannot show the root's 50x20 window and renders 30x12.
		targets[1].SetScreenSize(30, 100)
		cfg := manager.DefaultConfig()
		cfg.Compositer = kind
		cl := newCluster(targets, cfg)
		cl.serve(ctx)
		root := cl.mgrs[0]

		if err := root.Render(ctx); !errors.Is(err, composite.ErrShape) {
			t.Fatalf("%s: first frame = %v, want ErrShape", kind, err)
		}
		if root.InFrame() {
			t.Fatalf("%s: failed frame left in flight", kind)
		}
		if n := cl.eps[0].Pending(); n != 0 {
			t.Fatalf("%s: %d messages of the failed frame still queued", kind, n)
		}

		targets[1].SetScreenSize(0, 0)
		targets[2].Renderers()[0].(*memtarget.Renderer).Rects = []memtarget.Rect{
			{X1: 0.1, Y1: 0.25, Depth: 0.2, Color: green},
		}
		if err := root.Render(ctx); err != nil {
			t.Fatalf("%s: second frame: %v", kind, err)
		}
		img, err := root.PixelData()
		if err != nil {
			t.Fatal(err)
		}
		if got := img.At(0, 0); got != green {
			t.Errorf("%s: (0,0) = %v, want rank 2's new patch %v", kind, got, green)
		}
		if got := img.At(12, 5); got != colors[1] {
			t.Errorf("%s: (12,5) = %v, want rank 1's patch %v", kind, got, colors[1])
		}
		if got := img.At(24, 5); got != black {
			t.Errorf("%s: (24,5) = %v, rank 2's old patch survived", kind, got)
		}
		cl.stop(t, ctx)
	}
}
