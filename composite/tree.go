package composite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/internal/parallel"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// Tree exchanges full depth and color buffers at every level.
type Tree struct {
	c    comm.Controller
	opts Options
	log  *slog.Logger
}

// NewTree returns a tree compositer over c.
func NewTree(c comm.Controller, opts Options) *Tree {
	return &Tree{c: c, opts: opts, log: logging.OrNop(opts.Logger)}
}

// CompositeBuffer runs the reduction. Only the root's local pair is
// guaranteed to hold the full composite unless BroadcastResult is set.
//
// A partner buffer of the wrong shape does not end the reduction early:
// the rank still takes every remaining message of its schedule, so nothing
// from this frame is left queued for the next one, and it forwards an
// empty buffer so the failure reaches the root. The first such error is
// returned.
func (t *Tree) CompositeBuffer(ctx context.Context, local, scratch *frame.Pair) error {
	failed := local.Validate()
	if failed == nil {
		scratch.Resize(local.Width, local.Height, local.Components)
	}

	n := local.Pixels()
	for _, lv := range schedule(t.c.LocalRank(), t.c.Size(), t.opts.Root) {
		if !lv.recv {
			t.log.Debug("tree send", "step", lv.step, "to", lv.partner, "failed", failed != nil)
			if err := t.send(ctx, local, lv.partner, failed != nil); err != nil {
				return err
			}
			break
		}

		t.log.Debug("tree receive", "step", lv.step, "from", lv.partner)
		depth, _, err := t.c.Receive(ctx, lv.partner, DepthTag)
		if err != nil {
			return fmt.Errorf("composite: depth from %d: %w", lv.partner, err)
		}
		color, _, err := t.c.Receive(ctx, lv.partner, ColorTag)
		if err != nil {
			return fmt.Errorf("composite: color from %d: %w", lv.partner, err)
		}
		if failed != nil {
			continue
		}
		if len(depth) != 4*n || len(color) != len(local.Pix) {
			failed = fmt.Errorf("%w: %d depth and %d color bytes from %d",
				ErrShape, len(depth), len(color), lv.partner)
			continue
		}
		xdr.DecodeFloat32s(scratch.Depth, depth)
		copy(scratch.Pix, color)
		MergePixels(local, scratch)
	}

	if t.opts.BroadcastResult {
		if err := broadcastResult(ctx, t.c, t.opts.Root, local); err != nil && failed == nil {
			failed = err
		}
	}
	return failed
}

// send forwards local to dst. An empty buffer marks a failed subtree.
func (t *Tree) send(ctx context.Context, local *frame.Pair, dst int, failed bool) error {
	var depth, color []byte
	if !failed {
		n := local.Pixels()
		buf := frame.GetBuffer(4 * n)
		defer frame.PutBuffer(buf)
		depth = buf[:4*n]
		xdr.EncodeFloat32s(depth, local.Depth)
		color = local.Pix
	}

	if err := t.c.Send(ctx, depth, dst, DepthTag); err != nil {
		return fmt.Errorf("composite: depth to %d: %w", dst, err)
	}
	if err := t.c.Send(ctx, color, dst, ColorTag); err != nil {
		return fmt.Errorf("composite: color to %d: %w", dst, err)
	}
	return nil
}

// MergePixels keeps, for every pixel, the sample of local or remote with
// the smaller depth. Ties keep local. Both pairs must have the same shape.
func MergePixels(local, remote *frame.Pair) {
	comps := local.Components
	ld, rd := local.Depth, remote.Depth
	lp, rp := local.Pix, remote.Pix

	parallel.ForRange(len(ld), func(start, end int) {
		switch comps {
		case 4:
			for i := start; i < end; i++ {
				if rd[i] < ld[i] {
					ld[i] = rd[i]
					*(*[4]byte)(lp[4*i:]) = *(*[4]byte)(rp[4*i:])
				}
			}
		default:
			for i := start; i < end; i++ {
				if rd[i] < ld[i] {
					ld[i] = rd[i]
					o := 3 * i
					lp[o], lp[o+1], lp[o+2] = rp[o], rp[o+1], rp[o+2]
				}
			}
		}
	})
}
