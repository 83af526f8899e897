package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/compression"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// Compressed exchanges background-run encoded buffers. Runs of background
// pixels cost a few bytes instead of a depth and color sample each, which
// pays off for sparse scenes spread over many ranks. The result is
// bit-identical to Tree for depths in [0, frame.Far].
//
// The run buffers are reused across frames; a Compressed value must not be
// used by two composites at once.
type Compressed struct {
	c    comm.Controller
	opts Options
	log  *slog.Logger

	mine, theirs, merged compression.DepthRuns
}

// NewCompressed returns a compressed compositer over c.
func NewCompressed(c comm.Controller, opts Options) *Compressed {
	return &Compressed{c: c, opts: opts, log: logging.OrNop(opts.Logger)}
}

// CompositeBuffer runs the reduction on encoded buffers and decodes the
// result into local on the root. scratch is not used. Failures are handled
// as in Tree: the schedule runs to the end and an empty message marks a
// failed subtree.
func (cc *Compressed) CompositeBuffer(ctx context.Context, local, _ *frame.Pair) error {
	failed := local.Validate()
	if failed == nil {
		compression.CompressDepth(local, &cc.mine)
	}

	levels := schedule(cc.c.LocalRank(), cc.c.Size(), cc.opts.Root)
	for _, lv := range levels {
		if !lv.recv {
			cc.log.Debug("compressed send", "step", lv.step, "to", lv.partner,
				"runs", len(cc.mine.Runs), "literals", cc.mine.Literals(), "failed", failed != nil)
			if err := cc.send(ctx, lv.partner, failed != nil); err != nil {
				return err
			}
			break
		}

		data, _, err := cc.c.Receive(ctx, lv.partner, RunsTag)
		if err != nil {
			return fmt.Errorf("composite: runs from %d: %w", lv.partner, err)
		}
		if failed != nil {
			continue
		}
		if err := cc.decode(data, local); err != nil {
			failed = fmt.Errorf("%w: runs from %d: %v", ErrShape, lv.partner, err)
			continue
		}
		if err := compression.MergeDepth(&cc.mine, &cc.theirs, &cc.merged); err != nil {
			failed = fmt.Errorf("%w: %v", ErrShape, err)
			continue
		}
		cc.mine, cc.merged = cc.merged, cc.mine
		cc.log.Debug("compressed merge", "step", lv.step, "from", lv.partner,
			"runs", len(cc.mine.Runs), "literals", cc.mine.Literals())
	}

	if failed == nil && cc.c.LocalRank() == cc.opts.Root {
		failed = compression.UncompressDepth(&cc.mine, local)
	}
	if cc.opts.BroadcastResult {
		if err := broadcastResult(ctx, cc.c, cc.opts.Root, local); err != nil && failed == nil {
			failed = err
		}
	}
	return failed
}

// send forwards the local runs to dst. An empty message marks a failed
// subtree.
func (cc *Compressed) send(ctx context.Context, dst int, failed bool) error {
	if failed {
		if err := cc.c.Send(ctx, nil, dst, RunsTag); err != nil {
			return fmt.Errorf("composite: runs to %d: %w", dst, err)
		}
		return nil
	}

	buf := frame.GetBuffer(cc.mine.Size())
	defer frame.PutBuffer(buf)
	msg := cc.mine.AppendMarshal(buf)

	if cc.opts.Deflate {
		w := xdr.NewBufferWriter(4)
		w.WriteInt(len(msg))
		z, err := compression.AppendZlib(w.Bytes(), msg, compression.ZlibFast)
		if err != nil {
			return fmt.Errorf("composite: deflate: %w", err)
		}
		msg = z
	}
	if err := cc.c.Send(ctx, msg, dst, RunsTag); err != nil {
		return fmt.Errorf("composite: runs to %d: %w", dst, err)
	}
	return nil
}

// decode reads a partner's runs into cc.theirs. The inflated size must fit
// the largest encoding of local's pixels.
func (cc *Compressed) decode(data []byte, local *frame.Pair) error {
	if len(data) == 0 {
		return errors.New("partner subtree failed")
	}
	if !cc.opts.Deflate {
		return cc.theirs.Unmarshal(data)
	}
	r := xdr.NewReader(data)
	size, err := r.ReadInt()
	if err != nil {
		return err
	}
	if limit := compression.MaxDepthRunsSize(local.Pixels(), local.Components); size < 0 || size > limit {
		return fmt.Errorf("inflated size %d exceeds %d", size, limit)
	}
	raw, err := compression.ZlibDecompress(data[4:], size)
	if err != nil {
		return err
	}
	return cc.theirs.Unmarshal(raw)
}
