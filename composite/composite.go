// Package composite merges the partial images rendered by every rank into
// one image, keeping the nearest sample of each pixel.
//
// Both algorithms reduce over a binary tree of virtual ranks
// v = (rank - root) mod P. At level i (step s = 2^i) only ranks with
// v mod s == 0 take part: those with v mod 2s == 0 receive from v+s and
// merge, the others send to v-s and leave the reduction. A partner at or
// beyond P is skipped. After ceil(log2 P) levels the root holds the full
// composite; other ranks hold partial results unless BroadcastResult is set.
//
// Depth ties keep the receiver's sample, so the winner of a tie is always
// the rank with the lowest virtual rank, and the result is deterministic.
package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// Message tags used by the reduction.
const (
	DepthTag = 99
	ColorTag = 100
	RunsTag  = 101
)

// Compositing errors
var (
	ErrShape = errors.New("composite: partner buffer does not match local buffer")
)

// Compositer merges local with every other rank's buffer. scratch is
// working storage of the same shape; its contents are unspecified after
// the call. The call is collective: every rank of the controller must
// enter it for the same frame.
type Compositer interface {
	CompositeBuffer(ctx context.Context, local, scratch *frame.Pair) error
}

// Options configures both algorithms.
type Options struct {
	// Root is the rank that ends up with the full composite.
	Root int
	// BroadcastResult sends the root's composite to every rank afterwards.
	BroadcastResult bool
	// Deflate zlib-compresses the run stream of the compressed algorithm.
	Deflate bool
	// Logger receives per-level debug output. Nil discards it.
	Logger *slog.Logger
}

// Kind selects a compositing algorithm.
type Kind int

// Compositing algorithms
const (
	KindTree Kind = iota
	KindCompressed
)

func (k Kind) String() string {
	switch k {
	case KindTree:
		return "tree"
	case KindCompressed:
		return "compressed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses "tree" or "compressed".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "tree", "":
		return KindTree, nil
	case "compressed", "compress":
		return KindCompressed, nil
	}
	return KindTree, fmt.Errorf("composite: unknown compositer %q", s)
}

// New returns the compositer of the given kind.
func New(kind Kind, c comm.Controller, opts Options) Compositer {
	if kind == KindCompressed {
		return NewCompressed(c, opts)
	}
	return NewTree(c, opts)
}

// level is one step of the reduction as seen by one rank.
type level struct {
	step    int
	partner int // real rank
	recv    bool
}

// schedule lists the exchanges rank takes part in, in order. It stops at
// the level where the rank sends, since a sender leaves the reduction.
func schedule(rank, size, root int) []level {
	v := (rank - root + size) % size
	var out []level
	for step := 1; step < size; step <<= 1 {
		if v%(2*step) == 0 {
			if pv := v + step; pv < size {
				out = append(out, level{step: step, partner: (pv + root) % size, recv: true})
			}
			continue
		}
		out = append(out, level{step: step, partner: (v - step + root) % size})
		break
	}
	return out
}

// broadcastResult replaces every rank's local pair with root's.
func broadcastResult(ctx context.Context, c comm.Controller, root int, local *frame.Pair) error {
	n := local.Pixels()
	var data []byte
	if c.LocalRank() == root {
		data = frame.GetBuffer(4*n + len(local.Pix))
		defer frame.PutBuffer(data)
		data = data[:4*n]
		xdr.EncodeFloat32s(data, local.Depth)
		data = append(data, local.Pix...)
	}
	got, err := c.Broadcast(ctx, data, root)
	if err != nil {
		return fmt.Errorf("composite: result broadcast: %w", err)
	}
	if c.LocalRank() == root {
		return nil
	}
	if len(got) != 4*n+len(local.Pix) {
		return fmt.Errorf("%w: result of %d bytes", ErrShape, len(got))
	}
	xdr.DecodeFloat32s(local.Depth, got[:4*n])
	copy(local.Pix, got[4*n:])
	return nil
}
