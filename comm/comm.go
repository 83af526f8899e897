// Package comm is the message channel connecting cooperating render
// processes. Each process holds a Controller with a stable rank in [0, Size).
//
// Point-to-point messages are ordered per (source, tag): two messages sent
// from the same rank with the same tag are received in send order. Every
// receive blocks until a matching message arrives, the channel fails or
// the context is cancelled. There are no timeouts; a peer that never sends
// hangs its receivers until their context ends.
//
// Remote method invocation (RMI) lets one rank run a registered callback on
// another: TriggerRMI queues the request, and the callback runs inside the
// target's ProcessRMIs loop, which returns when a break RMI arrives.
package comm

import (
	"context"
	"errors"
)

// AnySource matches messages from every rank in Receive.
const AnySource = -1

// BreakRMITag stops a ProcessRMIs loop.
const BreakRMITag = 3

// Internal tags are negative so they never collide with caller tags.
const (
	rmiTag            = -1
	broadcastTag      = -2
	barrierTag        = -3
	barrierReleaseTag = -4
)

// Channel errors
var (
	ErrClosed      = errors.New("comm: channel closed")
	ErrInvalidRank = errors.New("comm: rank out of range")
	ErrInvalidTag  = errors.New("comm: tags must be non-negative")
	ErrShortRMI    = errors.New("comm: malformed RMI message")
)

// RMIFunc is a remote method callback. arg is the payload given to
// TriggerRMI and remote is the rank that triggered it.
type RMIFunc func(ctx context.Context, arg []byte, remote int) error

// RMIID identifies a registered callback.
type RMIID int

// Controller is the message channel seen by one rank.
type Controller interface {
	LocalRank() int
	Size() int

	// Send delivers a copy of data to rank dst under tag.
	Send(ctx context.Context, data []byte, dst, tag int) error
	// Receive returns the next message with the given tag from src, or
	// from any rank when src is AnySource, together with its sender.
	Receive(ctx context.Context, src, tag int) (data []byte, from int, err error)
	// Broadcast returns root's data on every rank. It is collective.
	Broadcast(ctx context.Context, data []byte, root int) ([]byte, error)
	// Barrier returns once every rank has entered it.
	Barrier(ctx context.Context) error

	AddRMI(tag int, fn RMIFunc) RMIID
	RemoveRMI(id RMIID) bool
	TriggerRMI(ctx context.Context, dst, tag int, arg []byte) error
	// TriggerRMIOnAllChildren triggers tag on every rank except the caller.
	TriggerRMIOnAllChildren(ctx context.Context, tag int, arg []byte) error
	// ProcessRMIs runs triggered callbacks until a break RMI arrives.
	ProcessRMIs(ctx context.Context) error
	// TriggerBreakRMIs stops ProcessRMIs on every other rank.
	TriggerBreakRMIs(ctx context.Context) error

	Close() error
}

// Message is one delivered point-to-point message.
type Message struct {
	Source int
	Tag    int
	Data   []byte
}

// Transport moves messages between the endpoints of a group.
// Deliver must not retain msg.Data after it returns.
type Transport interface {
	Size() int
	Deliver(ctx context.Context, dst int, msg Message) error
	Close() error
}
