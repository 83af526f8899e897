package comm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

type rmiEntry struct {
	id  RMIID
	tag int
	fn  RMIFunc
}

// Endpoint is a Controller backed by a Transport. Incoming messages are
// handed to it by the transport through Post; outgoing messages to other
// ranks go through Transport.Deliver.
//
// An Endpoint is safe for concurrent use.
type Endpoint struct {
	rank      int
	transport Transport
	box       *mailbox
	log       *slog.Logger

	rmiMu  sync.Mutex
	rmis   []rmiEntry
	nextID RMIID

	closeOnce sync.Once
}

var _ Controller = (*Endpoint)(nil)

// NewEndpoint creates the endpoint for rank on t. A nil logger discards
// output.
func NewEndpoint(rank int, t Transport, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		rank:      rank,
		transport: t,
		box:       newMailbox(),
		log:       logging.OrNop(logger),
	}
}

// LocalRank returns this endpoint's rank.
func (e *Endpoint) LocalRank() int { return e.rank }

// Size returns the number of ranks in the group.
func (e *Endpoint) Size() int { return e.transport.Size() }

// Post queues an incoming message. Transports call it; it never blocks.
func (e *Endpoint) Post(msg Message) error {
	return e.box.put(msg)
}

// Fail releases every pending and future receive with err. Transports call
// it when the underlying connection is lost.
func (e *Endpoint) Fail(err error) {
	e.box.fail(err)
}

// Pending returns the number of queued, not yet received messages.
func (e *Endpoint) Pending() int {
	return e.box.pending()
}

func (e *Endpoint) checkRank(r int) error {
	if r < 0 || r >= e.Size() {
		return fmt.Errorf("%w: %d of %d", ErrInvalidRank, r, e.Size())
	}
	return nil
}

func (e *Endpoint) send(ctx context.Context, data []byte, dst, tag int) error {
	if err := e.checkRank(dst); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Source: e.rank, Tag: tag, Data: data}
	if dst == e.rank {
		msg.Data = append([]byte(nil), data...)
		return e.box.put(msg)
	}
	return e.transport.Deliver(ctx, dst, msg)
}

// Send delivers a copy of data to rank dst.
func (e *Endpoint) Send(ctx context.Context, data []byte, dst, tag int) error {
	if tag < 0 {
		return ErrInvalidTag
	}
	return e.send(ctx, data, dst, tag)
}

// Receive blocks for the next message with tag from src.
func (e *Endpoint) Receive(ctx context.Context, src, tag int) ([]byte, int, error) {
	if tag < 0 {
		return nil, 0, ErrInvalidTag
	}
	if src != AnySource {
		if err := e.checkRank(src); err != nil {
			return nil, 0, err
		}
	}
	msg, err := e.box.take(ctx, src, tag)
	return msg.Data, msg.Source, err
}

// Broadcast sends data from root to every rank.
func (e *Endpoint) Broadcast(ctx context.Context, data []byte, root int) ([]byte, error) {
	if err := e.checkRank(root); err != nil {
		return nil, err
	}
	if e.rank != root {
		msg, err := e.box.take(ctx, root, broadcastTag)
		return msg.Data, err
	}
	for r := 0; r < e.Size(); r++ {
		if r == root {
			continue
		}
		if err := e.send(ctx, data, r, broadcastTag); err != nil {
			return nil, fmt.Errorf("comm: broadcast to %d: %w", r, err)
		}
	}
	return data, nil
}

// Barrier gathers every rank at rank 0, then releases them.
func (e *Endpoint) Barrier(ctx context.Context) error {
	if e.rank != 0 {
		if err := e.send(ctx, nil, 0, barrierTag); err != nil {
			return err
		}
		_, err := e.box.take(ctx, 0, barrierReleaseTag)
		return err
	}
	for i := 1; i < e.Size(); i++ {
		if _, err := e.box.take(ctx, AnySource, barrierTag); err != nil {
			return err
		}
	}
	for r := 1; r < e.Size(); r++ {
		if err := e.send(ctx, nil, r, barrierReleaseTag); err != nil {
			return err
		}
	}
	return nil
}

// AddRMI registers fn for tag. Several callbacks may share a tag; they run
// in registration order.
func (e *Endpoint) AddRMI(tag int, fn RMIFunc) RMIID {
	e.rmiMu.Lock()
	defer e.rmiMu.Unlock()
	e.nextID++
	e.rmis = append(e.rmis, rmiEntry{id: e.nextID, tag: tag, fn: fn})
	return e.nextID
}

// RemoveRMI unregisters a callback and reports whether it was registered.
func (e *Endpoint) RemoveRMI(id RMIID) bool {
	e.rmiMu.Lock()
	defer e.rmiMu.Unlock()
	for i, r := range e.rmis {
		if r.id == id {
			e.rmis = append(e.rmis[:i], e.rmis[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Endpoint) handlers(tag int) []RMIFunc {
	e.rmiMu.Lock()
	defer e.rmiMu.Unlock()
	var fns []RMIFunc
	for _, r := range e.rmis {
		if r.tag == tag {
			fns = append(fns, r.fn)
		}
	}
	return fns
}

// TriggerRMI asks rank dst to run the callbacks registered for tag.
func (e *Endpoint) TriggerRMI(ctx context.Context, dst, tag int, arg []byte) error {
	if tag < 0 {
		return ErrInvalidTag
	}
	w := xdr.NewBufferWriter(4 + len(arg))
	w.WriteInt(tag)
	w.WriteBytes(arg)
	return e.send(ctx, w.Bytes(), dst, rmiTag)
}

// TriggerRMIOnAllChildren triggers tag on every other rank.
func (e *Endpoint) TriggerRMIOnAllChildren(ctx context.Context, tag int, arg []byte) error {
	for r := 0; r < e.Size(); r++ {
		if r == e.rank {
			continue
		}
		if err := e.TriggerRMI(ctx, r, tag, arg); err != nil {
			return fmt.Errorf("comm: trigger %d on %d: %w", tag, r, err)
		}
	}
	return nil
}

// TriggerBreakRMIs stops ProcessRMIs on every other rank.
func (e *Endpoint) TriggerBreakRMIs(ctx context.Context) error {
	return e.TriggerRMIOnAllChildren(ctx, BreakRMITag, nil)
}

// ProcessRMIs runs triggered callbacks until a break RMI arrives. A
// callback error stops the loop and is returned.
func (e *Endpoint) ProcessRMIs(ctx context.Context) error {
	for {
		msg, err := e.box.take(ctx, AnySource, rmiTag)
		if err != nil {
			return err
		}
		r := xdr.NewReader(msg.Data)
		tag, err := r.ReadInt()
		if err != nil {
			return ErrShortRMI
		}
		if tag == BreakRMITag {
			return nil
		}
		arg, _ := r.Next(r.Len())

		fns := e.handlers(tag)
		if len(fns) == 0 {
			e.log.Warn("no RMI callback registered", "tag", tag, "remote", msg.Source)
			continue
		}
		for _, fn := range fns {
			if err := fn(ctx, arg, msg.Source); err != nil {
				return fmt.Errorf("comm: RMI %d from %d: %w", tag, msg.Source, err)
			}
		}
	}
}

// Close fails pending receives and closes the transport.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.box.fail(ErrClosed)
		err = e.transport.Close()
	})
	return err
}
