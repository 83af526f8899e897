package netcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/internal/xdr"
)

// envelopeHeader is the source rank and tag in front of every payload.
const envelopeHeader = 8

// msgStream is the part of grpc.ClientStream and grpc.ServerStream the
// transport uses.
type msgStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// transport carries one rank's messages over an Exchange stream.
type transport struct {
	stream msgStream
	ep     *comm.Endpoint
	log    *slog.Logger

	// mu serializes SendMsg and guards closed.
	mu      sync.Mutex
	closed  bool
	onClose func() error
	once    sync.Once
}

func (t *transport) Size() int { return 2 }

func (t *transport) Deliver(ctx context.Context, dst int, msg comm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := encodeEnvelope(msg)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return comm.ErrClosed
	}
	if err := t.stream.SendMsg(env); err != nil {
		return fmt.Errorf("netcomm: send to %d: %w", dst, streamError(err))
	}
	return nil
}

// shutdown stops further sends.
func (t *transport) shutdown() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *transport) Close() error {
	var err error
	t.once.Do(func() {
		t.shutdown()
		if t.onClose != nil {
			err = t.onClose()
		}
	})
	return err
}

// receive posts incoming envelopes to the endpoint until the stream ends.
func (t *transport) receive() {
	for {
		env := new(wrapperspb.BytesValue)
		if err := t.stream.RecvMsg(env); err != nil {
			err = streamError(err)
			t.log.Debug("exchange stream ended", "err", err)
			t.ep.Fail(err)
			return
		}
		msg, err := decodeEnvelope(env)
		if err != nil {
			t.log.Error("dropping connection", "err", err)
			t.ep.Fail(err)
			return
		}
		if err := t.ep.Post(msg); err != nil {
			return
		}
	}
}

func encodeEnvelope(msg comm.Message) *wrapperspb.BytesValue {
	w := xdr.NewBufferWriter(envelopeHeader + len(msg.Data))
	w.WriteInt(msg.Source)
	w.WriteInt(msg.Tag)
	w.WriteBytes(msg.Data)
	return wrapperspb.Bytes(w.Bytes())
}

func decodeEnvelope(env *wrapperspb.BytesValue) (comm.Message, error) {
	r := xdr.NewReader(env.GetValue())
	src, err := r.ReadInt()
	if err != nil {
		return comm.Message{}, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	tag, err := r.ReadInt()
	if err != nil {
		return comm.Message{}, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	if src != ServerRank && src != ClientRank {
		return comm.Message{}, fmt.Errorf("%w: source rank %d", ErrEnvelope, src)
	}
	data, _ := r.Next(r.Len())
	return comm.Message{Source: src, Tag: tag, Data: data}, nil
}

// streamError maps the end of a stream to comm.ErrClosed.
func streamError(err error) error {
	if errors.Is(err, io.EOF) {
		return comm.ErrClosed
	}
	switch status.Code(err) {
	case codes.Canceled, codes.Unavailable:
		return fmt.Errorf("%w: %v", comm.ErrClosed, err)
	}
	return err
}
