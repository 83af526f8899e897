package comm

import (
	"context"
	"log/slog"

	"github.com/mrjoshuak/go-sortlast/internal/logging"
)

// localTransport connects endpoints living in one process.
type localTransport struct {
	peers []*Endpoint
}

func (t *localTransport) Size() int { return len(t.peers) }

func (t *localTransport) Deliver(_ context.Context, dst int, msg Message) error {
	msg.Data = append([]byte(nil), msg.Data...)
	return t.peers[dst].Post(msg)
}

// Close is a no-op; each endpoint closes only its own mailbox.
func (t *localTransport) Close() error { return nil }

// NewLocalGroup creates n connected in-process endpoints, one per rank.
// Each is meant to be driven by its own goroutine. Closing an endpoint
// makes sends to it fail with ErrClosed.
func NewLocalGroup(n int, logger *slog.Logger) []*Endpoint {
	logger = logging.OrNop(logger)
	t := &localTransport{peers: make([]*Endpoint, n)}
	for i := range t.peers {
		t.peers[i] = NewEndpoint(i, t, logger.With("rank", i))
	}
	return append([]*Endpoint(nil), t.peers...)
}
