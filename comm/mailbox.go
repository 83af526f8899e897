package comm

import (
	"context"
	"sync"
)

// mailbox holds delivered messages in arrival order. Waiters block on a
// signal channel that is closed and replaced on every delivery.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	signal chan struct{}
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{})}
}

func (m *mailbox) put(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.queue = append(m.queue, msg)
	close(m.signal)
	m.signal = make(chan struct{})
	return nil
}

// fail releases every waiter with err. Queued messages stay receivable.
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	close(m.signal)
	m.signal = make(chan struct{})
}

func (m *mailbox) take(ctx context.Context, src, tag int) (Message, error) {
	for {
		m.mu.Lock()
		for i, msg := range m.queue {
			if msg.Tag == tag && (src == AnySource || msg.Source == src) {
				copy(m.queue[i:], m.queue[i+1:])
				m.queue[len(m.queue)-1] = Message{}
				m.queue = m.queue[:len(m.queue)-1]
				m.mu.Unlock()
				return msg, nil
			}
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return Message{}, err
		}
		ch := m.signal
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
