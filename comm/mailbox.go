package comm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrMailboxClosed is returned by Take once a Mailbox has been closed
var ErrMailboxClosed = errors.New("mailbox closed")

// Envelope is a message in flight between two ranks of one communicator
type Envelope struct {
	Context string // identifies the communicator the message belongs to
	Src     int    // rank of the sender within that communicator
	Tag     int
	Data    []byte
}

// Mailbox holds the messages delivered to one rank until they are received.
// Messages which match the same receive are returned in delivery order.
type Mailbox struct {
	lock    sync.Mutex
	pending []*Envelope
	arrived chan struct{}
	closed  bool
}

// NewMailbox creates an empty Mailbox
func NewMailbox() *Mailbox {
	return &Mailbox{arrived: make(chan struct{})}
}

// Deposit adds a message to the Mailbox and wakes any waiting receivers
func (m *Mailbox) Deposit(env *Envelope) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrMailboxClosed
	}
	m.pending = append(m.pending, env)
	close(m.arrived)
	m.arrived = make(chan struct{})
	return nil
}

// Take removes and returns the oldest message matching contextID, src and tag,
// blocking until one arrives. src may be AnySource.
func (m *Mailbox) Take(ctx context.Context, contextID string, src int, tag int) (*Envelope, error) {
	for {
		m.lock.Lock()
		for i, env := range m.pending {
			if env.Context == contextID && env.Tag == tag && (src < 0 || env.Src == src) {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				m.lock.Unlock()
				return env, nil
			}
		}
		if m.closed {
			m.lock.Unlock()
			return nil, ErrMailboxClosed
		}
		arrived := m.arrived
		m.lock.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-arrived:
		}
	}
}

// Len returns the number of messages which have not been received yet
func (m *Mailbox) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.pending)
}

// Close wakes all waiting receivers and rejects further deposits
func (m *Mailbox) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.closed {
		m.closed = true
		close(m.arrived)
	}
}
