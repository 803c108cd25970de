package watcher

import (
	"context"
	"errors"
	"sync"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("change receiver is closed")

// Sender delivers Changes to a single consumer over a channel. Send may be
// called from any goroutine, including after Close.
type Sender struct {
	ch   chan Change
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewSender returns a Sender whose channel buffers up to buffer changes.
func NewSender(buffer int) *Sender {
	return &Sender{
		ch:   make(chan Change, buffer),
		done: make(chan struct{}),
	}
}

// Changes returns the receiving end. It is closed by Close.
func (s *Sender) Changes() <-chan Change {
	return s.ch
}

// Send delivers c, blocking while the buffer is full. It returns
// ErrSenderClosed once the consumer has gone away.
func (s *Sender) Send(ctx context.Context, c Change) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSenderClosed
	}

	select {
	case s.ch <- c:
		return nil
	case <-s.done:
		return ErrSenderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery and closes the channel. Blocked senders return
// ErrSenderClosed. Calling Close more than once is a no-op.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
