package hub

import (
	"errors"
	"sync"

	"github.com/jsherman999/roomrelay/internal/message"
)

var (
	// ErrClosed is returned by a sink whose consumer has gone away.
	ErrClosed = errors.New("sink closed")
	// ErrFull is returned by a sink whose buffer has no room. The hub
	// treats a full subscriber the same as a dead one.
	ErrFull = errors.New("sink full")
)

// PushSink delivers one message to a push subscriber. TrySend must not block.
// Implementations must be comparable (typically a pointer) so that
// UnregisterPush can tell a stale sink from its replacement.
type PushSink interface {
	TrySend(msg message.Message) error
}

// StreamSink delivers one serialized event to a stream subscriber. An empty
// event is a liveness probe. TrySend must not block.
type StreamSink interface {
	TrySend(event []byte) error
}

// Outbox is a bounded, non-blocking channel sink. The producer side is
// TrySend; the consumer drains C until Done is closed.
type Outbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	done   chan struct{}
	closed bool
}

func NewOutbox[T any](size int) *Outbox[T] {
	if size <= 0 {
		size = 1
	}
	return &Outbox[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

func (o *Outbox[T]) TrySend(v T) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

func (o *Outbox[T]) C() <-chan T { return o.ch }

// Done is closed once Close has been called.
func (o *Outbox[T]) Done() <-chan struct{} { return o.done }

// Close marks the outbox dead. Safe to call more than once.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}
