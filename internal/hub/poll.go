package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/jsherman999/roomrelay/internal/message"
)

const DefaultPollTimeout = 30 * time.Second

// PollResult is the terminal state of one poll waiter: either a delivered
// message or TimedOut.
type PollResult struct {
	Message  message.Message
	Raw      []byte
	TimedOut bool
}

type pollWaiter struct {
	id       uuid.UUID
	identity string
	slot     chan PollResult
}

func newPollWaiter(identity string) *pollWaiter {
	return &pollWaiter{
		id:       uuid.New(),
		identity: identity,
		slot:     make(chan PollResult, 1),
	}
}

// complete is only called by the actor, at most once per waiter.
func (w *pollWaiter) complete(r PollResult) {
	select {
	case w.slot <- r:
	default:
	}
}

// RegisterPollWaiter blocks until a message from another identity arrives or
// timeout elapses. The wait ends only on delivery, timeout or hub shutdown.
func (h *Hub) RegisterPollWaiter(identity string, timeout time.Duration) PollResult {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	w := newPollWaiter(identity)
	if !h.send(registerPollCmd{waiter: w}) {
		return PollResult{TimedOut: true}
	}

	timer := h.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.slot:
		return r
	case <-timer.Chan():
		return h.expire(w)
	case <-h.done:
		return w.drain()
	}
}

// expire asks the actor to retire w. If the actor had already completed it,
// the delivery wins and sits in the slot.
func (h *Hub) expire(w *pollWaiter) PollResult {
	reply := make(chan bool, 1)
	if h.send(expirePollCmd{waiter: w, reply: reply}) {
		select {
		case <-reply:
		case <-h.done:
		}
	}
	return w.drain()
}

func (w *pollWaiter) drain() PollResult {
	select {
	case r := <-w.slot:
		return r
	default:
		return PollResult{TimedOut: true}
	}
}

// handleExpirePoll removes w if it is still pending and reports whether it did.
func (h *Hub) handleExpirePoll(w *pollWaiter) bool {
	for i, cur := range h.poll {
		if cur.id != w.id {
			continue
		}
		h.poll = append(h.poll[:i], h.poll[i+1:]...)
		h.metrics.PollOutcomes.WithLabelValues("timed_out").Inc()
		h.observeSizes()
		h.log.Debug().Str("identity", w.identity).Str("waiter", w.id.String()).Msg("poll waiter timed out")
		return true
	}
	return false
}
