package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/roomrelay/internal/message"
	"github.com/jsherman999/roomrelay/internal/metrics"
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.PingInterval == 0 {
		opts.PingInterval = time.Hour
	}
	if opts.Room == "" {
		opts.Room = "room_test"
	}
	opts.Logger = zerolog.Nop()
	h := New(opts)
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func testMessage(sender, command string) message.Message {
	return message.Message{
		RoomID:  "room_test",
		Sender:  message.Sender{ID: sender, Type: message.RoleStudent},
		Command: command,
	}
}

// countingSink records every delivery attempt and can be told to fail.
type countingSink struct {
	mu       sync.Mutex
	attempts int
	fail     error
}

func (s *countingSink) TrySend(message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.fail
}

func (s *countingSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func recv[T any](t *testing.T, o *Outbox[T]) T {
	t.Helper()
	select {
	case v := <-o.C():
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func assertEmpty[T any](t *testing.T, o *Outbox[T]) {
	t.Helper()
	select {
	case v := <-o.C():
		t.Fatalf("unexpected delivery: %v", v)
	default:
	}
}

// flush waits until every command queued so far has been processed.
func flush(h *Hub) Counts { return h.Counts() }

func TestHub_PublishSkipsOriginPush(t *testing.T) {
	h := newTestHub(t, Options{})
	a := NewOutbox[message.Message](4)
	b := NewOutbox[message.Message](4)
	h.RegisterPush("A", a)
	h.RegisterPush("B", b)

	h.Publish(testMessage("A", "X"), "A")
	flush(h)

	got := recv(t, b)
	assert.Equal(t, "X", got.Command)
	assert.Equal(t, "A", got.Sender.ID)
	assertEmpty(t, a)
	assert.Equal(t, 2, h.Counts().Push, "origin stays registered")
}

func TestHub_PublishSkipsOriginStream(t *testing.T) {
	h := newTestHub(t, Options{})
	a := NewOutbox[[]byte](4)
	b := NewOutbox[[]byte](4)
	h.RegisterStream("A", a)
	h.RegisterStream("B", b)

	h.Publish(testMessage("A", "X"), "A")
	flush(h)

	raw := recv(t, b)
	var got message.Message
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "X", got.Command)
	assertEmpty(t, a)
}

func TestHub_OriginMayDifferFromSender(t *testing.T) {
	h := newTestHub(t, Options{})
	a := NewOutbox[message.Message](4)
	h.RegisterPush("A", a)

	// Only the origin identity drives self-exclusion.
	h.Publish(testMessage("A", "X"), "conn-2")
	flush(h)
	assert.Equal(t, "X", recv(t, a).Command)
}

func TestHub_PrunesClosedSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHubMetrics(reg)
	h := newTestHub(t, Options{Metrics: m})

	live := &countingSink{}
	dead := &countingSink{fail: ErrClosed}
	h.RegisterPush("live", live)
	h.RegisterPush("dead", dead)
	require.Equal(t, 2, h.Counts().Push)

	h.Publish(testMessage("other", "X"), "other")
	assert.Equal(t, 1, h.Counts().Push)

	h.Publish(testMessage("other", "Y"), "other")
	flush(h)
	assert.Equal(t, 1, dead.Attempts(), "pruned subscriber is never attempted again")
	assert.Equal(t, 2, live.Attempts())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pruned.WithLabelValues(TransportPush, "closed")))
}

func TestHub_PrunesFullSink(t *testing.T) {
	h := newTestHub(t, Options{})
	slow := NewOutbox[[]byte](1)
	h.RegisterStream("slow", slow)

	h.Publish(testMessage("x", "1"), "x")
	h.Publish(testMessage("x", "2"), "x")
	assert.Equal(t, 0, h.Counts().Stream)

	select {
	case <-slow.Done():
	default:
		t.Fatal("pruned outbox should be closed")
	}
}

func TestHub_FailureDoesNotAbortOthers(t *testing.T) {
	h := newTestHub(t, Options{})
	dead := &countingSink{fail: ErrClosed}
	live := NewOutbox[message.Message](4)
	stream := NewOutbox[[]byte](4)
	h.RegisterPush("dead", dead)
	h.RegisterPush("live", live)
	h.RegisterStream("live", stream)

	h.Publish(testMessage("x", "X"), "x")
	flush(h)

	assert.Equal(t, "X", recv(t, live).Command)
	assert.NotEmpty(t, recv(t, stream))
}

func TestHub_RegisterReplaces(t *testing.T) {
	h := newTestHub(t, Options{})
	first := NewOutbox[message.Message](4)
	second := NewOutbox[message.Message](4)
	h.RegisterPush("A", first)
	h.RegisterPush("A", second)
	assert.Equal(t, 1, h.Counts().Push)

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced sink should be closed")
	}

	h.Publish(testMessage("B", "X"), "B")
	flush(h)
	assert.Equal(t, "X", recv(t, second).Command)
}

func TestHub_UnregisterIgnoresStaleSink(t *testing.T) {
	h := newTestHub(t, Options{})
	first := NewOutbox[[]byte](4)
	second := NewOutbox[[]byte](4)
	h.RegisterStream("A", first)
	h.RegisterStream("A", second)

	h.UnregisterStream("A", first)
	assert.Equal(t, 1, h.Counts().Stream)

	h.UnregisterStream("A", second)
	assert.Equal(t, 0, h.Counts().Stream)
}

func TestHub_ExactlyOneAttemptPerSubscriber(t *testing.T) {
	h := newTestHub(t, Options{})
	const publishers, perPublisher = 8, 25

	sinks := make(map[string]*countingSink)
	for _, id := range []string{"s1", "s2", "s3"} {
		sinks[id] = &countingSink{}
		h.RegisterPush(id, sinks[id])
	}
	flush(h)

	var wg sync.WaitGroup
	for range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPublisher {
				h.Publish(testMessage("p", "X"), "p")
			}
		}()
	}
	wg.Wait()
	flush(h)

	for id, s := range sinks {
		assert.Equal(t, publishers*perPublisher, s.Attempts(), id)
	}
}

func TestHub_Roster(t *testing.T) {
	h := newTestHub(t, Options{})
	h.RegisterPush("b", NewOutbox[message.Message](1))
	h.RegisterPush("a", NewOutbox[message.Message](1))
	h.RegisterStream("c", NewOutbox[[]byte](1))

	assert.Equal(t, []Member{
		{Identity: "a", Transport: TransportPush},
		{Identity: "b", Transport: TransportPush},
		{Identity: "c", Transport: TransportStream},
	}, h.Roster())
}

func TestHub_SweepProbesAndPrunes(t *testing.T) {
	h := newTestHub(t, Options{Room: "room_568491"})
	push := NewOutbox[message.Message](4)
	stream := NewOutbox[[]byte](4)
	deadPush := &countingSink{fail: ErrClosed}
	deadStream := NewOutbox[[]byte](4)
	deadStream.Close()

	h.RegisterPush("A", push)
	h.RegisterPush("dead", deadPush)
	h.RegisterStream("A", stream)
	h.RegisterStream("dead", deadStream)
	require.Equal(t, Counts{Push: 2, Stream: 2}, h.Counts())

	h.Sweep()
	assert.Equal(t, Counts{Push: 1, Stream: 1}, h.Counts())

	hb := recv(t, push)
	assert.True(t, hb.IsHeartbeat())
	assert.Equal(t, "room_568491", hb.RoomID)
	assert.Nil(t, hb.Payload)
	assert.Empty(t, recv(t, stream), "stream probe is empty")
}

func TestHub_HeartbeatReachesEverySubscriber(t *testing.T) {
	h := newTestHub(t, Options{})
	sinks := map[string]*Outbox[message.Message]{
		"A": NewOutbox[message.Message](2),
		"B": NewOutbox[message.Message](2),
	}
	for id, s := range sinks {
		h.RegisterPush(id, s)
	}

	h.Sweep()
	flush(h)

	for id, s := range sinks {
		hb := recv(t, s)
		assert.True(t, hb.IsHeartbeat(), id)
		assert.NotEqual(t, id, hb.Sender.ID)
	}
}

func TestHub_SweepRunsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(t, Options{Clock: clock, PingInterval: 15 * time.Second})

	dead := &countingSink{fail: ErrClosed}
	h.RegisterPush("dead", dead)
	require.Equal(t, 1, h.Counts().Push)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(15 * time.Second)
	assert.Eventually(t, func() bool { return h.Counts().Push == 0 }, time.Second, time.Millisecond)
}

func TestHub_StopClosesSinks(t *testing.T) {
	h := New(Options{Logger: zerolog.Nop(), PingInterval: time.Hour})
	push := NewOutbox[message.Message](1)
	h.RegisterPush("A", push)
	flush(h)

	require.NoError(t, h.Stop())
	select {
	case <-push.Done():
	default:
		t.Fatal("sink should be closed on stop")
	}
	assert.ErrorIs(t, h.Stop(), ErrStopped)
	assert.Equal(t, Counts{}, h.Counts())

	// Calls after stop must not block.
	h.Publish(testMessage("x", "X"), "x")
	h.RegisterPush("B", push)
}
