package hub

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jsherman999/roomrelay/internal/message"
	"github.com/jsherman999/roomrelay/internal/metrics"
)

const (
	DefaultPingInterval  = 15 * time.Second
	DefaultCommandBuffer = 256
	stopTimeout          = 10 * time.Second
)

// Transport names, used for metric labels and the roster.
const (
	TransportPush   = "push"
	TransportStream = "stream"
	TransportPoll   = "poll"
)

var ErrStopped = errors.New("hub stopped")

// --- Commands ---

type command interface{ isCommand() }

type baseCmd struct{}

func (baseCmd) isCommand() {}

type registerPushCmd struct {
	baseCmd
	identity string
	sink     PushSink
}

type unregisterPushCmd struct {
	baseCmd
	identity string
	sink     PushSink
}

type registerStreamCmd struct {
	baseCmd
	identity string
	sink     StreamSink
}

type unregisterStreamCmd struct {
	baseCmd
	identity string
	sink     StreamSink
}

type registerPollCmd struct {
	baseCmd
	waiter *pollWaiter
}

type expirePollCmd struct {
	baseCmd
	waiter *pollWaiter
	reply  chan bool
}

type publishCmd struct {
	baseCmd
	msg    message.Message
	origin string
}

type countsCmd struct {
	baseCmd
	reply chan Counts
}

type rosterCmd struct {
	baseCmd
	reply chan []Member
}

type sweepCmd struct{ baseCmd }

type stopCmd struct{ baseCmd }

// Counts is a diagnostic snapshot of registry sizes.
type Counts struct {
	Push   int
	Stream int
	Poll   int
}

// Member is one registered subscriber in a roster snapshot.
type Member struct {
	Identity  string
	Transport string
}

// Options configures a Hub. Zero values select defaults.
type Options struct {
	Room          string
	PingInterval  time.Duration
	CommandBuffer int
	Clock         clockwork.Clock
	Metrics       *metrics.HubMetrics
	Logger        zerolog.Logger
}

// Hub owns the three subscriber registries. A single goroutine processes
// every registration, publish and sweep, so registry state needs no locks.
type Hub struct {
	cmdCh        chan command
	done         chan struct{}
	clock        clockwork.Clock
	metrics      *metrics.HubMetrics
	log          zerolog.Logger
	room         string
	pingInterval time.Duration

	push   map[string]PushSink
	stream map[string]StreamSink
	poll   []*pollWaiter
}

// New starts a hub. Call Stop to release it.
func New(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = DefaultCommandBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewHubMetrics(prometheus.NewRegistry())
	}

	h := &Hub{
		cmdCh:        make(chan command, opts.CommandBuffer),
		done:         make(chan struct{}),
		clock:        opts.Clock,
		metrics:      opts.Metrics,
		log:          opts.Logger.With().Str("component", "hub").Logger(),
		room:         opts.Room,
		pingInterval: opts.PingInterval,
		push:         make(map[string]PushSink),
		stream:       make(map[string]StreamSink),
	}
	go h.run()
	return h
}

// PingInterval is the sweep period. Push connections derive their pong
// deadline from it.
func (h *Hub) PingInterval() time.Duration { return h.pingInterval }

// Room is the room id stamped on heartbeats.
func (h *Hub) Room() string { return h.room }

// RegisterPush inserts or replaces the push subscriber for identity.
func (h *Hub) RegisterPush(identity string, sink PushSink) {
	h.send(registerPushCmd{identity: identity, sink: sink})
}

// UnregisterPush removes identity if it is still registered with sink.
func (h *Hub) UnregisterPush(identity string, sink PushSink) {
	h.send(unregisterPushCmd{identity: identity, sink: sink})
}

// RegisterStream inserts or replaces the stream subscriber for identity.
func (h *Hub) RegisterStream(identity string, sink StreamSink) {
	h.send(registerStreamCmd{identity: identity, sink: sink})
}

// UnregisterStream removes identity if it is still registered with sink.
func (h *Hub) UnregisterStream(identity string, sink StreamSink) {
	h.send(unregisterStreamCmd{identity: identity, sink: sink})
}

// Publish hands msg to the dispatcher and returns without waiting for
// delivery. Subscribers registered under origin are skipped.
func (h *Hub) Publish(msg message.Message, origin string) {
	h.send(publishCmd{msg: msg, origin: origin})
}

// Counts returns registry sizes. A stopped hub reports zeros.
func (h *Hub) Counts() Counts {
	reply := make(chan Counts, 1)
	if !h.send(countsCmd{reply: reply}) {
		return Counts{}
	}
	select {
	case c := <-reply:
		return c
	case <-h.done:
		return Counts{}
	}
}

// Roster returns every registered subscriber, sorted by transport then identity.
func (h *Hub) Roster() []Member {
	reply := make(chan []Member, 1)
	if !h.send(rosterCmd{reply: reply}) {
		return nil
	}
	select {
	case m := <-reply:
		return m
	case <-h.done:
		return nil
	}
}

// Stop shuts the actor down. Pending poll waiters are released as timed out.
func (h *Hub) Stop() error {
	if !h.send(stopCmd{}) {
		return ErrStopped
	}
	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("hub stop timed out after %v", stopTimeout)
	}
}

func (h *Hub) send(c command) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCh <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := h.clock.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			if _, ok := cmd.(stopCmd); ok {
				h.handleStop()
				return
			}
			h.dispatch(cmd)
		case <-ticker.Chan():
			h.guard(h.handleSweep)
		}
	}
}

func (h *Hub) dispatch(cmd command) {
	h.guard(func() {
		switch c := cmd.(type) {
		case registerPushCmd:
			h.handleRegisterPush(c)
		case unregisterPushCmd:
			h.handleUnregisterPush(c)
		case registerStreamCmd:
			h.handleRegisterStream(c)
		case unregisterStreamCmd:
			h.handleUnregisterStream(c)
		case registerPollCmd:
			h.poll = append(h.poll, c.waiter)
			h.observeSizes()
		case expirePollCmd:
			c.reply <- h.handleExpirePoll(c.waiter)
		case publishCmd:
			h.handlePublish(c)
		case countsCmd:
			c.reply <- Counts{Push: len(h.push), Stream: len(h.stream), Poll: len(h.poll)}
		case rosterCmd:
			c.reply <- h.roster()
		case sweepCmd:
			h.handleSweep()
		default:
			h.log.Warn().Str("command_type", fmt.Sprintf("%T", cmd)).Msg("unknown hub command")
		}
	})
}

// guard keeps a panicking handler from taking the actor down.
func (h *Hub) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.Panics.Inc()
			h.log.Error().Interface("panic", r).Msg("hub handler panic recovered")
		}
	}()
	fn()
}

func (h *Hub) roster() []Member {
	members := make([]Member, 0, len(h.push)+len(h.stream)+len(h.poll))
	for id := range h.push {
		members = append(members, Member{Identity: id, Transport: TransportPush})
	}
	for id := range h.stream {
		members = append(members, Member{Identity: id, Transport: TransportStream})
	}
	seen := make(map[string]bool, len(h.poll))
	for _, w := range h.poll {
		if seen[w.identity] {
			continue
		}
		seen[w.identity] = true
		members = append(members, Member{Identity: w.identity, Transport: TransportPoll})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Transport != members[j].Transport {
			return members[i].Transport < members[j].Transport
		}
		return members[i].Identity < members[j].Identity
	})
	return members
}

func (h *Hub) handleStop() {
	h.log.Info().
		Int("push", len(h.push)).
		Int("stream", len(h.stream)).
		Int("poll", len(h.poll)).
		Msg("hub shutting down")

	for id, sink := range h.push {
		closeSink(sink)
		delete(h.push, id)
	}
	for id, sink := range h.stream {
		closeSink(sink)
		delete(h.stream, id)
	}
	// Waiters observe done and return TimedOut.
	h.poll = nil
	h.observeSizes()
}

func (h *Hub) observeSizes() {
	h.metrics.Subscribers.WithLabelValues(TransportPush).Set(float64(len(h.push)))
	h.metrics.Subscribers.WithLabelValues(TransportStream).Set(float64(len(h.stream)))
	h.metrics.Subscribers.WithLabelValues(TransportPoll).Set(float64(len(h.poll)))
}

// closeSink closes sinks that can be closed, so a superseded or evicted
// connection notices and tears itself down.
func closeSink(sink any) {
	if c, ok := sink.(interface{ Close() }); ok {
		c.Close()
	}
}

func pruneReason(err error) string {
	switch {
	case errors.Is(err, ErrFull):
		return "full"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
