// Package push serves the WebSocket transport: one Conn per upgraded socket,
// registered with the hub as a push subscriber.
package push

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/jsherman999/roomrelay/internal/hub"
	"github.com/jsherman999/roomrelay/internal/logging"
	"github.com/jsherman999/roomrelay/internal/message"
)

const (
	writeDeadline     = 5 * time.Second
	maxMessageSize    = 64 << 10
	DefaultBufferSize = 16
	DefaultDeadAfter  = 2
	errorBufferSize   = 4
)

// Hub is the part of the broadcast hub a push connection talks to.
type Hub interface {
	RegisterPush(identity string, sink hub.PushSink)
	UnregisterPush(identity string, sink hub.PushSink)
	Publish(msg message.Message, origin string)
}

type Options struct {
	// PingInterval is how often the connection sends a protocol ping and
	// checks its pong deadline.
	PingInterval time.Duration
	// DeadMultiple × PingInterval without a pong terminates the connection.
	DeadMultiple int
	BufferSize   int
	Clock        clockwork.Clock
	Logger       zerolog.Logger
}

// Conn is one live WebSocket subscriber. The hub writes into its outbox; a
// single writer goroutine owns every data frame written to the socket.
type Conn struct {
	conn      *websocket.Conn
	identity  string
	hub       Hub
	outbox    *hub.Outbox[message.Message]
	errorsCh  chan []byte
	clock     clockwork.Clock
	log       zerolog.Logger
	interval  time.Duration
	deadAfter time.Duration

	activityMu sync.Mutex
	lastPong   time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConn(ws *websocket.Conn, identity string, h Hub, opts Options) *Conn {
	if opts.PingInterval <= 0 {
		opts.PingInterval = hub.DefaultPingInterval
	}
	if opts.DeadMultiple <= 0 {
		opts.DeadMultiple = DefaultDeadAfter
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Conn{
		conn:      ws,
		identity:  identity,
		hub:       h,
		outbox:    hub.NewOutbox[message.Message](opts.BufferSize),
		errorsCh:  make(chan []byte, errorBufferSize),
		clock:     opts.Clock,
		log:       logging.WithIdentity(logging.WithTransport(opts.Logger, hub.TransportPush), identity),
		interval:  opts.PingInterval,
		deadAfter: time.Duration(opts.DeadMultiple) * opts.PingInterval,
		lastPong:  opts.Clock.Now(),
		done:      make(chan struct{}),
	}
}

// Serve registers ws with the hub under identity and blocks until the
// connection ends, then deregisters it.
func Serve(ws *websocket.Conn, identity string, h Hub, opts Options) {
	c := newConn(ws, identity, h, opts)
	c.hub.RegisterPush(c.identity, c.outbox)
	c.log.Debug().Msg("push connection opened")

	c.wg.Add(1)
	go c.writeLoop()

	c.readLoop()

	c.shutdown()
	c.wg.Wait()
	c.hub.UnregisterPush(c.identity, c.outbox)
	c.log.Debug().Msg("push connection closed")
}

func (c *Conn) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.recordActivity()
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		c.recordActivity()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeDeadline))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("push read failed")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, err := message.Parse(data)
		if err != nil {
			c.replyError(err)
			continue
		}
		c.hub.Publish(msg, c.identity)
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbox.C():
			b, err := json.Marshal(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to marshal push message")
				continue
			}
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		case b := <-c.errorsCh:
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.Chan():
			if c.expired() {
				logging.Dur(c.log.Info(), "dead_after", c.deadAfter).Msg("push connection missed pong deadline")
				return
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.outbox.Done():
			// Pruned or replaced by the hub.
			return
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(typ int, b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(typ, b)
}

// replyError queues an error frame for the client. Dropped if the client is
// not keeping up.
func (c *Conn) replyError(err error) {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	select {
	case c.errorsCh <- b:
	default:
	}
}

func (c *Conn) recordActivity() {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	c.lastPong = c.clock.Now()
}

// expired reports whether no liveness signal arrived within the deadline.
func (c *Conn) expired() bool {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.clock.Since(c.lastPong) >= c.deadAfter
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.outbox.Close()
		_ = c.conn.Close()
	})
}
