package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spark-client/internal/apperr"
	"spark-client/internal/logger"
	"spark-client/internal/metrics"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 << 10            // Maximum frame size accepted from the backend.
	sendBuffer     = 64
)

var (
	ErrNotOpen     = errors.New("push: channel is not open")
	ErrSendFull    = errors.New("push: send buffer full")
	ErrClosedEarly = errors.New("push: channel closed while connecting")
)

// State is the lifecycle of one connection: CONNECTING → OPEN → (CLOSED | ERROR).
type State int32

const (
	Connecting State = iota
	Open
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Errored:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Handler receives decoded events on the read goroutine, one at a time and
// in arrival order.
type Handler func(Event)

// Channel is a single push connection. It is not reused after it ends;
// the Supervisor creates a fresh one for every dial.
type Channel struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler Handler
	log     *slog.Logger
	metrics metrics.Recorder

	pingPeriod time.Duration
	pongWait   time.Duration

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	err     error
	closing bool

	send chan []byte
	stop chan struct{}
	done chan struct{}
}

type ChannelOption func(*Channel)

func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) { c.log = logger.OrDefault(l) }
}

func WithMetrics(r metrics.Recorder) ChannelOption {
	return func(c *Channel) { c.metrics = metrics.OrNop(r) }
}

// WithHeartbeat overrides the ping period and pong deadline.
func WithHeartbeat(ping, pong time.Duration) ChannelOption {
	return func(c *Channel) {
		c.pingPeriod = ping
		c.pongWait = pong
	}
}

func NewChannel(url string, header http.Header, h Handler, opts ...ChannelOption) *Channel {
	c := &Channel{
		url:        url,
		header:     header,
		dialer:     websocket.DefaultDialer,
		handler:    h,
		log:        slog.Default(),
		metrics:    metrics.Nop{},
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		state:      Connecting,
		send:       make(chan []byte, sendBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the reason the channel entered ERROR, if it did.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel is CLOSED or ERROR.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Open dials the backend and starts the pumps.
func (c *Channel) Open(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Errored
		c.err = apperr.Channel("dial "+c.url, err)
		close(c.stop)
		close(c.done)
		return c.err
	}
	if c.closing {
		conn.Close()
		c.state = Closed
		close(c.stop)
		close(c.done)
		return ErrClosedEarly
	}

	c.conn = conn
	c.state = Open
	go c.writePump()
	go c.readPump()
	return nil
}

// Send queues out for delivery. Only an OPEN channel accepts sends; anything
// else is dropped and reported as ErrNotOpen.
func (c *Channel) Send(out Outbound) error {
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		c.metrics.RecordSendDropped()
		return ErrNotOpen
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.metrics.RecordSendDropped()
		return ErrSendFull
	}
}

// Close moves the channel to CLOSED. Frames still arriving are dropped.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing || c.state == Closed || c.state == Errored {
		c.closing = true
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	if conn == nil {
		// Still dialing; Open sees closing and tears down.
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	err := conn.Close()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return err
}

func (c *Channel) finish(readErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		c.state = Closed
	} else {
		c.state = Errored
		c.err = apperr.Channel("read", readErr)
	}
	close(c.stop)
	close(c.done)
}

// readPump pumps frames from the connection to the handler.
func (c *Channel) readPump() {
	var readErr error
	defer func() {
		c.conn.Close()
		c.finish(readErr)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("push channel read failed", "err", err)
			}
			readErr = err
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		if c.State() != Open {
			c.metrics.RecordPushDropped("not_open")
			continue
		}
		ev, err := Decode(data)
		if err != nil {
			c.metrics.RecordPushDropped("malformed")
			c.log.Warn("push frame dropped", "err", err)
			continue
		}
		c.metrics.RecordPushEvent(string(ev.Tag()))
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

// writePump pumps queued frames to the connection and keeps it alive.
func (c *Channel) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.stop:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// One JSON document per text frame; the backend parses each frame on its own.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("push channel write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
