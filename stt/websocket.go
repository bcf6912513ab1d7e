package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	HandshakeTimeout = 10 * time.Second
	WriteWait        = 5 * time.Second
	PingInterval     = 30 * time.Second
	PongTimeout      = 60 * time.Second
)

// LanguageDirective is the control message announcing the spoken language.
func LanguageDirective(language string) []byte {
	return []byte("language:" + language)
}

type WebSocketTransport struct {
	Dialer *websocket.Dialer
	logger *log.Logger
}

func NewWebSocketTransport(logger *log.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: HandshakeTimeout,
		},
		logger: logger,
	}
}

func (t *WebSocketTransport) NewConnection(
	id uint64,
	language string,
	events chan<- Event,
) Connection {
	return &WebSocketConn{
		id:       id,
		language: language,
		dialer:   t.Dialer,
		events:   events,
		done:     make(chan struct{}),
		logger:   t.logger.With("conn", id),
	}
}

// WebSocketConn streams audio over a single websocket. It never
// reconnects; once closed it stays closed.
type WebSocketConn struct {
	id       uint64
	language string
	dialer   *websocket.Dialer
	events   chan<- Event
	logger   *log.Logger

	mu     sync.Mutex
	state  State
	ws     *websocket.Conn
	cancel context.CancelFunc

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (c *WebSocketConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sent is the number of binary frames written to the network.
func (c *WebSocketConn) Sent() uint64 {
	return c.sent.Load()
}

// Dropped is the number of frames discarded because the connection was
// not open.
func (c *WebSocketConn) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *WebSocketConn) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: connection is %s", state)
	}
	c.state = Connecting
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("connecting", "url", url)
	go c.run(dialCtx, url)
	return nil
}

func (c *WebSocketConn) run(ctx context.Context, url string) {
	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.fail(fmt.Errorf("%w: dial %s: %w", ErrConnection, url, err))
		return
	}

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws

	// The directive goes out before the state flips to Open, so no audio
	// frame can be written ahead of it.
	if c.language != "" {
		ws.SetWriteDeadline(time.Now().Add(WriteWait))
		err := ws.WriteMessage(websocket.TextMessage, LanguageDirective(c.language))
		if err != nil {
			c.mu.Unlock()
			c.fail(fmt.Errorf("%w: send language: %w", ErrConnection, err))
			return
		}
	}
	c.state = Open
	c.mu.Unlock()

	ws.SetReadDeadline(time.Now().Add(PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	c.logger.Info("open", "language", c.language)
	c.emit(Event{Kind: EventOpen})

	go c.keepAlive(ws)
	c.readLoop(ws)
}

func (c *WebSocketConn) readLoop(ws *websocket.Conn) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: read: %w", ErrConnection, err))
			return
		}
		ws.SetReadDeadline(time.Now().Add(PongTimeout))

		if kind != websocket.TextMessage {
			c.logger.Debug("ignoring binary message", "bytes", len(data))
			continue
		}
		c.emit(Event{Kind: EventMessage, Text: string(data)})
	}
}

func (c *WebSocketConn) keepAlive(ws *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := ws.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(WriteWait),
			)
			if err != nil {
				c.fail(fmt.Errorf("%w: ping: %w", ErrConnection, err))
				return
			}
		}
	}
}

func (c *WebSocketConn) Send(data []byte) bool {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		c.dropped.Add(1)
		return false
	}
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(WriteWait))
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: write: %w", ErrConnection, err)
		// The caller may be the only reader of events.
		if c.markFailed(err) {
			go c.emit(Event{Kind: EventClosed, Err: err})
		}
		c.dropped.Add(1)
		return false
	}
	c.sent.Add(1)
	return true
}

// fail moves a live connection straight to Closed and reports why. It is
// silent when the owner has already closed the connection.
func (c *WebSocketConn) fail(err error) {
	if c.markFailed(err) {
		c.emit(Event{Kind: EventClosed, Err: err})
	}
}

// markFailed closes the socket of a live connection and reports whether
// this call did it.
func (c *WebSocketConn) markFailed(err error) bool {
	c.mu.Lock()
	if c.state == Closing || c.state == Closed {
		c.mu.Unlock()
		return false
	}
	c.state = Closed
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}

	c.logger.Error("failed", "error", err)
	return true
}

func (c *WebSocketConn) emit(ev Event) {
	ev.Conn = c.id
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		if prev != Closed {
			c.state = Closing
		}
		ws := c.ws
		cancel := c.cancel
		c.mu.Unlock()

		close(c.done)
		if cancel != nil {
			cancel()
		}

		if ws != nil && prev == Open {
			err = ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WriteWait),
			)
			if err == websocket.ErrCloseSent {
				err = nil
			}
			ws.Close()
		}

		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()

		c.logger.Info(
			"closed",
			"from", prev,
			"sent", c.sent.Load(),
			"dropped", c.dropped.Load(),
		)
	})
	return err
}
