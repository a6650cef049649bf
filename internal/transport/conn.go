// Package transport owns the duplex websocket connection between the
// bridge and the remote evaluator's terminal endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

// TerminalPath is the evaluator's terminal endpoint below the target's
// path prefix. The session always starts in %SYS; the config frame moves
// it to the requested namespace.
const TerminalPath = "/api/atelier/v7/%25SYS/terminal"

var errClosed = errors.New("connection is closed")

// Options tunes the connection. Zero values select the defaults.
type Options struct {
	// HandshakeTimeout bounds the websocket handshake (default 10s).
	HandshakeTimeout time.Duration

	// WriteWait is the time allowed to write a frame (default 10s).
	WriteWait time.Duration

	// PongWait is the time allowed to read the next pong (default 60s).
	PongWait time.Duration

	// MaxMessageSize limits inbound frames (default 1MB).
	MaxMessageSize int64

	// SendQueue is the outbound frame buffer (default 64).
	SendQueue int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	return o
}

// Conn is one open evaluator connection.
type Conn struct {
	ws   *websocket.Conn
	opts Options
	send chan []byte
	quit chan struct{}
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	started   bool
	onMessage func(protocol.Inbound)
	onClose   func(error)
}

// EndpointURL returns the websocket URL of the target's terminal endpoint.
func EndpointURL(target model.Target) (string, error) {
	u, err := url.Parse(target.BaseURL() + TerminalPath)
	if err != nil {
		return "", fmt.Errorf("parse target URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Dial opens the evaluator connection. Session cookies from auth are sent
// verbatim as Cookie headers. The connection does not read or write until
// Start is called.
func Dial(ctx context.Context, target model.Target, auth model.AuthContext, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	wsURL, err := EndpointURL(target)
	if err != nil {
		return nil, &Error{Kind: ConnectError, Op: "dial", Err: err}
	}

	header := http.Header{}
	for _, cookie := range auth.Cookies {
		header.Add("Cookie", cookie)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &Error{Kind: AuthError, Op: "dial", Err: fmt.Errorf("handshake rejected with status %d", resp.StatusCode)}
		}
		return nil, &Error{Kind: ConnectError, Op: "dial", Err: err}
	}

	return &Conn{
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendQueue),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// OnMessage registers the handler invoked once per decoded inbound frame,
// in arrival order, from the connection's single read goroutine.
func (c *Conn) OnMessage(handler func(protocol.Inbound)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnClose registers the handler invoked once when the connection ends.
// err is nil when the connection was closed locally.
func (c *Conn) OnClose(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Start launches the read and write pumps.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Send queues one frame for writing.
func (c *Conn) Send(frame protocol.Outbound) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return &Error{Kind: SendError, Op: "send", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &Error{Kind: SendError, Op: "send", Err: errClosed}
	}

	select {
	case c.send <- data:
		return nil
	default:
		return &Error{Kind: SendError, Op: "send", Err: errors.New("send queue full")}
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	close(c.quit)
	c.mu.Unlock()

	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	err := c.ws.Close()

	if !started {
		close(c.done)
	}
	return err
}

// Done is closed once the read pump has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readPump decodes inbound frames and dispatches them in order.
func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.mu.Lock()
		local := c.closed
		if !c.closed {
			c.closed = true
			close(c.quit)
		}
		onClose := c.onClose
		c.mu.Unlock()

		c.ws.Close()
		close(c.done)

		if local {
			readErr = nil
		}
		if onClose != nil {
			onClose(readErr)
		}
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Evaluator connection error: %v", err)
			}
			readErr = err
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Dropping evaluator frame: %v", err)
			continue
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Evaluator write failed: %v", err)
				c.ws.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return
			}
		case <-c.quit:
			return
		}
	}
}
