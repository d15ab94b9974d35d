package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meridianhq/meridian/internal/model"
)

// ErrConnClosed is returned by Send after the connection has been closed
var ErrConnClosed = errors.New("connection closed")

// ErrSendBufferFull is returned when the outbound queue is saturated; the
// registry treats it like any other delivery failure and drops the
// connection rather than letting one slow reader stall a broadcast.
var ErrSendBufferFull = errors.New("send buffer full")

// ConnOptions tunes per-connection websocket behavior
type ConnOptions struct {
	// WriteWait is the time allowed to write a message to the peer
	WriteWait time.Duration

	// PongWait is the time allowed to read the next pong from the peer;
	// pings are sent at 90% of this interval
	PongWait time.Duration

	// SendBuffer is the outbound queue depth per connection
	SendBuffer int

	// ReadLimit caps inbound message size
	ReadLimit int64
}

// DefaultConnOptions returns the standard production tuning
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		SendBuffer: 32,
		ReadLimit:  4096,
	}
}

// PingPeriod derives the keepalive interval; must be less than PongWait
func (o ConnOptions) PingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// WSConn wraps a server-side websocket connection with a buffered outbound
// queue and a dedicated write pump, so registry broadcasts never block on a
// slow peer.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	send chan model.Envelope
	opts ConnOptions

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// NewWSConn wraps an upgraded websocket connection
func NewWSConn(ws *websocket.Conn, opts ConnOptions) *WSConn {
	if opts.SendBuffer <= 0 {
		opts = DefaultConnOptions()
	}
	return &WSConn{
		id:   uuid.New().String(),
		ws:   ws,
		send: make(chan model.Envelope, opts.SendBuffer),
		opts: opts,
		done: make(chan struct{}),
	}
}

// ID returns the connection identifier
func (c *WSConn) ID() string {
	return c.id
}

// Send queues an envelope for delivery without blocking. A send racing
// Close may hit the closed channel; the recover converts that into an
// ordinary delivery error.
func (c *WSConn) Send(env model.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrConnClosed
		}
	}()

	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts down the outbound queue exactly once. The write pump drains
// and closes the underlying socket.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		close(c.send)
	})
	return nil
}

// Done is closed once the connection is shut down
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// WritePump serializes all writes to the peer: queued envelopes plus
// periodic pings. Runs until Close or a write failure; it owns the
// underlying socket and closes it on exit.
func (c *WSConn) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				slog.Debug("WebSocket write failed",
					"connection_id", c.id,
					"error", err.Error(),
				)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
