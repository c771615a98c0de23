// Package server manages individual WebSocket connections, handling
// read/write pumps, rate limiting, and lifecycle control for each one.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/serenamente/chatrelay/internal/identity"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Client is one chat participant's persistent connection. It belongs to
// exactly one room for its whole lifetime and carries the identity resolved
// at join time. The hub owns the client; the registry only references it.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	handle   string
	addr     string
	room     string
	identity identity.Identity

	mu     sync.Mutex
	closed bool

	maxMessageSize int64
	writeTimeout   time.Duration
	limiter        *tokenBucket
	log            *slog.Logger
}

// NewClient wraps an upgraded connection for the given room and identity.
// The send channel is buffered; a full buffer counts as a failed delivery.
func NewClient(conn *websocket.Conn, hub *Hub, cfg Config, handle, addr, room string, id identity.Identity) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		handle:         handle,
		addr:           addr,
		room:           room,
		identity:       id,
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   cfg.WriteTimeout,
		limiter:        newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log: hub.log.With(
			slog.String("handle", handle),
			slog.String("addr", addr),
			slog.String("room", room),
			slog.String("user", id.ID),
		),
	}
}

// Handle returns the client's opaque per-process identifier.
func (c *Client) Handle() string { return c.handle }

// Room returns the room key the client joined.
func (c *Client) Room() string { return c.room }

// Identity returns the identity bound at join time.
func (c *Client) Identity() identity.Identity { return c.identity }

// enqueue places an encoded frame on the client's send queue without
// blocking. It reports false when the client is closed or the queue is
// full, which callers treat as a failed delivery.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// enqueueFrame encodes and enqueues an outbound frame, logging on failure.
func (c *Client) enqueueFrame(frame OutboundFrame) {
	payload, err := frame.Encode()
	if err != nil {
		c.log.Error("encode frame", slog.String("type", frame.Type), slog.Any("err", err))
		return
	}
	if !c.enqueue(payload) {
		c.log.Warn("send queue full, frame dropped", slog.String("type", frame.Type))
	}
}

// shutdownSend marks the client closed and closes its send channel exactly
// once. Reports whether this call performed the close.
func (c *Client) shutdownSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", slog.Any("err", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", slog.Any("err", err))
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the read loop
// should stop. Every read error is terminal for the connection; the
// distinction is only in how it is logged.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", slog.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", slog.Any("err", err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", slog.Any("err", err))
	default:
		c.log.Warn("websocket read error", slog.Any("err", err))
	}
	return true
}

// readPump is the connection's receive task. It decodes and dispatches
// inbound frames until the transport closes, then triggers the leave path.
func (c *Client) readPump() {
	defer func() {
		c.hub.queueDrop(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in readPump", slog.Any("err", err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded, frame discarded")
			c.enqueueFrame(ErrorFrame("rate limit exceeded"))
			continue
		}

		c.handleFrame(raw)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. A write failure ends the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in writePump", slog.Any("err", err))
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.writeMessage(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeMessage writes one queued frame, or the close frame when the send
// channel has been shut down. Reports whether the pump should continue.
func (c *Client) writeMessage(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("set write deadline", slog.Any("err", err))
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("write close message", slog.Any("err", err))
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write message", slog.Any("err", err))
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("set write deadline for ping", slog.Any("err", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write ping", slog.Any("err", err))
		}
		return false
	}
	return true
}
