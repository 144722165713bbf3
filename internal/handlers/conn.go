// internal/handlers/conn.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cardroom/internal/middleware"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	outQueueSize     = 64
	pingInterval     = 30 * time.Second
	pingTimeout      = 15 * time.Second
	wsWriteTimeout   = 5 * time.Second
	maxAuthFailures  = 3
	maxMessageLength = 64 << 10
)

// Connection is one client WebSocket. Sends are queued on OutChan and written
// by the write pump, so Send never blocks the caller.
type Connection struct {
	ID      string
	Remote  string
	OutChan chan protocol.Message

	abort  context.CancelFunc
	stop   chan struct{}
	mu     sync.Mutex
	closed bool
	logger logrus.FieldLogger

	closeCode    websocket.StatusCode
	closeReason  string
	closing      bool
	authFailures int
}

func newConnection(remote string, abort context.CancelFunc, logger logrus.FieldLogger) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:        id,
		Remote:    remote,
		OutChan:   make(chan protocol.Message, outQueueSize),
		abort:     abort,
		stop:      make(chan struct{}),
		logger:    logger.WithFields(logrus.Fields{"conn_id": id, "remote": remote}),
		closeCode: websocket.StatusNormalClosure,
	}
}

// Send queues msg. A full queue means the client stopped reading; the message
// is dropped and the connection is aborted.
func (c *Connection) Send(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.OutChan <- msg:
	default:
		c.logger.WithField("type", msg.Type()).Warn("Outbound queue full; dropping message and closing connection")
		c.closed = true
		c.abort()
	}
}

// SendError queues a single error reply.
func (c *Connection) SendError(reason string) {
	c.Send(protocol.Error(reason))
}

// Abort tears the connection down without flushing.
func (c *Connection) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.abort()
}

// CloseWith stops reading after the current message; queued replies are
// flushed before the close frame carrying code and reason.
func (c *Connection) CloseWith(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *Connection) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Connection) markClosed() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeCode, c.closeReason
}

// authFailed counts a rejected auth attempt and reports whether the limit was hit.
func (c *Connection) authFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFailures++
	return c.authFailures >= maxAuthFailures
}

func (c *Connection) authSucceeded() {
	c.mu.Lock()
	c.authFailures = 0
	c.mu.Unlock()
}

// messageHandler processes one decoded client message.
type messageHandler func(ctx context.Context, conn *Connection, env *protocol.Envelope)

// wsEndpoint holds what both client endpoints share: the accept step, the
// pumps and the per-connection rate limit.
type wsEndpoint struct {
	subprotocol string
	path        string
	limiter     *middleware.RateLimiter
	logger      logrus.FieldLogger
}

// serve upgrades the request and runs the connection until it ends. opened
// runs before the first read; closed runs after the last.
func (e *wsEndpoint) serve(w http.ResponseWriter, r *http.Request, opened func(*Connection, *http.Request), handle messageHandler, closed func(*Connection)) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{e.subprotocol},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		e.logger.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != e.subprotocol {
		c.Close(BadSubprotocolError, "client must speak the "+e.subprotocol+" subprotocol")
		return
	}
	c.SetReadLimit(maxMessageLength)

	ctx, abort := context.WithCancel(r.Context())
	defer abort()
	conn := newConnection(r.RemoteAddr, abort, e.logger)
	middleware.LogWebSocketConnect(e.logger, conn.ID, conn.Remote, e.path)

	opened(conn, r)
	done := make(chan struct{})
	go func() {
		writePump(ctx, c, conn)
		close(done)
	}()

	readErr := readPump(ctx, c, conn, e.limiter, handle)

	closed(conn)
	code, reason := conn.markClosed()
	close(conn.stop)
	<-done
	if e.limiter != nil {
		e.limiter.Remove(conn.ID)
	}
	middleware.LogWebSocketDisconnect(e.logger, conn.ID, conn.Remote, e.path, readErr)
	c.Close(code, reason)
}

// readPump decodes text frames and hands them to handle in receipt order. It
// returns the read error that ended the connection, or nil on a clean close.
func readPump(ctx context.Context, c *websocket.Conn, conn *Connection, limiter *middleware.RateLimiter, handle messageHandler) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			conn.logger.WithField("frame_type", typ).Warn("Ignoring non-text frame")
			continue
		}
		if limiter != nil && !limiter.Allow(conn.ID) {
			conn.SendError(ErrorReason(ErrRateLimited))
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			conn.logger.WithError(err).Warn("Invalid client message")
			conn.SendError(ErrorReason(err))
			continue
		}
		dispatchSafely(ctx, conn, env, handle)
		if conn.stopRequested() {
			return nil
		}
	}
}

// dispatchSafely keeps one failing handler from taking the connection down.
func dispatchSafely(ctx context.Context, conn *Connection, env *protocol.Envelope, handle messageHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			conn.logger.WithFields(logrus.Fields{"type": env.Type, "panic": rec}).Error("Message handler panicked")
			conn.SendError("Internal server error")
		}
	}()
	handle(ctx, conn, env)
}

// writePump drains OutChan to the socket and keeps the connection alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.stop:
			flush(ctx, c, conn)
			return
		case msg := <-conn.OutChan:
			if err := writeMessage(ctx, c, msg); err != nil {
				conn.logger.WithError(err).Warn("Failed to write to websocket")
				conn.Abort()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.logger.WithError(err).Warn("Ping failed; assuming disconnect")
				conn.Abort()
				return
			}
		}
	}
}

// flush writes whatever is still queued, so a final error reply reaches the
// client before the close frame.
func flush(ctx context.Context, c *websocket.Conn, conn *Connection) {
	for {
		select {
		case msg := <-conn.OutChan:
			if err := writeMessage(ctx, c, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeMessage(ctx context.Context, c *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
