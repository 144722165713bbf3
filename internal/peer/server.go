package peer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cardroom/internal/framing"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Handler processes the messages of one framed connection. HandleMessage is
// called sequentially in receipt order; Closed is called once when the
// connection ends.
type Handler interface {
	HandleMessage(ctx context.Context, env *protocol.Envelope)
	Closed()
}

// ServerConn is the server side of one framed connection.
type ServerConn struct {
	ID     string
	conn   net.Conn
	wmu    sync.Mutex
	Logger logrus.FieldLogger
}

// RemoteAddr returns the peer address.
func (c *ServerConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send writes msg as one frame.
func (c *ServerConn) Send(msg protocol.Message) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := framing.WriteFrame(c.conn, msg); err != nil {
		c.Logger.WithError(err).WithField("type", msg.Type()).Warn("Failed to write frame")
		c.conn.Close()
	}
}

// SendError writes a single error reply.
func (c *ServerConn) SendError(reason string) {
	c.Send(protocol.Error(reason))
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	return c.conn.Close()
}

// Server accepts framed TCP connections and runs a Handler per connection.
type Server struct {
	NewHandler func(conn *ServerConn) Handler
	Logger     logrus.FieldLogger

	mu    sync.Mutex
	conns map[string]*ServerConn
	wg    sync.WaitGroup
}

// Serve accepts on ln until ctx is cancelled, then closes every connection
// and waits for their handlers to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	s.mu.Lock()
	s.conns = make(map[string]*ServerConn)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			s.Logger.WithError(err).Warn("Accept failed")
			continue
		}
		sc := &ServerConn{ID: uuid.NewString(), conn: conn}
		sc.Logger = s.Logger.WithFields(logrus.Fields{"conn_id": sc.ID, "remote": conn.RemoteAddr().String()})

		s.mu.Lock()
		s.conns[sc.ID] = sc
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, sc)
		}()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.conn.Close()
	}
}

func (s *Server) handle(ctx context.Context, sc *ServerConn) {
	h := s.NewHandler(sc)
	defer func() {
		sc.conn.Close()
		s.mu.Lock()
		delete(s.conns, sc.ID)
		s.mu.Unlock()
		h.Closed()
		sc.Logger.Debug("Peer connection closed")
	}()
	sc.Logger.Debug("Peer connection opened")

	reader := framing.NewReader(sc.conn)
	for {
		body, err := reader.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case framing.IsFramingError(err):
				sc.Logger.WithError(err).Warn("Malformed frame; closing connection")
			default:
				sc.Logger.WithError(err).Debug("Read failed")
			}
			return
		}

		env, err := protocol.Decode(body)
		if err != nil {
			sc.Logger.WithError(err).Warn("Ignoring invalid message")
			continue
		}
		s.dispatch(ctx, sc, h, env)
	}
}

func (s *Server) dispatch(ctx context.Context, sc *ServerConn, h Handler, env *protocol.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			sc.Logger.WithFields(logrus.Fields{"type": env.Type, "panic": rec}).Error("Handler panicked")
			sc.SendError("Internal server error")
		}
	}()
	h.HandleMessage(ctx, env)
}
