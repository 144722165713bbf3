// Package peer carries the framed TCP protocol between the lobby and the game
// servers: a request/response client with connect and response timeouts, and
// the accept loop that serves framed connections.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jason-s-yu/cardroom/internal/framing"
	"github.com/jason-s-yu/cardroom/internal/protocol"
)

// ErrUpstreamTimeout is returned when a peer could not be reached or did not
// answer in time.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// ErrConnClosed is returned by Conn.Call after the connection was closed.
var ErrConnClosed = errors.New("peer connection closed")

// RemoteError is an error reply sent by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "peer replied with error: " + e.Message
}

// Options bounds each round trip.
type Options struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

// DefaultOptions are the 5s connect / 5s response limits.
func DefaultOptions() Options {
	return Options{ConnectTimeout: 5 * time.Second, ResponseTimeout: 5 * time.Second}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func dial(ctx context.Context, addr string, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("connect %s: %w", addr, ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}

// roundTrip writes req and reads exactly one reply under the response timeout.
// The connection is closed early if ctx is cancelled.
func roundTrip(ctx context.Context, conn net.Conn, r *framing.Reader, req interface{}, opts Options) (*protocol.Envelope, error) {
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	deadline := time.Now().Add(opts.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := framing.WriteFrame(conn, req); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("write request: %w", ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("write request: %w", err)
	}
	body, err := r.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("await reply: %w", ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("await reply: %w", err)
	}
	env, err := protocol.Decode(body)
	if err != nil {
		return nil, err
	}
	if env.Type == protocol.TypeError {
		return env, &RemoteError{Message: env.ErrorMessage()}
	}
	return env, nil
}

// Call opens a connection to addr, sends req, waits for one reply and closes
// the connection. An "error" reply is returned as *RemoteError.
func Call(ctx context.Context, addr string, req interface{}, opts Options) (*protocol.Envelope, error) {
	conn, err := dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return roundTrip(ctx, conn, framing.NewReader(conn), req, opts)
}

// Conn is a persistent request/response connection. Calls are serialized;
// any transport failure closes it and later calls return ErrConnClosed.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *framing.Reader
	opts   Options
	closed bool
}

// Dial opens a persistent connection to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	conn, err := dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn, reader: framing.NewReader(conn), opts: opts}, nil
}

// Call sends req and waits for its reply.
func (c *Conn) Call(ctx context.Context, req interface{}) (*protocol.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	env, err := roundTrip(ctx, c.conn, c.reader, req, c.opts)
	if err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			c.closeUnsafe()
		}
		return env, err
	}
	return env, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeUnsafe()
}

func (c *Conn) closeUnsafe() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
