package handlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// LobbyLink is a game server's connection to the lobby registry. It registers,
// keeps the registration alive with pings and status updates, and forwards
// room changes. A lost connection is redialled with backoff and the server
// registers again.
type LobbyLink struct {
	Addr           string
	Register       protocol.RegisterRequest
	Rooms          *game.RoomStore
	PingInterval   time.Duration
	StatusInterval time.Duration
	Options        peer.Options
	RetryMin       time.Duration
	RetryMax       time.Duration

	logger     logrus.FieldLogger
	registered atomic.Bool

	mu      sync.Mutex
	pending map[string]protocol.RoomStatusReport
	order   []string
	notify  chan struct{}
}

// NewLobbyLink builds a link with 10s pings, 15s status updates and a 1s..30s
// reconnect backoff.
func NewLobbyLink(addr string, reg protocol.RegisterRequest, rooms *game.RoomStore, logger logrus.FieldLogger) *LobbyLink {
	return &LobbyLink{
		Addr:           addr,
		Register:       reg,
		Rooms:          rooms,
		PingInterval:   10 * time.Second,
		StatusInterval: 15 * time.Second,
		Options:        peer.DefaultOptions(),
		RetryMin:       time.Second,
		RetryMax:       30 * time.Second,
		logger:         logger.WithFields(logrus.Fields{"server_id": reg.ServerID, "lobby": addr}),
		pending:        make(map[string]protocol.RoomStatusReport),
		notify:         make(chan struct{}, 1),
	}
}

// Registered reports whether the lobby currently knows this server.
func (l *LobbyLink) Registered() bool {
	return l.registered.Load()
}

// ReportRoom queues a room's latest state for the lobby. Only the newest
// report per room is kept. Never blocks.
func (l *LobbyLink) ReportRoom(snap models.RoomSnapshot) {
	l.enqueue(StatusReport(l.Register.ServerID, snap))
}

func (l *LobbyLink) enqueue(rep protocol.RoomStatusReport) {
	l.mu.Lock()
	if _, ok := l.pending[rep.RoomID]; !ok {
		l.order = append(l.order, rep.RoomID)
	}
	l.pending[rep.RoomID] = rep
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// takePending drains the queue in arrival order.
func (l *LobbyLink) takePending() []protocol.RoomStatusReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.RoomStatusReport, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.pending[id])
	}
	l.pending = make(map[string]protocol.RoomStatusReport)
	l.order = nil
	return out
}

// requeue puts back reports that were not delivered, unless a newer one
// arrived meanwhile.
func (l *LobbyLink) requeue(reps []protocol.RoomStatusReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rep := range reps {
		if _, ok := l.pending[rep.RoomID]; ok {
			continue
		}
		l.pending[rep.RoomID] = rep
		l.order = append(l.order, rep.RoomID)
	}
}

// Run keeps the link up until ctx is cancelled, then tells the lobby this
// server is going away.
func (l *LobbyLink) Run(ctx context.Context) error {
	backoff := l.RetryMin
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.WithError(err).WithField("retry_in", backoff).Warn("Lobby registration failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > l.RetryMax {
				backoff = l.RetryMax
			}
			continue
		}
		backoff = l.RetryMin

		err = l.serve(ctx, conn)
		l.registered.Store(false)
		if ctx.Err() != nil {
			l.goodbye(conn)
			conn.Close()
			return nil
		}
		conn.Close()
		l.logger.WithError(err).Warn("Lobby link lost; reconnecting")
	}
}

func (l *LobbyLink) connect(ctx context.Context) (*peer.Conn, error) {
	conn, err := peer.Dial(ctx, l.Addr, l.Options)
	if err != nil {
		return nil, err
	}
	if err := l.register(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// register announces the server and queues every live room, since the lobby
// forgets a server's rooms when it loses the server.
func (l *LobbyLink) register(ctx context.Context, conn *peer.Conn) error {
	reg := protocol.Message{
		"type":      protocol.TypeRegister,
		"server_id": l.Register.ServerID,
		"ip":        l.Register.IP,
		"port":      l.Register.Port,
		"max_rooms": l.Register.MaxRooms,
	}
	if l.Register.ControlPort != 0 {
		reg["control_port"] = l.Register.ControlPort
	}
	if _, err := conn.Call(ctx, reg); err != nil {
		return err
	}
	l.registered.Store(true)
	l.logger.Info("Registered with lobby")
	for _, room := range l.Rooms.Rooms() {
		snap := room.Snapshot()
		if !snap.Deleted {
			l.ReportRoom(snap)
		}
	}
	return l.sendStatus(ctx, conn, lobby.ServerActive)
}

func (l *LobbyLink) serve(ctx context.Context, conn *peer.Conn) error {
	pingT := time.NewTicker(l.PingInterval)
	defer pingT.Stop()
	statusT := time.NewTicker(l.StatusInterval)
	defer statusT.Stop()

	if err := l.flushReports(ctx, conn); err != nil {
		return err
	}
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-pingT.C:
			_, err = conn.Call(ctx, protocol.Message{"type": protocol.TypePing, "server_id": l.Register.ServerID})
		case <-statusT.C:
			err = l.sendStatus(ctx, conn, lobby.ServerActive)
		case <-l.notify:
			err = l.flushReports(ctx, conn)
		}
		if err == nil {
			continue
		}
		if isForgotten(err) {
			l.logger.Warn("Lobby forgot this server; registering again")
			l.registered.Store(false)
			if err := l.register(ctx, conn); err != nil {
				return err
			}
			continue
		}
		var remote *peer.RemoteError
		if errors.As(err, &remote) {
			l.logger.WithError(err).Warn("Lobby rejected request")
			continue
		}
		return err
	}
}

func (l *LobbyLink) sendStatus(ctx context.Context, conn *peer.Conn, status string) error {
	_, err := conn.Call(ctx, protocol.Message{
		"type":      protocol.TypeStatusUpdate,
		"server_id": l.Register.ServerID,
		"status":    status,
		"load":      l.Rooms.Load(),
	})
	return err
}

func (l *LobbyLink) flushReports(ctx context.Context, conn *peer.Conn) error {
	reps := l.takePending()
	for i, rep := range reps {
		_, err := conn.Call(ctx, reportMessage(protocol.TypeRoomStatus, rep))
		if err == nil {
			continue
		}
		var remote *peer.RemoteError
		if errors.As(err, &remote) && !isForgotten(err) {
			l.logger.WithError(err).WithField("room_id", rep.RoomID).Warn("Lobby rejected room status")
			continue
		}
		l.requeue(reps[i:])
		return err
	}
	return nil
}

// goodbye marks the server inactive on shutdown so no more rooms are routed to it.
func (l *LobbyLink) goodbye(conn *peer.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.sendStatus(ctx, conn, lobby.ServerInactive); err != nil {
		l.logger.WithError(err).Debug("Failed to announce shutdown to lobby")
	}
}

// isForgotten reports a lobby reply meaning the registration is gone.
func isForgotten(err error) bool {
	var remote *peer.RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	return remote.Message == ErrorReason(ErrUnregisteredServer) || remote.Message == ErrorReason(lobby.ErrUnknownServer)
}
