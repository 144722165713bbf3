package lobby

import (
	"context"
	"time"

	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/jason-s-yu/cardroom/internal/session"
	"github.com/sirupsen/logrus"
)

// Service bundles the lobby's registries and owns the server-loss cascade.
type Service struct {
	Servers    *Registry
	Rooms      *RoomIndex
	Matchmaker *Matchmaker
	Sessions   *session.Registry

	logger logrus.FieldLogger
}

// NewService builds the lobby state. The session registry releases room
// reservations through the room index when a client disconnects.
func NewService(staleAfter time.Duration, client GameServerClient, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	servers := NewRegistry(staleAfter)
	rooms := NewRoomIndex()
	return &Service{
		Servers:    servers,
		Rooms:      rooms,
		Matchmaker: NewMatchmaker(servers, rooms, client, logger),
		Sessions:   session.NewRegistry(rooms, logger),
		logger:     logger,
	}
}

// ServerLost forgets every room hosted by serverID and tells the clients that
// were routed there, so they can re-enter matchmaking.
func (s *Service) ServerLost(serverID, reason string) int {
	rooms := s.Rooms.OrphanServer(serverID)
	notified := 0
	for _, room := range rooms {
		for _, sess := range s.Sessions.ClearRoom(room.RoomID) {
			if sess.Conn == nil {
				continue
			}
			sess.Conn.Send(protocol.Message{
				"type":      protocol.TypeServerDisconnected,
				"server_id": serverID,
				"room_id":   room.RoomID,
				"reason":    reason,
			})
			notified++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"server_id": serverID,
		"reason":    reason,
		"rooms":     len(rooms),
		"notified":  notified,
	}).Warn("Game server lost")
	return notified
}

// Sweep prunes stale servers and cascades their loss.
func (s *Service) Sweep() []string {
	stale := s.Servers.Sweep()
	for _, id := range stale {
		s.ServerLost(id, "stale")
	}
	return stale
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.WithField("panic", rec).Error("Registry sweep panicked")
		}
	}()
	if stale := s.Sweep(); len(stale) > 0 {
		s.logger.WithField("servers", stale).Info("Pruned stale game servers")
	}
}
