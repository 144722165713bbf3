package lobby

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Matchmaking size limits, mirroring the game server's room limits.
const (
	MinRoomSize = 2
	MaxRoomSize = 10
)

// GameServerClient issues room commands to a game server's control port.
type GameServerClient interface {
	CreateRoom(ctx context.Context, server GameServerEntry, req protocol.CreateRoomRequest) (protocol.RoomStatusReport, error)
	RoomInfo(ctx context.Context, server GameServerEntry, roomID string) (protocol.RoomStatusReport, error)
}

// Match is the result of a successful matchmaking request.
type Match struct {
	RoomID      string
	PrivateCode string
	Server      GameServerEntry
	Created     bool
}

// Matchmaker places players into rooms.
type Matchmaker struct {
	servers *Registry
	rooms   *RoomIndex
	client  GameServerClient
	logger  logrus.FieldLogger
}

// NewMatchmaker wires a matchmaker to the lobby's registries.
func NewMatchmaker(servers *Registry, rooms *RoomIndex, client GameServerClient, logger logrus.FieldLogger) *Matchmaker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Matchmaker{servers: servers, rooms: rooms, client: client, logger: logger}
}

// Join finds a joinable room for userID or provisions a new one on the least
// loaded server. Room creation is never retried; its failure is returned.
func (m *Matchmaker) Join(ctx context.Context, userID int, req protocol.MatchmakingJoinRequest) (Match, error) {
	if req.GameType == "" || req.Size < MinRoomSize || req.Size > MaxRoomSize {
		return Match{}, fmt.Errorf("%w: game_type %q, size %d", ErrInvalidRequest, req.GameType, req.Size)
	}
	log := m.logger.WithFields(logrus.Fields{"user_id": userID, "game_type": req.GameType, "size": req.Size})

	skip := make(map[string]bool)
	for {
		summary, ok := m.rooms.ReserveJoinable(req.GameType, req.Size, req.IsPrivate, req.PrivateCode, userID, skip)
		if !ok {
			break
		}
		skip[summary.RoomID] = true
		match, ok := m.confirm(ctx, userID, summary, log)
		if ok {
			return match, nil
		}
	}

	server, ok := m.servers.LeastLoaded()
	if !ok {
		return Match{}, ErrNoAvailableServers
	}
	created, err := m.client.CreateRoom(ctx, server, protocol.CreateRoomRequest{
		GameType:    req.GameType,
		MaxPlayers:  req.Size,
		IsPrivate:   req.IsPrivate,
		PrivateCode: req.PrivateCode,
	})
	if err != nil {
		log.WithError(err).WithField("server_id", server.ServerID).Error("Room creation on game server failed")
		return Match{}, fmt.Errorf("create room on %s: %w", server.ServerID, err)
	}

	m.rooms.Add(RoomSummary{
		RoomID:      created.RoomID,
		ServerID:    server.ServerID,
		GameType:    req.GameType,
		Status:      models.StatusWaiting,
		MaxPlayers:  req.Size,
		IsPrivate:   req.IsPrivate,
		PrivateCode: created.PrivateCode,
		Reserved:    map[int]bool{userID: true},
	})
	m.servers.BumpLoad(server.ServerID, 1)
	log.WithFields(logrus.Fields{"room_id": created.RoomID, "server_id": server.ServerID}).Info("Created room for matchmaking")

	return Match{RoomID: created.RoomID, PrivateCode: created.PrivateCode, Server: server, Created: true}, nil
}

// confirm checks a reserved first-fit candidate against its server. Rooms that
// turned out gone or unjoinable are corrected in the index and skipped.
func (m *Matchmaker) confirm(ctx context.Context, userID int, s RoomSummary, log logrus.FieldLogger) (Match, bool) {
	release := func() { _ = m.rooms.Leave(s.RoomID, userID) }

	if !m.servers.Alive(s.ServerID) {
		release()
		return Match{}, false
	}
	server, ok := m.servers.Get(s.ServerID)
	if !ok {
		release()
		return Match{}, false
	}

	info, err := m.client.RoomInfo(ctx, server, s.RoomID)
	if err != nil {
		log.WithError(err).WithField("room_id", s.RoomID).Warn("Dropping room that failed verification")
		m.rooms.Remove(s.RoomID)
		return Match{}, false
	}
	if info.ServerID == "" {
		info.ServerID = server.ServerID
	}
	m.rooms.Upsert(info)
	if info.Status != string(models.StatusWaiting) || (info.MaxPlayers > 0 && info.PlayerCount >= info.MaxPlayers) {
		release()
		return Match{}, false
	}
	return Match{RoomID: s.RoomID, PrivateCode: s.PrivateCode, Server: server}, true
}
