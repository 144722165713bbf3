// internal/handlers/game_server.go
package handlers

import (
	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/middleware"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/jason-s-yu/cardroom/internal/session"
	"github.com/sirupsen/logrus"
)

// GameServer holds a game server's rooms and client sessions and serves both
// the client WebSocket endpoint and the lobby's control connections.
type GameServer struct {
	ServerID string
	Rooms    *game.RoomStore
	Sessions *session.Registry
	Validate TokenValidator

	endpoint wsEndpoint
	logger   logrus.FieldLogger
}

// NewGameServer wires a session registry to rooms: room events are delivered
// to the users' connections, and a dropped connection leaves its room.
func NewGameServer(serverID string, rooms *game.RoomStore, limiter *middleware.RateLimiter, logger logrus.FieldLogger) *GameServer {
	logger = logger.WithField("server_id", serverID)
	sessions := session.NewRegistry(rooms, logger)
	rooms.SendFn = func(userID int, msg protocol.Message) {
		sessions.SendToUser(userID, msg)
	}
	return &GameServer{
		ServerID: serverID,
		Rooms:    rooms,
		Sessions: sessions,
		Validate: DefaultValidator,
		endpoint: wsEndpoint{subprotocol: GameSubprotocol, path: "/ws", limiter: limiter, logger: logger},
		logger:   logger,
	}
}

// StatusReport summarises a room snapshot for the lobby's room index.
func StatusReport(serverID string, snap models.RoomSnapshot) protocol.RoomStatusReport {
	return protocol.RoomStatusReport{
		ServerID:    serverID,
		RoomID:      snap.ID,
		GameType:    snap.GameType,
		Status:      string(snap.Status),
		PlayerCount: len(snap.Players),
		MaxPlayers:  snap.MaxPlayers,
		IsPrivate:   snap.IsPrivate,
		PrivateCode: snap.PrivateCode,
		Deleted:     snap.Deleted,
	}
}

// reportMessage flattens a report into a message of the given type.
func reportMessage(msgType string, rep protocol.RoomStatusReport) protocol.Message {
	msg := protocol.Message{
		"type":         msgType,
		"server_id":    rep.ServerID,
		"room_id":      rep.RoomID,
		"game_type":    rep.GameType,
		"status":       rep.Status,
		"player_count": rep.PlayerCount,
		"max_players":  rep.MaxPlayers,
		"is_private":   rep.IsPrivate,
	}
	if rep.PrivateCode != "" {
		msg["private_code"] = rep.PrivateCode
	}
	if rep.Deleted {
		msg["deleted"] = true
	}
	return msg
}

// currentRoom returns the live room the session sits in.
func (gs *GameServer) currentRoom(sess session.Session) (*game.Room, error) {
	if sess.RoomID == "" {
		return nil, game.ErrNotInRoom
	}
	room, ok := gs.Rooms.GetRoom(sess.RoomID)
	if !ok {
		_ = gs.Sessions.SetRoom(sess.ConnID, "")
		return nil, game.ErrRoomNotFound
	}
	return room, nil
}
