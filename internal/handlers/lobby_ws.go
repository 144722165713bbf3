// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"net/http"

	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/middleware"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// LobbyServer is the client-facing WebSocket endpoint of the lobby.
type LobbyServer struct {
	Service  *lobby.Service
	Validate TokenValidator

	endpoint wsEndpoint
	logger   logrus.FieldLogger
}

// NewLobbyServer wires the endpoint to the lobby state. limiter may be nil.
func NewLobbyServer(svc *lobby.Service, limiter *middleware.RateLimiter, logger logrus.FieldLogger) *LobbyServer {
	return &LobbyServer{
		Service:  svc,
		Validate: DefaultValidator,
		endpoint: wsEndpoint{subprotocol: LobbySubprotocol, path: "/ws", limiter: limiter, logger: logger},
		logger:   logger,
	}
}

// WSHandler upgrades to a lobby WebSocket session.
func (s *LobbyServer) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.endpoint.serve(w, r,
			func(conn *Connection, r *http.Request) { openSession(conn, r, s.Service.Sessions, s.Validate) },
			s.handleMessage,
			func(conn *Connection) { s.Service.Sessions.Remove(conn.ID) },
		)
	}
}

func (s *LobbyServer) handleMessage(ctx context.Context, conn *Connection, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuth:
		authenticate(conn, env, s.Service.Sessions, s.Validate)
		return
	case protocol.TypePing:
		conn.Send(protocol.NewMessage(protocol.TypePong))
		return
	}

	sess, ok := requireSession(conn, s.Service.Sessions)
	if !ok {
		return
	}
	log := conn.logger.WithField("user_id", sess.UserID)

	switch env.Type {
	case protocol.TypeMatchmakingJoin:
		var req protocol.MatchmakingJoinRequest
		if err := env.Bind(&req); err != nil {
			conn.SendError(ErrorReason(err))
			return
		}
		if sess.RoomID != "" {
			_ = s.Service.Rooms.Leave(sess.RoomID, sess.UserID)
			_ = s.Service.Sessions.SetRoom(conn.ID, "")
		}
		match, err := s.Service.Matchmaker.Join(ctx, sess.UserID, req)
		if err != nil {
			log.WithError(err).Warn("Matchmaking failed")
			conn.SendError(ErrorReason(err))
			return
		}
		if err := s.Service.Sessions.SetRoom(conn.ID, match.RoomID); err != nil {
			_ = s.Service.Rooms.Leave(match.RoomID, sess.UserID)
			return
		}
		reply := protocol.Message{
			"type":      protocol.TypeMatchmakingSuccess,
			"room_id":   match.RoomID,
			"game_type": req.GameType,
			"created":   match.Created,
			"server":    match.Server.Info(),
		}
		if match.PrivateCode != "" {
			reply["private_code"] = match.PrivateCode
		}
		conn.Send(reply)

	case protocol.TypeLeaveMatchmaking:
		if sess.RoomID != "" {
			_ = s.Service.Rooms.Leave(sess.RoomID, sess.UserID)
			_ = s.Service.Sessions.SetRoom(conn.ID, "")
		}
		conn.Send(protocol.Message{"type": protocol.TypeLeaveMatchmakingSuccess, "room_id": sess.RoomID})

	default:
		log.WithField("type", env.Type).Warn("Unknown lobby message type")
		conn.SendError(unknownType(env.Type))
	}
}
