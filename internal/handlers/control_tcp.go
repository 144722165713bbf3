package handlers

import (
	"context"

	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
)

// controlHandler serves the lobby's room commands on a game server's TCP
// control port.
type controlHandler struct {
	gs   *GameServer
	conn *peer.ServerConn
}

// ControlHandler returns the peer.Server handler factory for the control port.
func (gs *GameServer) ControlHandler() func(conn *peer.ServerConn) peer.Handler {
	return func(conn *peer.ServerConn) peer.Handler {
		return &controlHandler{gs: gs, conn: conn}
	}
}

func (h *controlHandler) HandleMessage(ctx context.Context, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		h.conn.Send(protocol.NewMessage(protocol.TypePong))

	case protocol.TypeCreateRoom:
		var req protocol.CreateRoomRequest
		if err := env.Bind(&req); err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		room, err := h.gs.Rooms.CreateRoom(req.GameType, req.MaxPlayers, req.IsPrivate, req.PrivateCode)
		if err != nil {
			h.conn.Logger.WithError(err).Warn("Lobby create_room rejected")
			h.conn.SendError(ErrorReason(err))
			return
		}
		h.conn.Send(reportMessage(protocol.TypeCreateRoomSuccess, StatusReport(h.gs.ServerID, room.Snapshot())))

	case protocol.TypeRoomInfo:
		var req protocol.RoomInfoRequest
		if err := env.Bind(&req); err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		room, err := h.gs.Rooms.LoadOrGet(ctx, req.RoomID)
		if err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		h.conn.Send(reportMessage(protocol.TypeRoomInfoSuccess, StatusReport(h.gs.ServerID, room.Snapshot())))

	default:
		h.conn.Logger.WithField("type", env.Type).Warn("Unknown control message type")
		h.conn.SendError(unknownType(env.Type))
	}
}

func (h *controlHandler) Closed() {}
