package handlers

import (
	"context"
	"encoding/json"
	"net"
	"strconv"

	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// RegistryHandler serves one game server's framed TCP connection to the
// lobby: registration, liveness, load and room status reports.
type RegistryHandler struct {
	svc      *lobby.Service
	conn     *peer.ServerConn
	serverID string // set once register succeeded on this connection
}

// NewRegistryHandler returns the peer.Server handler factory for the lobby's
// TCP listener.
func NewRegistryHandler(svc *lobby.Service) func(conn *peer.ServerConn) peer.Handler {
	return func(conn *peer.ServerConn) peer.Handler {
		return &RegistryHandler{svc: svc, conn: conn}
	}
}

func (h *RegistryHandler) HandleMessage(_ context.Context, env *protocol.Envelope) {
	if env.Type == protocol.TypeRegister {
		h.register(env)
		return
	}

	serverID, err := h.senderID(env)
	if err != nil {
		h.conn.Logger.WithFields(logrus.Fields{"type": env.Type, "registered": h.serverID}).Warn("Message names another server")
		h.conn.SendError(ErrorReason(err))
		return
	}
	if _, ok := h.svc.Servers.Get(serverID); !ok {
		h.conn.Logger.WithFields(logrus.Fields{"type": env.Type, "server_id": serverID}).Warn("Message from unregistered server")
		h.conn.SendError(ErrorReason(ErrUnregisteredServer))
		return
	}
	log := h.conn.Logger.WithField("server_id", serverID)

	switch env.Type {
	case protocol.TypePing:
		if err := h.svc.Servers.RecordPing(serverID); err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		h.conn.Send(protocol.NewMessage(protocol.TypePong))

	case protocol.TypeStatusUpdate:
		var req protocol.StatusUpdateRequest
		if err := env.Bind(&req); err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		if err := h.svc.Servers.RecordStatusUpdate(serverID, req.Status, req.Load); err != nil {
			h.conn.SendError(ErrorReason(err))
			return
		}
		log.WithFields(logrus.Fields{"status": req.Status, "load": req.Load}).Debug("Status update")
		h.conn.Send(protocol.NewMessage(protocol.TypeStatusUpdateSuccess))

	case protocol.TypeRoomStatus:
		var rep protocol.RoomStatusReport
		if err := env.Bind(&rep); err != nil || rep.RoomID == "" {
			h.conn.SendError("Invalid room status")
			return
		}
		rep.ServerID = serverID
		h.svc.Rooms.Upsert(rep)
		if rep.Deleted {
			h.svc.Sessions.ClearRoom(rep.RoomID)
			log.WithField("room_id", rep.RoomID).Debug("Room removed from index")
		}
		h.conn.Send(protocol.Message{"type": protocol.TypeRoomStatusSuccess, "room_id": rep.RoomID})

	default:
		log.WithField("type", env.Type).Warn("Unknown registry message type")
		h.conn.SendError(unknownType(env.Type))
	}
}

// senderID is the server this message speaks for. A connection that
// registered may only speak for its own server; an unregistered one names the
// server in server_id.
func (h *RegistryHandler) senderID(env *protocol.Envelope) (string, error) {
	var body struct {
		ServerID string `json:"server_id"`
	}
	_ = json.Unmarshal(env.Raw, &body)
	if h.serverID == "" {
		return body.ServerID, nil
	}
	if body.ServerID != "" && body.ServerID != h.serverID {
		return "", ErrServerIDMismatch
	}
	return h.serverID, nil
}

func (h *RegistryHandler) register(env *protocol.Envelope) {
	var req protocol.RegisterRequest
	if err := env.Bind(&req); err != nil || req.ServerID == "" || req.Port <= 0 {
		h.conn.SendError(ErrorReason(ErrInvalidRegistration))
		return
	}
	if req.IP == "" {
		if host, _, err := net.SplitHostPort(h.conn.RemoteAddr()); err == nil {
			req.IP = host
		}
	}
	if req.ControlPort == 0 {
		req.ControlPort = req.Port
	}

	entry := h.svc.Servers.Register(req, h.conn.ID)
	h.serverID = entry.ServerID
	h.conn.Logger.WithFields(logrus.Fields{
		"server_id": entry.ServerID,
		"addr":      net.JoinHostPort(entry.IP, strconv.Itoa(entry.Port)),
		"max_rooms": entry.MaxRooms,
	}).Info("Game server registered")
	h.conn.Send(protocol.Message{"type": protocol.TypeRegisterSuccess, "server_id": entry.ServerID})
}

// Closed drops the server if this connection still owns its registration and
// tells the clients that were routed to it.
func (h *RegistryHandler) Closed() {
	if h.serverID == "" {
		return
	}
	if h.svc.Servers.RemoveIfOwner(h.serverID, h.conn.ID) {
		h.svc.ServerLost(h.serverID, "disconnected")
	}
}
