// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/jason-s-yu/cardroom/internal/session"
	"github.com/sirupsen/logrus"
)

// WSHandler upgrades to a game server WebSocket session. Clients authenticate,
// join the room the lobby routed them to and play.
func (gs *GameServer) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs.endpoint.serve(w, r,
			func(conn *Connection, r *http.Request) { openSession(conn, r, gs.Sessions, gs.Validate) },
			gs.handleMessage,
			func(conn *Connection) { gs.Sessions.Remove(conn.ID) },
		)
	}
}

func (gs *GameServer) handleMessage(ctx context.Context, conn *Connection, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuth:
		authenticate(conn, env, gs.Sessions, gs.Validate)
		return
	case protocol.TypePing:
		conn.Send(protocol.NewMessage(protocol.TypePong))
		return
	}

	sess, ok := requireSession(conn, gs.Sessions)
	if !ok {
		return
	}
	log := conn.logger.WithFields(logrus.Fields{"user_id": sess.UserID, "type": env.Type})

	var err error
	switch env.Type {
	case protocol.TypeCreateRoom:
		err = gs.createRoom(conn, env)
	case protocol.TypeJoinRoom:
		err = gs.joinRoom(ctx, conn, sess, env)
	case protocol.TypeLeaveRoom:
		err = gs.leaveRoom(conn, sess)
	case protocol.TypeSetReady:
		err = gs.setReady(sess, env)
	case protocol.TypeGameAction:
		err = gs.gameAction(sess, env)
	case protocol.TypeRoomInfo:
		err = gs.roomInfo(ctx, conn, sess, env)
	default:
		log.Warn("Unknown game message type")
		conn.SendError(unknownType(env.Type))
		return
	}
	if err != nil {
		log.WithError(err).Debug("Request rejected")
		conn.SendError(ErrorReason(err))
	}
}

func (gs *GameServer) createRoom(conn *Connection, env *protocol.Envelope) error {
	var req protocol.CreateRoomRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	room, err := gs.Rooms.CreateRoom(req.GameType, req.MaxPlayers, req.IsPrivate, req.PrivateCode)
	if err != nil {
		return err
	}
	reply := protocol.Message{
		"type":    protocol.TypeCreateRoomSuccess,
		"room_id": room.ID,
		"room":    room.PublicState(),
	}
	if room.IsPrivate {
		reply["private_code"] = room.PrivateCode
	}
	conn.Send(reply)
	return nil
}

// joinRoom seats the player. A player already seated elsewhere leaves that
// room first.
func (gs *GameServer) joinRoom(ctx context.Context, conn *Connection, sess session.Session, env *protocol.Envelope) error {
	var req protocol.JoinRoomRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if req.RoomID == "" {
		return game.ErrRoomNotFound
	}
	room, err := gs.Rooms.LoadOrGet(ctx, req.RoomID)
	if err != nil {
		return err
	}

	if sess.RoomID != "" && sess.RoomID != req.RoomID {
		_ = gs.Rooms.Leave(sess.RoomID, sess.UserID)
	}
	if err := gs.Sessions.SetRoom(conn.ID, req.RoomID); err != nil {
		return err
	}
	if err := room.Join(models.Identity{UserID: sess.UserID, Username: sess.Username}, req.PrivateCode); err != nil {
		_ = gs.Sessions.SetRoom(conn.ID, "")
		return err
	}
	conn.Send(protocol.Message{
		"type":    protocol.TypeJoinRoomSuccess,
		"room_id": room.ID,
		"room":    room.PublicState(),
	})
	return nil
}

func (gs *GameServer) leaveRoom(conn *Connection, sess session.Session) error {
	if sess.RoomID == "" {
		return game.ErrNotInRoom
	}
	err := gs.Rooms.Leave(sess.RoomID, sess.UserID)
	_ = gs.Sessions.SetRoom(conn.ID, "")
	if err != nil && !errors.Is(err, game.ErrRoomNotFound) {
		return err
	}
	conn.Send(protocol.Message{"type": protocol.TypeLeaveRoomSuccess, "room_id": sess.RoomID})
	return nil
}

func (gs *GameServer) setReady(sess session.Session, env *protocol.Envelope) error {
	var req protocol.SetReadyRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	room, err := gs.currentRoom(sess)
	if err != nil {
		return err
	}
	return room.SetReady(sess.UserID, req.Ready)
}

func (gs *GameServer) gameAction(sess session.Session, env *protocol.Envelope) error {
	var req protocol.GameActionRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	room, err := gs.currentRoom(sess)
	if err != nil {
		return err
	}
	return room.HandleAction(sess.UserID, req)
}

// roomInfo answers with the public view of the named room, or of the caller's
// own room when none is named.
func (gs *GameServer) roomInfo(ctx context.Context, conn *Connection, sess session.Session, env *protocol.Envelope) error {
	var req protocol.RoomInfoRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if req.RoomID == "" {
		req.RoomID = sess.RoomID
	}
	if req.RoomID == "" {
		return game.ErrNotInRoom
	}
	room, err := gs.Rooms.LoadOrGet(ctx, req.RoomID)
	if err != nil {
		return err
	}
	conn.Send(protocol.Message{
		"type":    protocol.TypeRoomInfoSuccess,
		"room_id": room.ID,
		"room":    room.PublicState(),
	})
	return nil
}
