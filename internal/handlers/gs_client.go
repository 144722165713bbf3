package handlers

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
)

// PeerClient sends room commands to a game server's control port, one
// connection per request.
type PeerClient struct {
	Options peer.Options
}

var _ lobby.GameServerClient = (*PeerClient)(nil)

// NewPeerClient uses the given connect and response limits.
func NewPeerClient(opts peer.Options) *PeerClient {
	return &PeerClient{Options: opts}
}

func (c *PeerClient) CreateRoom(ctx context.Context, server lobby.GameServerEntry, req protocol.CreateRoomRequest) (protocol.RoomStatusReport, error) {
	msg := protocol.Message{
		"type":        protocol.TypeCreateRoom,
		"game_type":   req.GameType,
		"max_players": req.MaxPlayers,
		"is_private":  req.IsPrivate,
	}
	if req.PrivateCode != "" {
		msg["private_code"] = req.PrivateCode
	}
	return c.call(ctx, server, msg, protocol.TypeCreateRoomSuccess)
}

func (c *PeerClient) RoomInfo(ctx context.Context, server lobby.GameServerEntry, roomID string) (protocol.RoomStatusReport, error) {
	msg := protocol.Message{"type": protocol.TypeRoomInfo, "room_id": roomID}
	return c.call(ctx, server, msg, protocol.TypeRoomInfoSuccess)
}

func (c *PeerClient) call(ctx context.Context, server lobby.GameServerEntry, msg protocol.Message, want string) (protocol.RoomStatusReport, error) {
	env, err := peer.Call(ctx, server.ControlAddr(), msg, c.Options)
	if err != nil {
		return protocol.RoomStatusReport{}, err
	}
	if env.Type != want {
		return protocol.RoomStatusReport{}, fmt.Errorf("%s: unexpected reply %q", msg.Type(), env.Type)
	}
	var rep protocol.RoomStatusReport
	if err := env.Bind(&rep); err != nil {
		return protocol.RoomStatusReport{}, err
	}
	if rep.ServerID == "" {
		rep.ServerID = server.ServerID
	}
	return rep, nil
}
