package handlers

import (
	"errors"

	"github.com/jason-s-yu/cardroom/internal/auth"
	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/jason-s-yu/cardroom/internal/session"
)

// Dispatcher-level rejections.
var (
	ErrAuthRequired        = errors.New("authentication required")
	ErrUnregisteredServer  = errors.New("unregistered server")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrServerIDMismatch    = errors.New("server id does not match registration")
)

var reasons = []struct {
	err    error
	reason string
}{
	{game.ErrRoomNotFound, "Room not found"},
	{game.ErrRoomFull, "Room is full"},
	{game.ErrRoomNotJoinable, "Room is not joinable"},
	{game.ErrInvalidPrivateCode, "Invalid private code"},
	{game.ErrNotInRoom, "Not in a room"},
	{game.ErrGameNotInProgress, "Game is not in progress"},
	{game.ErrGameInProgress, "Game already in progress"},
	{game.ErrNotYourTurn, "Not your turn"},
	{game.ErrInvalidMove, "Invalid move"},
	{game.ErrInvalidCardIndex, "Invalid card index"},
	{game.ErrUnknownAction, "Unknown action type"},
	{game.ErrDeckEmpty, "Deck is empty"},
	{game.ErrInvalidRoomConfig, "Invalid room configuration"},
	{game.ErrServerFull, "Server is full"},
	{game.ErrNotEnoughPlayers, "Not enough players"},
	{lobby.ErrUnknownServer, "Unknown server"},
	{lobby.ErrNoAvailableServers, "No available servers"},
	{lobby.ErrInvalidRequest, "Invalid matchmaking request"},
	{lobby.ErrRoomNotIndexed, "Room not found"},
	{lobby.ErrInvalidStatus, "Invalid server status"},
	{peer.ErrUpstreamTimeout, "Upstream timeout"},
	{peer.ErrConnClosed, "Upstream unavailable"},
	{auth.ErrInvalidToken, "Invalid token"},
	{session.ErrSessionNotFound, "Session not found"},
	{ErrAuthRequired, "Authentication required"},
	{ErrUnregisteredServer, "Unregistered server"},
	{ErrRateLimited, "Rate limit exceeded"},
	{ErrInvalidRegistration, "Invalid registration"},
	{ErrServerIDMismatch, "Server id mismatch"},
}

// ErrorReason maps an error to the human-readable message of an error reply.
// Errors relayed from a game server keep the game server's wording.
func ErrorReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	var remote *peer.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		return "Invalid message: " + perr.Reason
	}
	return "Internal server error"
}

// unknownType is the reply to a message type the endpoint does not handle.
func unknownType(msgType string) string {
	return "Unknown message type: " + msgType
}
