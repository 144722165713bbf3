package game

import "errors"

// Domain errors. Each maps to a single error reply for the requester and is
// never broadcast.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotJoinable    = errors.New("room is not accepting players")
	ErrInvalidPrivateCode = errors.New("invalid private code")
	ErrNotInRoom          = errors.New("player is not in the room")
	ErrGameNotInProgress  = errors.New("game is not in progress")
	ErrGameInProgress     = errors.New("game already in progress")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrInvalidMove        = errors.New("card does not match suit or rank of the last card")
	ErrInvalidCardIndex   = errors.New("invalid card index")
	ErrUnknownAction      = errors.New("unknown action type")
	ErrDeckEmpty          = errors.New("deck is empty")
	ErrInvalidRoomConfig  = errors.New("invalid room configuration")
	ErrServerFull         = errors.New("server has no free room slots")
)

// ErrNotEnoughPlayers is returned when a start is forced with fewer than two seats filled.
var ErrNotEnoughPlayers = errors.New("not enough players to start")
