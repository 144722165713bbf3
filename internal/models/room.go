// internal/models/room.go
package models

import "time"

// RoomStatus is the room lifecycle state.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusPlaying RoomStatus = "playing"
	StatusEnded   RoomStatus = "ended"
)

// GameState is the authoritative in-game state of a room.
type GameState struct {
	CurrentTurnIndex   int       `json:"current_turn_index"`
	TurnStartTime      time.Time `json:"turn_start_time"`
	TurnTimeoutSeconds int       `json:"turn_timeout_seconds"`
	Deck               []Card    `json:"deck"`
	PlayArea           []Card    `json:"play_area"`
	LastCard           *Card     `json:"last_card,omitempty"`
}

// RoomSnapshot is a deep copy of a room, used for persistence and for the
// lobby's room summaries.
type RoomSnapshot struct {
	ID          string       `json:"id"`
	GameType    string       `json:"game_type"`
	Status      RoomStatus   `json:"status"`
	MaxPlayers  int          `json:"max_players"`
	Players     []RoomPlayer `json:"players"`
	IsPrivate   bool         `json:"is_private"`
	PrivateCode string       `json:"private_code,omitempty"`
	GameState   GameState    `json:"game_state"`
	Scores      map[int]int  `json:"scores"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	// Deleted is set on the final snapshot emitted when a room is removed.
	Deleted bool `json:"-"`
}
