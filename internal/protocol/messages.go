// internal/protocol/messages.go
package protocol

// Message types exchanged between clients, the lobby and game servers. The
// same JSON bodies travel over WebSocket text frames and length-prefixed TCP.
const (
	// game server -> lobby registry protocol
	TypeRegister            = "register"
	TypeRegisterSuccess     = "register_success"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeStatusUpdate        = "status_update"
	TypeStatusUpdateSuccess = "status_update_success"
	TypeRoomStatus          = "room_status"
	TypeRoomStatusSuccess   = "room_status_success"

	// client authentication
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"

	// client -> lobby
	TypeMatchmakingJoin         = "matchmaking_join"
	TypeMatchmakingSuccess      = "matchmaking_success"
	TypeLeaveMatchmaking        = "leave_matchmaking"
	TypeLeaveMatchmakingSuccess = "leave_matchmaking_success"
	TypeServerDisconnected      = "server_disconnected"

	// room admission (lobby -> game server and client -> game server)
	TypeCreateRoom        = "create_room"
	TypeCreateRoomSuccess = "create_room_success"
	TypeJoinRoom          = "join_room"
	TypeJoinRoomSuccess   = "join_room_success"
	TypeLeaveRoom         = "leave_room"
	TypeLeaveRoomSuccess  = "leave_room_success"
	TypeRoomInfo          = "room_info"
	TypeRoomInfoSuccess   = "room_info_success"

	// readiness
	TypeSetReady       = "set_ready"
	TypePlayerReady    = "player_ready"
	TypePlayerNotReady = "player_not_ready"

	// gameplay
	TypeGameAction    = "game_action"
	TypeGameStarted   = "game_started"
	TypeRoomState     = "room_state"
	TypeTurnTimeout   = "turn_timeout"
	TypeTimeRemaining = "time_remaining"
	TypeCardPlayed    = "card_played"
	TypeCardDrawn     = "card_drawn"
	TypeTurnPassed    = "turn_passed"
	TypeRoomUpdate    = "room_update"
	TypePlayerJoined  = "player_joined"
	TypePlayerLeft    = "player_left"
	TypeGameOver      = "game_over"

	TypeError = "error"
)

// Game action kinds carried in game_action.action_type.
const (
	ActionPlayCard = "play_card"
	ActionDrawCard = "draw_card"
	ActionPassTurn = "pass_turn"
)

// Message is an outbound JSON object. It always carries a "type" key.
type Message map[string]interface{}

// NewMessage builds a message of the given type.
func NewMessage(msgType string) Message {
	return Message{"type": msgType}
}

// Type returns the message's type field.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Error builds the single error reply sent for a rejected request.
func Error(reason string) Message {
	return Message{"type": TypeError, "message": reason}
}

// RegisterRequest is sent by a game server when it starts (and whenever the
// lobby forgot about it). Port is the client-facing WebSocket port;
// ControlPort is where the lobby sends room commands.
type RegisterRequest struct {
	ServerID    string `json:"server_id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	ControlPort int    `json:"control_port,omitempty"`
	MaxRooms    int    `json:"max_rooms"`
}

// PingRequest keeps a registry entry fresh.
type PingRequest struct {
	ServerID string `json:"server_id"`
}

// StatusUpdateRequest reports a game server's availability and load.
type StatusUpdateRequest struct {
	ServerID string  `json:"server_id"`
	Status   string  `json:"status"`
	Load     float64 `json:"load"`
}

// RoomStatusReport keeps the lobby's room summaries in step with the game
// server that owns the room.
type RoomStatusReport struct {
	ServerID    string `json:"server_id"`
	RoomID      string `json:"room_id"`
	GameType    string `json:"game_type"`
	Status      string `json:"status"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	IsPrivate   bool   `json:"is_private"`
	PrivateCode string `json:"private_code,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// AuthRequest carries a bearer token issued by the authentication provider.
type AuthRequest struct {
	Token string `json:"token"`
}

// MatchmakingJoinRequest asks the lobby for a seat in a room of the given
// game type and size.
type MatchmakingJoinRequest struct {
	GameType    string `json:"game_type"`
	Size        int    `json:"size"`
	IsPrivate   bool   `json:"is_private"`
	PrivateCode string `json:"private_code,omitempty"`
}

// CreateRoomRequest provisions a room on a game server.
type CreateRoomRequest struct {
	GameType    string `json:"game_type"`
	MaxPlayers  int    `json:"max_players"`
	IsPrivate   bool   `json:"is_private"`
	PrivateCode string `json:"private_code,omitempty"`
}

// JoinRoomRequest seats the authenticated client in a room.
type JoinRoomRequest struct {
	RoomID      string `json:"room_id"`
	PrivateCode string `json:"private_code,omitempty"`
}

// RoomInfoRequest asks a game server for a room's public view.
type RoomInfoRequest struct {
	RoomID string `json:"room_id"`
}

// SetReadyRequest toggles the sender's ready flag.
type SetReadyRequest struct {
	Ready bool `json:"ready"`
}

// GameActionRequest is one in-game move. CardIndex is only used by play_card.
type GameActionRequest struct {
	ActionType string `json:"action_type"`
	CardIndex  *int   `json:"card_index,omitempty"`
}

// ServerInfo tells a client where its room lives.
type ServerInfo struct {
	ServerID string `json:"server_id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}
