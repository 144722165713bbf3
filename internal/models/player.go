package models

// RoomPlayer is one seat in a room's ordered roster.
type RoomPlayer struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
	Hand     []Card `json:"hand"`
}

// PublicPlayer is what other players may see about a seat.
type PublicPlayer struct {
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	Ready     bool   `json:"ready"`
	HandCount int    `json:"hand_count"`
}

// Public strips the hand down to its size.
func (p RoomPlayer) Public() PublicPlayer {
	return PublicPlayer{
		UserID:    p.UserID,
		Username:  p.Username,
		Ready:     p.Ready,
		HandCount: len(p.Hand),
	}
}
