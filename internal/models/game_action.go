package models

// RoomAction is one applied in-game move, queued for the historian.
type RoomAction struct {
	RoomID      string                 `json:"room_id"`
	ActionIndex int                    `json:"action_index"`
	UserID      int                    `json:"user_id"`
	ActionType  string                 `json:"action_type"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
}
