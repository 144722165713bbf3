// internal/handlers/game.go
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
)

// RoomsHandler lists the public rooms of this game server as JSON. Private
// rooms are left out.
func (gs *GameServer) RoomsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rooms := make([]map[string]interface{}, 0)
		for _, room := range gs.Rooms.Rooms() {
			state := room.PublicState()
			if private, _ := state["is_private"].(bool); private {
				continue
			}
			rooms = append(rooms, state)
		}
		sort.Slice(rooms, func(i, j int) bool {
			a, _ := rooms[i]["room_id"].(string)
			b, _ := rooms[j]["room_id"].(string)
			return a < b
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"server_id": gs.ServerID,
			"rooms":     rooms,
		})
	}
}
