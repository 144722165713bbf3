package lobby

import (
	"sync"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
)

// RoomSummary is the lobby's denormalized copy of a room hosted elsewhere.
type RoomSummary struct {
	RoomID      string
	ServerID    string
	GameType    string
	Status      models.RoomStatus
	PlayerCount int
	MaxPlayers  int
	IsPrivate   bool
	PrivateCode string

	// Reserved holds users routed here by matchmaking that the game server
	// may not have reported yet.
	Reserved map[int]bool
}

// Occupancy is the best estimate of seats taken.
func (s RoomSummary) Occupancy() int {
	if len(s.Reserved) > s.PlayerCount {
		return len(s.Reserved)
	}
	return s.PlayerCount
}

func (s RoomSummary) clone() RoomSummary {
	out := s
	out.Reserved = make(map[int]bool, len(s.Reserved))
	for uid := range s.Reserved {
		out.Reserved[uid] = true
	}
	return out
}

// RoomIndex keeps room summaries in insertion order so first-fit is stable.
type RoomIndex struct {
	mu    sync.Mutex
	rooms map[string]*RoomSummary
	order []string
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: make(map[string]*RoomSummary)}
}

func (ix *RoomIndex) addUnsafe(s *RoomSummary) {
	if s.Reserved == nil {
		s.Reserved = make(map[int]bool)
	}
	ix.rooms[s.RoomID] = s
	ix.order = append(ix.order, s.RoomID)
}

// Add indexes a freshly created room. If a status report for it already
// arrived, only the reservations are merged.
func (ix *RoomIndex) Add(s RoomSummary) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.rooms[s.RoomID]; ok {
		for uid := range s.Reserved {
			cur.Reserved[uid] = true
		}
		return
	}
	c := s.clone()
	ix.addUnsafe(&c)
}

// Upsert applies a room_status report from the owning game server.
func (ix *RoomIndex) Upsert(rep protocol.RoomStatusReport) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if rep.Deleted {
		ix.removeUnsafe(rep.RoomID)
		return
	}
	s, ok := ix.rooms[rep.RoomID]
	if !ok {
		s = &RoomSummary{RoomID: rep.RoomID}
		ix.addUnsafe(s)
	}
	s.ServerID = rep.ServerID
	s.GameType = rep.GameType
	s.Status = models.RoomStatus(rep.Status)
	s.PlayerCount = rep.PlayerCount
	s.MaxPlayers = rep.MaxPlayers
	s.IsPrivate = rep.IsPrivate
	s.PrivateCode = rep.PrivateCode
}

// Get returns a copy of a summary.
func (ix *RoomIndex) Get(roomID string) (RoomSummary, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	s, ok := ix.rooms[roomID]
	if !ok {
		return RoomSummary{}, false
	}
	return s.clone(), true
}

// Remove drops a summary.
func (ix *RoomIndex) Remove(roomID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeUnsafe(roomID)
}

func (ix *RoomIndex) removeUnsafe(roomID string) {
	if _, ok := ix.rooms[roomID]; !ok {
		return
	}
	delete(ix.rooms, roomID)
	for i, id := range ix.order {
		if id == roomID {
			ix.order = append(ix.order[:i:i], ix.order[i+1:]...)
			break
		}
	}
}

func matches(s *RoomSummary, gameType string, size int, isPrivate bool, code string) bool {
	if s.Status != models.StatusWaiting || s.GameType != gameType {
		return false
	}
	if s.IsPrivate != isPrivate || (isPrivate && s.PrivateCode != code) {
		return false
	}
	occ := s.Occupancy()
	return occ < size && (s.MaxPlayers == 0 || occ < s.MaxPlayers)
}

// ReserveJoinable finds the first waiting room that fits the request, skipping
// rooms in skip, and reserves a seat in it for userID.
func (ix *RoomIndex) ReserveJoinable(gameType string, size int, isPrivate bool, code string, userID int, skip map[string]bool) (RoomSummary, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ix.order {
		if skip[id] {
			continue
		}
		s := ix.rooms[id]
		if s.Reserved[userID] || !matches(s, gameType, size, isPrivate, code) {
			continue
		}
		s.Reserved[userID] = true
		return s.clone(), true
	}
	return RoomSummary{}, false
}

// Leave releases userID's reservation in roomID.
func (ix *RoomIndex) Leave(roomID string, userID int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	s, ok := ix.rooms[roomID]
	if !ok {
		return ErrRoomNotIndexed
	}
	delete(s.Reserved, userID)
	return nil
}

// OrphanServer removes every room hosted by serverID and returns them.
func (ix *RoomIndex) OrphanServer(serverID string) []RoomSummary {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []RoomSummary
	for _, id := range ix.order {
		if s := ix.rooms[id]; s.ServerID == serverID {
			out = append(out, s.clone())
		}
	}
	for _, s := range out {
		ix.removeUnsafe(s.RoomID)
	}
	return out
}

// Rooms returns every summary in insertion order.
func (ix *RoomIndex) Rooms() []RoomSummary {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]RoomSummary, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.rooms[id].clone())
	}
	return out
}
