// internal/game/room.go
package game

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Room size limits accepted by CreateRoom.
const (
	MinPlayers = 2
	MaxPlayers = 10
)

// Config holds the tunables shared by every room on a game server.
type Config struct {
	HandSize     int
	TurnTimeout  time.Duration
	TickInterval time.Duration // zero disables the background ticker; callers drive Tick
	ResetDelay   time.Duration
	Clock        Clock
	Seed         int64 // zero seeds each room from the clock
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HandSize:     7,
		TurnTimeout:  15 * time.Second,
		TickInterval: 500 * time.Millisecond,
		ResetDelay:   5 * time.Second,
		Clock:        RealClock,
	}
}

var seedCounter int64

func (c Config) newRand() *rand.Rand {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + atomic.AddInt64(&seedCounter, 1)
	}
	return rand.New(rand.NewSource(seed))
}

// Room is one game room. All fields are guarded by Mu; methods take the lock
// themselves, helpers ending in Unsafe assume it is held.
type Room struct {
	ID          string
	GameType    string
	MaxPlayers  int
	IsPrivate   bool
	PrivateCode string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Status  models.RoomStatus
	Players []*models.RoomPlayer
	State   models.GameState
	Scores  map[int]int

	cfg         Config
	rng         *rand.Rand
	log         logrus.FieldLogger
	actionIndex int
	heartbeat   int // last whole second reported by time_remaining
	tickStop    chan struct{}
	resetTimer  Timer
	deleted     bool

	Mu sync.Mutex

	// SendFn delivers a message to one user. It must not block; the room lock
	// is held while it runs.
	SendFn func(userID int, msg protocol.Message)

	// OnChange receives a snapshot after every state change. Called with the
	// room lock held, so it must only enqueue.
	OnChange func(snap models.RoomSnapshot)

	// OnAction receives every applied move for the action history.
	OnAction func(action models.RoomAction)

	// OnEmpty is called after the last player left and the room was closed.
	// It runs after the room lock is released.
	OnEmpty func(roomID string)
}

// NewRoom builds an empty waiting room.
func NewRoom(id, gameType string, maxPlayers int, isPrivate bool, privateCode string, cfg Config, logger logrus.FieldLogger) *Room {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := cfg.Clock.Now()
	return &Room{
		ID:          id,
		GameType:    gameType,
		MaxPlayers:  maxPlayers,
		IsPrivate:   isPrivate,
		PrivateCode: privateCode,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      models.StatusWaiting,
		State:       models.GameState{TurnTimeoutSeconds: timeoutSeconds(cfg.TurnTimeout)},
		Scores:      make(map[int]int),
		cfg:         cfg,
		rng:         cfg.newRand(),
		log:         logger.WithField("room_id", id),
	}
}

// RestoreRoom rebuilds a room from a persisted snapshot. Connections are not
// persisted, so the room comes back waiting with an empty roster; its
// configuration and scores survive.
func RestoreRoom(snap models.RoomSnapshot, cfg Config, logger logrus.FieldLogger) *Room {
	r := NewRoom(snap.ID, snap.GameType, snap.MaxPlayers, snap.IsPrivate, snap.PrivateCode, cfg, logger)
	if !snap.CreatedAt.IsZero() {
		r.CreatedAt = snap.CreatedAt
	}
	for uid, score := range snap.Scores {
		r.Scores[uid] = score
	}
	return r
}

// timeoutSeconds rounds up to whole seconds, so a positive timeout never
// disables the turn clock.
func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Join seats a player. Joining a room the player already sits in just resends
// the private state.
func (r *Room) Join(id models.Identity, privateCode string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.deleted {
		return ErrRoomNotFound
	}
	if r.IsPrivate && privateCode != r.PrivateCode {
		return ErrInvalidPrivateCode
	}
	if r.indexOfUnsafe(id.UserID) >= 0 {
		r.sendStateUnsafe(id.UserID)
		return nil
	}
	if len(r.Players) >= r.MaxPlayers {
		return ErrRoomFull
	}
	if r.Status != models.StatusWaiting {
		return ErrRoomNotJoinable
	}

	r.Players = append(r.Players, &models.RoomPlayer{UserID: id.UserID, Username: id.Username})
	r.log.WithFields(logrus.Fields{"user_id": id.UserID, "player_count": len(r.Players)}).Info("Player joined room")

	r.broadcastUnsafe(protocol.Message{
		"type":         protocol.TypePlayerJoined,
		"room_id":      r.ID,
		"user_id":      id.UserID,
		"username":     id.Username,
		"player_count": len(r.Players),
		"max_players":  r.MaxPlayers,
	}, id.UserID)
	r.sendStateUnsafe(id.UserID)
	r.changedUnsafe()
	return nil
}

// Leave removes a player. An emptied room is closed and OnEmpty fires.
func (r *Room) Leave(userID int) error {
	r.Mu.Lock()
	empty, err := r.leaveUnsafe(userID)
	onEmpty := r.OnEmpty
	r.Mu.Unlock()

	if err != nil {
		return err
	}
	if empty && onEmpty != nil {
		onEmpty(r.ID)
	}
	return nil
}

func (r *Room) leaveUnsafe(userID int) (bool, error) {
	if r.deleted {
		return false, ErrRoomNotFound
	}
	idx := r.indexOfUnsafe(userID)
	if idx < 0 {
		return false, ErrNotInRoom
	}

	leaver := r.Players[idx]
	remaining := make([]*models.RoomPlayer, 0, len(r.Players)-1)
	remaining = append(remaining, r.Players[:idx]...)
	r.Players = append(remaining, r.Players[idx+1:]...)

	// cards in hand go back under the deck
	if len(leaver.Hand) > 0 && r.Status == models.StatusPlaying {
		r.State.Deck = append(copyCards(leaver.Hand), r.State.Deck...)
	}
	r.log.WithFields(logrus.Fields{"user_id": userID, "player_count": len(r.Players)}).Info("Player left room")

	if len(r.Players) == 0 {
		r.closeUnsafe()
		r.changedUnsafe()
		return true, nil
	}

	r.broadcastUnsafe(protocol.Message{
		"type":         protocol.TypePlayerLeft,
		"room_id":      r.ID,
		"user_id":      leaver.UserID,
		"username":     leaver.Username,
		"player_count": len(r.Players),
	})

	switch r.Status {
	case models.StatusPlaying:
		if len(r.Players) < MinPlayers {
			r.resetUnsafe("not_enough_players")
			return false, nil
		}
		now := r.cfg.Clock.Now()
		cur := r.State.CurrentTurnIndex
		switch {
		case idx < cur:
			r.State.CurrentTurnIndex = cur - 1
		case idx == cur:
			r.State.CurrentTurnIndex = idx % len(r.Players)
			r.State.TurnStartTime = now
			r.heartbeat = 0
			r.broadcastUnsafe(protocol.Message{
				"type":           protocol.TypeTurnPassed,
				"room_id":        r.ID,
				"player_id":      leaver.UserID,
				"next_player_id": r.currentPlayerUnsafe().UserID,
				"reason":         "player_left",
			})
		}
	case models.StatusWaiting:
		if r.allReadyUnsafe() {
			r.startGameUnsafe()
			return false, nil
		}
	}
	r.changedUnsafe()
	return false, nil
}

// SetReady updates a player's ready flag. When every seated player is ready
// and at least two are seated the game starts.
func (r *Room) SetReady(userID int, ready bool) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.deleted {
		return ErrRoomNotFound
	}
	idx := r.indexOfUnsafe(userID)
	if idx < 0 {
		return ErrNotInRoom
	}
	if r.Status != models.StatusWaiting {
		return ErrGameInProgress
	}

	p := r.Players[idx]
	evType := protocol.TypePlayerNotReady
	if ready {
		evType = protocol.TypePlayerReady
	}
	ev := protocol.Message{
		"type":     evType,
		"room_id":  r.ID,
		"user_id":  p.UserID,
		"username": p.Username,
	}

	if p.Ready == ready {
		r.sendToUnsafe(userID, ev)
		return nil
	}
	p.Ready = ready
	r.broadcastUnsafe(ev)

	if ready && r.allReadyUnsafe() {
		r.startGameUnsafe()
		return nil
	}
	r.changedUnsafe()
	return nil
}

// StartGame starts a waiting room regardless of ready flags.
func (r *Room) StartGame() error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.deleted {
		return ErrRoomNotFound
	}
	if r.Status != models.StatusWaiting {
		return ErrGameInProgress
	}
	if len(r.Players) < MinPlayers {
		return ErrNotEnoughPlayers
	}
	r.startGameUnsafe()
	return nil
}

// Close marks the room deleted and stops its timers.
func (r *Room) Close() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.deleted {
		return
	}
	r.closeUnsafe()
	r.changedUnsafe()
}

func (r *Room) closeUnsafe() {
	r.deleted = true
	r.stopTickerUnsafe()
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
}

// Deleted reports whether the room has been closed.
func (r *Room) Deleted() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.deleted
}

// PlayerCount returns the number of seated players.
func (r *Room) PlayerCount() int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return len(r.Players)
}

// HasPlayer reports whether userID holds a seat.
func (r *Room) HasPlayer(userID int) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.indexOfUnsafe(userID) >= 0
}

// PublicState returns the view of the room every member (and the lobby) may see.
func (r *Room) PublicState() map[string]interface{} {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.publicStateUnsafe()
}

// Snapshot returns a deep copy of the room.
func (r *Room) Snapshot() models.RoomSnapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.snapshotUnsafe()
}

func (r *Room) snapshotUnsafe() models.RoomSnapshot {
	players := make([]models.RoomPlayer, len(r.Players))
	for i, p := range r.Players {
		players[i] = *p
		players[i].Hand = copyCards(p.Hand)
	}
	state := r.State
	state.Deck = copyCards(r.State.Deck)
	state.PlayArea = copyCards(r.State.PlayArea)
	if r.State.LastCard != nil {
		c := *r.State.LastCard
		state.LastCard = &c
	}
	return models.RoomSnapshot{
		ID:          r.ID,
		GameType:    r.GameType,
		Status:      r.Status,
		MaxPlayers:  r.MaxPlayers,
		Players:     players,
		IsPrivate:   r.IsPrivate,
		PrivateCode: r.PrivateCode,
		GameState:   state,
		Scores:      r.scoresUnsafe(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Deleted:     r.deleted,
	}
}

func (r *Room) publicStateUnsafe() map[string]interface{} {
	players := make([]models.PublicPlayer, len(r.Players))
	for i, p := range r.Players {
		players[i] = p.Public()
	}
	st := map[string]interface{}{
		"room_id":              r.ID,
		"game_type":            r.GameType,
		"status":               r.Status,
		"max_players":          r.MaxPlayers,
		"player_count":         len(r.Players),
		"is_private":           r.IsPrivate,
		"players":              players,
		"scores":               r.scoresUnsafe(),
		"deck_count":           len(r.State.Deck),
		"turn_timeout_seconds": r.State.TurnTimeoutSeconds,
	}
	if r.State.LastCard != nil {
		st["last_card"] = *r.State.LastCard
	}
	if r.Status == models.StatusPlaying {
		st["current_turn_index"] = r.State.CurrentTurnIndex
		st["current_player_id"] = r.currentPlayerUnsafe().UserID
	}
	return st
}

// sendStateUnsafe sends userID the public view plus their own hand.
func (r *Room) sendStateUnsafe(userID int) {
	idx := r.indexOfUnsafe(userID)
	if idx < 0 {
		return
	}
	hand := copyCards(r.Players[idx].Hand)
	if hand == nil {
		hand = []models.Card{}
	}
	r.sendToUnsafe(userID, protocol.Message{
		"type":    protocol.TypeRoomState,
		"room_id": r.ID,
		"room":    r.publicStateUnsafe(),
		"hand":    hand,
	})
}

func (r *Room) scoresUnsafe() map[int]int {
	out := make(map[int]int, len(r.Scores))
	for k, v := range r.Scores {
		out[k] = v
	}
	return out
}

func (r *Room) indexOfUnsafe(userID int) int {
	for i, p := range r.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) currentPlayerUnsafe() *models.RoomPlayer {
	return r.Players[r.State.CurrentTurnIndex]
}

func (r *Room) allReadyUnsafe() bool {
	if len(r.Players) < MinPlayers {
		return false
	}
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) sendToUnsafe(userID int, msg protocol.Message) {
	if r.SendFn == nil {
		return
	}
	r.SendFn(userID, msg)
}

// broadcastUnsafe sends msg once to every seated player except the excluded ids.
func (r *Room) broadcastUnsafe(msg protocol.Message, exclude ...int) {
	for _, p := range r.Players {
		skip := false
		for _, ex := range exclude {
			if p.UserID == ex {
				skip = true
				break
			}
		}
		if !skip {
			r.sendToUnsafe(p.UserID, msg)
		}
	}
}

func (r *Room) changedUnsafe() {
	r.UpdatedAt = r.cfg.Clock.Now()
	if r.OnChange != nil {
		r.OnChange(r.snapshotUnsafe())
	}
}

// recordActionUnsafe appends an entry to the room's action history.
func (r *Room) recordActionUnsafe(userID int, actionType string, payload map[string]interface{}) {
	r.actionIndex++
	if r.OnAction == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	r.OnAction(models.RoomAction{
		RoomID:      r.ID,
		ActionIndex: r.actionIndex,
		UserID:      userID,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   r.cfg.Clock.Now().UnixMilli(),
	})
}
