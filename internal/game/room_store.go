// internal/game/room_store.go
package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	storeQueueSize     = 256
	persistCallTimeout = 5 * time.Second
)

// Persister stores room snapshots outside the process. LoadRoom returns
// (nil, nil) when the room is unknown.
type Persister interface {
	LoadRoom(ctx context.Context, id string) (*models.RoomSnapshot, error)
	SaveRoom(ctx context.Context, snap models.RoomSnapshot) error
	DeleteRoom(ctx context.Context, id string) error
}

// ActionSink receives applied moves for the action history.
type ActionSink func(ctx context.Context, action models.RoomAction) error

// RoomStore owns every room on a game server.
//
// Rooms call back into the store while holding their own lock, so the store
// never locks a room while holding mu. Persistence and outbound hooks run on
// the Run goroutine, outside any room lock.
type RoomStore struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	cfg       Config
	maxRooms  int
	rng       *rand.Rand
	logger    logrus.FieldLogger
	persister Persister

	// SendFn delivers a room event to one user. Must not block.
	SendFn func(userID int, msg protocol.Message)

	// OnRoomChange is called from Run for every room snapshot, including the
	// final Deleted one.
	OnRoomChange func(snap models.RoomSnapshot)

	// ActionSink is called from Run for every recorded move.
	ActionSink ActionSink

	changes chan models.RoomSnapshot
	actions chan models.RoomAction
}

// NewRoomStore creates a store. maxRooms <= 0 means unlimited.
func NewRoomStore(cfg Config, maxRooms int, logger logrus.FieldLogger) *RoomStore {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RoomStore{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		maxRooms: maxRooms,
		rng:      cfg.newRand(),
		logger:   logger,
		changes:  make(chan models.RoomSnapshot, storeQueueSize),
		actions:  make(chan models.RoomAction, storeQueueSize),
	}
}

// SetPersister installs the snapshot store used by Run and LoadOrGet.
func (s *RoomStore) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// CreateRoom provisions a new waiting room. A private room without a code
// gets a generated one.
func (s *RoomStore) CreateRoom(gameType string, maxPlayers int, isPrivate bool, privateCode string) (*Room, error) {
	if gameType == "" || maxPlayers < MinPlayers || maxPlayers > MaxPlayers {
		return nil, fmt.Errorf("%w: game_type %q, max_players %d", ErrInvalidRoomConfig, gameType, maxPlayers)
	}

	s.mu.Lock()
	if s.maxRooms > 0 && len(s.rooms) >= s.maxRooms {
		s.mu.Unlock()
		return nil, ErrServerFull
	}
	if isPrivate && privateCode == "" {
		used := make(map[string]bool, len(s.rooms))
		for _, r := range s.rooms {
			if r.IsPrivate {
				used[r.PrivateCode] = true
			}
		}
		privateCode = generatePrivateCode(s.rng, used)
	}
	if !isPrivate {
		privateCode = ""
	}
	room := NewRoom(uuid.NewString(), gameType, maxPlayers, isPrivate, privateCode, s.cfg, s.logger)
	s.wire(room)
	s.rooms[room.ID] = room
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"room_id":     room.ID,
		"game_type":   gameType,
		"max_players": maxPlayers,
		"is_private":  isPrivate,
	}).Info("Room created")
	s.roomChanged(room.Snapshot())
	return room, nil
}

func (s *RoomStore) wire(room *Room) {
	room.SendFn = s.send
	room.OnChange = s.roomChanged
	room.OnAction = s.roomAction
	room.OnEmpty = s.removeRoom
}

// GetRoom returns a live room.
func (s *RoomStore) GetRoom(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// LoadOrGet returns the live room, or restores it from the persister when the
// process no longer holds it.
func (s *RoomStore) LoadOrGet(ctx context.Context, id string) (*Room, error) {
	s.mu.Lock()
	if r, ok := s.rooms[id]; ok {
		s.mu.Unlock()
		return r, nil
	}
	p := s.persister
	s.mu.Unlock()

	if p == nil {
		return nil, ErrRoomNotFound
	}
	snap, err := p.LoadRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", id, err)
	}
	if snap == nil {
		return nil, ErrRoomNotFound
	}

	restored := RestoreRoom(*snap, s.cfg, s.logger)
	s.wire(restored)

	s.mu.Lock()
	if r, ok := s.rooms[id]; ok {
		s.mu.Unlock()
		return r, nil
	}
	if s.maxRooms > 0 && len(s.rooms) >= s.maxRooms {
		s.mu.Unlock()
		return nil, ErrServerFull
	}
	s.rooms[id] = restored
	s.mu.Unlock()

	s.logger.WithField("room_id", id).Info("Room restored from snapshot")
	return restored, nil
}

// Leave removes userID from roomID.
func (s *RoomStore) Leave(roomID string, userID int) error {
	r, ok := s.GetRoom(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	return r.Leave(userID)
}

// DeleteRoom closes and forgets a room.
func (s *RoomStore) DeleteRoom(id string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
}

func (s *RoomStore) removeRoom(id string) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
	s.logger.WithField("room_id", id).Info("Room removed (empty)")
}

// Rooms returns the live rooms.
func (s *RoomStore) Rooms() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (s *RoomStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Load is the value reported to the lobby in status updates.
func (s *RoomStore) Load() float64 {
	return float64(s.Count())
}

// CloseAll closes every room. Used on shutdown.
func (s *RoomStore) CloseAll() {
	for _, r := range s.Rooms() {
		r.Close()
	}
}

func (s *RoomStore) send(userID int, msg protocol.Message) {
	if s.SendFn != nil {
		s.SendFn(userID, msg)
	}
}

// roomChanged queues a snapshot. Runs under the room lock, so it never blocks.
func (s *RoomStore) roomChanged(snap models.RoomSnapshot) {
	select {
	case s.changes <- snap:
	default:
		s.logger.WithField("room_id", snap.ID).Warn("Room change queue full; dropping snapshot")
	}
}

func (s *RoomStore) roomAction(a models.RoomAction) {
	select {
	case s.actions <- a:
	default:
		s.logger.WithField("room_id", a.RoomID).Warn("Room action queue full; dropping action")
	}
}

// Run drains queued snapshots and actions until ctx is cancelled.
func (s *RoomStore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-s.changes:
			s.handleChange(ctx, snap)
		case a := <-s.actions:
			s.handleAction(ctx, a)
		}
	}
}

func (s *RoomStore) handleChange(ctx context.Context, snap models.RoomSnapshot) {
	s.mu.Lock()
	p := s.persister
	s.mu.Unlock()

	if p != nil {
		pctx, cancel := context.WithTimeout(ctx, persistCallTimeout)
		var err error
		if snap.Deleted {
			err = p.DeleteRoom(pctx, snap.ID)
		} else {
			err = p.SaveRoom(pctx, snap)
		}
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("room_id", snap.ID).Warn("Failed to persist room snapshot")
		}
	}
	if s.OnRoomChange != nil {
		s.OnRoomChange(snap)
	}
}

func (s *RoomStore) handleAction(ctx context.Context, a models.RoomAction) {
	if s.ActionSink == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, persistCallTimeout)
	defer cancel()
	if err := s.ActionSink(actx, a); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"room_id":      a.RoomID,
			"action_index": a.ActionIndex,
		}).Warn("Failed to publish room action")
	}
}
