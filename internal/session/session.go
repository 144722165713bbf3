// Package session tracks client connections, their authenticated identity
// and the room each one currently sits in.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned for an unknown connection id.
var ErrSessionNotFound = errors.New("session not found")

// Sender delivers a message to one connection without blocking.
type Sender interface {
	Send(msg protocol.Message)
}

// RoomLeaver removes a user from a room. The game server passes its room
// store; the lobby passes its room index.
type RoomLeaver interface {
	Leave(roomID string, userID int) error
}

// Session is one client connection.
type Session struct {
	ConnID        string
	Authenticated bool
	UserID        int
	Username      string
	RoomID        string
	LastActivity  time.Time
	Conn          Sender
}

// Registry maps connection ids to sessions and users to their connections.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]*Session
	byUser map[int]map[string]*Session
	leaver RoomLeaver
	logger logrus.FieldLogger

	// Now is overridable for tests.
	Now func() time.Time
}

// NewRegistry creates an empty registry. leaver may be nil.
func NewRegistry(leaver RoomLeaver, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		byConn: make(map[string]*Session),
		byUser: make(map[int]map[string]*Session),
		leaver: leaver,
		logger: logger,
		Now:    time.Now,
	}
}

// Create registers a new unauthenticated connection.
func (r *Registry) Create(connID string, conn Sender) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Session{ConnID: connID, Conn: conn, LastActivity: r.Now()}
	r.byConn[connID] = s
	return *s
}

// Authenticate binds an identity to a connection. Repeating it with the same
// user is a no-op; switching users first leaves the old user's room.
func (r *Registry) Authenticate(connID string, id models.Identity) (Session, error) {
	r.mu.Lock()
	s, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	var staleRoom string
	var staleUser int
	if s.Authenticated && s.UserID != id.UserID {
		staleRoom, staleUser = s.RoomID, s.UserID
		r.unindexUnsafe(s)
		s.RoomID = ""
	}
	s.Authenticated = true
	s.UserID = id.UserID
	s.Username = id.Username
	s.LastActivity = r.Now()
	if r.byUser[id.UserID] == nil {
		r.byUser[id.UserID] = make(map[string]*Session)
	}
	r.byUser[id.UserID][connID] = s
	out := *s
	r.mu.Unlock()

	if staleRoom != "" {
		r.leaveRoom(staleRoom, staleUser)
	}
	return out, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetRoom records the room a connection sits in. An empty roomID clears it.
func (r *Registry) SetRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return ErrSessionNotFound
	}
	s.RoomID = roomID
	return nil
}

// ClearRoom clears the room of every session that sits in roomID and returns
// the affected sessions.
func (r *Registry) ClearRoom(roomID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.byConn {
		if s.RoomID == roomID {
			s.RoomID = ""
			out = append(out, *s)
		}
	}
	return out
}

// Touch refreshes a connection's activity time.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConn[connID]; ok {
		s.LastActivity = r.Now()
	}
}

// Remove deletes a connection. If it sat in a room and no other connection of
// the same user sits there, the player leaves it before Remove returns.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	s, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	r.unindexUnsafe(s)
	roomID, userID := s.RoomID, s.UserID
	authed := s.Authenticated
	stillSeated := false
	if authed && roomID != "" {
		for _, other := range r.byUser[userID] {
			if other.RoomID == roomID {
				stillSeated = true
				break
			}
		}
	}
	r.mu.Unlock()

	if authed && roomID != "" && !stillSeated {
		r.leaveRoom(roomID, userID)
	}
}

func (r *Registry) leaveRoom(roomID string, userID int) {
	if r.leaver == nil {
		return
	}
	if err := r.leaver.Leave(roomID, userID); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Debug("Leave on session removal failed")
	}
}

func (r *Registry) unindexUnsafe(s *Session) {
	if !s.Authenticated {
		return
	}
	conns := r.byUser[s.UserID]
	delete(conns, s.ConnID)
	if len(conns) == 0 {
		delete(r.byUser, s.UserID)
	}
}

// SendToUser delivers msg to every connection of userID and reports whether
// any existed.
func (r *Registry) SendToUser(userID int, msg protocol.Message) bool {
	r.mu.Lock()
	conns := make([]Sender, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		if s.Conn != nil {
			conns = append(conns, s.Conn)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Send(msg)
	}
	return len(conns) > 0
}

// SessionsInRoom lists the sessions that sit in roomID.
func (r *Registry) SessionsInRoom(roomID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.byConn {
		if s.RoomID == roomID {
			out = append(out, *s)
		}
	}
	return out
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
