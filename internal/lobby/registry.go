// Package lobby holds the Lobby's view of the world: the game servers that
// registered with it, a denormalized index of the rooms they host, and the
// matchmaker that routes players between the two.
package lobby

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jason-s-yu/cardroom/internal/protocol"
)

var (
	// ErrUnknownServer is returned for a ping or status update from a server
	// that never registered (or was pruned).
	ErrUnknownServer = errors.New("unknown server")
	// ErrNoAvailableServers means no live, active game server can host a room.
	ErrNoAvailableServers = errors.New("no available game servers")
	// ErrInvalidRequest rejects a matchmaking request with bad parameters.
	ErrInvalidRequest = errors.New("invalid matchmaking request")
	// ErrRoomNotIndexed is returned when the index holds no summary for a room.
	ErrRoomNotIndexed = errors.New("room not indexed")
	// ErrInvalidStatus rejects a status_update carrying an unknown status.
	ErrInvalidStatus = errors.New("invalid server status")
)

// Game server availability values carried in status_update.
const (
	ServerActive   = "active"
	ServerInactive = "inactive"
)

// GameServerEntry is one registered game server.
type GameServerEntry struct {
	ServerID    string
	IP          string
	Port        int
	ControlPort int
	MaxRooms    int
	Status      string
	Load        float64
	LastPing    time.Time
	LastUpdate  time.Time

	// ConnID identifies the registry connection the server registered on.
	ConnID string
}

// ControlAddr is where the lobby sends room commands.
func (e GameServerEntry) ControlAddr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.ControlPort))
}

// Info is the client-facing address handed out by matchmaking.
func (e GameServerEntry) Info() protocol.ServerInfo {
	return protocol.ServerInfo{ServerID: e.ServerID, IP: e.IP, Port: e.Port}
}

// Registry is the lobby's table of game servers. Iteration follows the order
// in which servers were first seen.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*GameServerEntry
	order      []string
	staleAfter time.Duration

	// Now is overridable for tests.
	Now func() time.Time
}

// NewRegistry creates a registry that treats entries older than staleAfter as dead.
func NewRegistry(staleAfter time.Duration) *Registry {
	return &Registry{
		entries:    make(map[string]*GameServerEntry),
		staleAfter: staleAfter,
		Now:        time.Now,
	}
}

// Register upserts a server. Re-registration resets its load and status.
func (r *Registry) Register(req protocol.RegisterRequest, connID string) GameServerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	e, ok := r.entries[req.ServerID]
	if !ok {
		e = &GameServerEntry{ServerID: req.ServerID}
		r.entries[req.ServerID] = e
		r.order = append(r.order, req.ServerID)
	}
	e.IP = req.IP
	e.Port = req.Port
	e.ControlPort = req.ControlPort
	e.MaxRooms = req.MaxRooms
	e.Status = ServerActive
	e.Load = 0
	e.LastPing = now
	e.LastUpdate = now
	e.ConnID = connID
	return *e
}

// RecordPing refreshes a server's liveness.
func (r *Registry) RecordPing(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serverID]
	if !ok {
		return ErrUnknownServer
	}
	e.LastPing = r.Now()
	return nil
}

// RecordStatusUpdate stores a server's reported status and load. An empty
// status keeps the current one. Any message from the server also counts as a
// liveness signal.
func (r *Registry) RecordStatusUpdate(serverID, status string, load float64) error {
	switch status {
	case "", ServerActive, ServerInactive:
	default:
		return ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serverID]
	if !ok {
		return ErrUnknownServer
	}
	now := r.Now()
	if status != "" {
		e.Status = status
	}
	e.Load = load
	e.LastUpdate = now
	e.LastPing = now
	return nil
}

// BumpLoad adjusts a server's load between status updates, so back-to-back
// room creations spread across servers.
func (r *Registry) BumpLoad(serverID string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[serverID]; ok {
		e.Load += delta
	}
}

// Get returns a copy of a server entry.
func (r *Registry) Get(serverID string) (GameServerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serverID]
	if !ok {
		return GameServerEntry{}, false
	}
	return *e, true
}

// Remove drops a server.
func (r *Registry) Remove(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeUnsafe(serverID)
}

// RemoveIfOwner drops a server only if it is still registered through connID.
// A server that reconnected and re-registered elsewhere is left alone.
func (r *Registry) RemoveIfOwner(serverID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serverID]
	if !ok || e.ConnID != connID {
		return false
	}
	return r.removeUnsafe(serverID)
}

func (r *Registry) removeUnsafe(serverID string) bool {
	if _, ok := r.entries[serverID]; !ok {
		return false
	}
	delete(r.entries, serverID)
	for i, id := range r.order {
		if id == serverID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) aliveUnsafe(e *GameServerEntry, now time.Time) bool {
	return now.Sub(e.LastPing) <= r.staleAfter
}

// Alive reports whether a server is registered and not stale.
func (r *Registry) Alive(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serverID]
	return ok && r.aliveUnsafe(e, r.Now())
}

// Active returns live servers with status active, in first-seen order.
func (r *Registry) Active() []GameServerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Now()
	var out []GameServerEntry
	for _, id := range r.order {
		e := r.entries[id]
		if e.Status == ServerActive && r.aliveUnsafe(e, now) {
			out = append(out, *e)
		}
	}
	return out
}

// LeastLoaded picks the live active server with the lowest load that still has
// room capacity. Ties go to the server seen first.
func (r *Registry) LeastLoaded() (GameServerEntry, bool) {
	var best GameServerEntry
	found := false
	for _, e := range r.Active() {
		if e.MaxRooms > 0 && e.Load >= float64(e.MaxRooms) {
			continue
		}
		if !found || e.Load < best.Load {
			best = e
			found = true
		}
	}
	return best, found
}

// Sweep removes stale servers and returns their ids.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Now()
	var stale []string
	for _, id := range r.order {
		if !r.aliveUnsafe(r.entries[id], now) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.removeUnsafe(id)
	}
	return stale
}

// Count returns the number of registered servers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
