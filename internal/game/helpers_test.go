package game

import (
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Advance moves the clock forward and runs any timers that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// mockBroadcaster collects per-user messages instead of sending them over WS.
type mockBroadcaster struct {
	mu   sync.Mutex
	msgs map[int][]protocol.Message
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{msgs: make(map[int][]protocol.Message)}
}

func (mb *mockBroadcaster) send(userID int, msg protocol.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.msgs[userID] = append(mb.msgs[userID], msg)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.msgs = make(map[int][]protocol.Message)
}

func (mb *mockBroadcaster) count(userID int, msgType string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, m := range mb.msgs[userID] {
		if m.Type() == msgType {
			n++
		}
	}
	return n
}

func (mb *mockBroadcaster) last(userID int, msgType string) protocol.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	list := mb.msgs[userID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Type() == msgType {
			return list[i]
		}
	}
	return nil
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func testConfig(clock Clock) Config {
	return Config{
		HandSize:    7,
		TurnTimeout: 15 * time.Second,
		ResetDelay:  5 * time.Second,
		Clock:       clock,
		Seed:        1,
	}
}

var (
	alice = models.Identity{UserID: 1, Username: "alice"}
	bob   = models.Identity{UserID: 2, Username: "bob"}
	carol = models.Identity{UserID: 3, Username: "carol"}
)

// newTestRoom returns a waiting room wired to a mock broadcaster.
func newTestRoom(t *testing.T, maxPlayers int) (*Room, *mockBroadcaster, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	mb := newMockBroadcaster()
	r := NewRoom("room-1", "uno", maxPlayers, false, "", testConfig(clock), testLogger())
	r.SendFn = mb.send
	return r, mb, clock
}

// startedRoom seats the given players, readies them all and returns the
// playing room with the broadcaster cleared.
func startedRoom(t *testing.T, players ...models.Identity) (*Room, *mockBroadcaster, *fakeClock) {
	t.Helper()
	r, mb, clock := newTestRoom(t, 4)
	for _, p := range players {
		require.NoError(t, r.Join(p, ""))
	}
	for _, p := range players {
		require.NoError(t, r.SetReady(p.UserID, true))
	}
	require.Equal(t, models.StatusPlaying, r.Snapshot().Status)
	mb.clear()
	return r, mb, clock
}

// setTable overrides hands and the face-up card of a running game.
func setTable(r *Room, last models.Card, hands ...[]models.Card) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for i, h := range hands {
		r.Players[i].Hand = h
	}
	r.State.LastCard = &last
	r.State.PlayArea = []models.Card{last}
}

func card(rank, suit string) models.Card {
	return models.Card{Rank: rank, Suit: suit}
}

func intPtr(i int) *int { return &i }
