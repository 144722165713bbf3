package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *captureSender) Send(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func TestSweepCascadesServerDisconnected(t *testing.T) {
	svc, _, tt := newTestService(t)
	register(svc.Servers, "gs-a")
	register(svc.Servers, "gs-b")

	conn := &captureSender{}
	svc.Sessions.Create("c1", conn)
	_, err := svc.Sessions.Authenticate("c1", models.Identity{UserID: 1, Username: "a"})
	require.NoError(t, err)

	m, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.NoError(t, err)
	require.Equal(t, "gs-a", m.Server.ServerID)
	require.NoError(t, svc.Sessions.SetRoom("c1", m.RoomID))

	tt.Advance(45 * time.Second)
	require.NoError(t, svc.Servers.RecordPing("gs-b"))
	tt.Advance(20 * time.Second)

	assert.Equal(t, []string{"gs-a"}, svc.Sweep())

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, protocol.TypeServerDisconnected, conn.msgs[0].Type())
	assert.Equal(t, m.RoomID, conn.msgs[0]["room_id"])

	s, _ := svc.Sessions.Get("c1")
	assert.Empty(t, s.RoomID)
	_, ok := svc.Rooms.Get(m.RoomID)
	assert.False(t, ok)
}

func TestSessionRemovalReleasesReservation(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(svc.Servers, "gs-a")
	svc.Sessions.Create("c1", &captureSender{})
	_, err := svc.Sessions.Authenticate("c1", models.Identity{UserID: 1, Username: "a"})
	require.NoError(t, err)

	m, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Sessions.SetRoom("c1", m.RoomID))

	svc.Sessions.Remove("c1")
	s, ok := svc.Rooms.Get(m.RoomID)
	require.True(t, ok)
	assert.Empty(t, s.Reserved)
}

func TestRoomStatusUpsert(t *testing.T) {
	ix := NewRoomIndex()
	ix.Upsert(protocol.RoomStatusReport{ServerID: "gs-a", RoomID: "r1", GameType: "uno", Status: "waiting", PlayerCount: 1, MaxPlayers: 2})
	ix.Upsert(protocol.RoomStatusReport{ServerID: "gs-a", RoomID: "r2", GameType: "uno", Status: "waiting", MaxPlayers: 2})

	s, ok := ix.ReserveJoinable("uno", 2, false, "", 9, nil)
	require.True(t, ok)
	assert.Equal(t, "r1", s.RoomID, "first-fit follows insertion order")

	_, ok = ix.ReserveJoinable("uno", 2, false, "", 9, map[string]bool{"r1": true, "r2": true})
	assert.False(t, ok)

	ix.Upsert(protocol.RoomStatusReport{RoomID: "r1", Deleted: true})
	_, ok = ix.Get("r1")
	assert.False(t, ok)
	assert.ErrorIs(t, ix.Leave("r1", 9), ErrRoomNotIndexed)
}
