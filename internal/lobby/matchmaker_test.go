package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGameServers records room commands and answers them from memory.
type fakeGameServers struct {
	mu        sync.Mutex
	created   []string // server ids
	rooms     map[string]protocol.RoomStatusReport
	createErr error
	next      int
}

func newFakeGameServers() *fakeGameServers {
	return &fakeGameServers{rooms: make(map[string]protocol.RoomStatusReport)}
}

func (f *fakeGameServers) CreateRoom(_ context.Context, server GameServerEntry, req protocol.CreateRoomRequest) (protocol.RoomStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return protocol.RoomStatusReport{}, f.createErr
	}
	f.next++
	rep := protocol.RoomStatusReport{
		ServerID:    server.ServerID,
		RoomID:      fmt.Sprintf("room-%d", f.next),
		GameType:    req.GameType,
		Status:      string(models.StatusWaiting),
		MaxPlayers:  req.MaxPlayers,
		IsPrivate:   req.IsPrivate,
		PrivateCode: req.PrivateCode,
	}
	f.created = append(f.created, server.ServerID)
	f.rooms[rep.RoomID] = rep
	return rep, nil
}

func (f *fakeGameServers) RoomInfo(_ context.Context, _ GameServerEntry, roomID string) (protocol.RoomStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.rooms[roomID]
	if !ok {
		return protocol.RoomStatusReport{}, errors.New("Room not found")
	}
	return rep, nil
}

func newTestService(t *testing.T) (*Service, *fakeGameServers, *testTime) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	gs := newFakeGameServers()
	svc := NewService(60*time.Second, gs, logger)
	tt := &testTime{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc.Servers.Now = tt.Now
	return svc, gs, tt
}

func TestMatchmakingCreatesOnLeastLoadedServer(t *testing.T) {
	svc, gs, _ := newTestService(t)
	register(svc.Servers, "gs-a")
	register(svc.Servers, "gs-b")
	require.NoError(t, svc.Servers.RecordStatusUpdate("gs-a", ServerActive, 5))
	require.NoError(t, svc.Servers.RecordStatusUpdate("gs-b", ServerActive, 2))

	m, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.NoError(t, err)
	assert.True(t, m.Created)
	assert.Equal(t, "gs-b", m.Server.ServerID)
	assert.Equal(t, []string{"gs-b"}, gs.created)

	e, _ := svc.Servers.Get("gs-b")
	assert.Equal(t, 3.0, e.Load)

	// the second player is routed into the same room
	m2, err := svc.Matchmaker.Join(context.Background(), 2, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.NoError(t, err)
	assert.False(t, m2.Created)
	assert.Equal(t, m.RoomID, m2.RoomID)

	// the room is now fully reserved, a third player gets a fresh room
	m3, err := svc.Matchmaker.Join(context.Background(), 3, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.NoError(t, err)
	assert.True(t, m3.Created)
	assert.NotEqual(t, m.RoomID, m3.RoomID)
}

func TestMatchmakingNoServers(t *testing.T) {
	svc, _, tt := newTestService(t)
	_, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	assert.ErrorIs(t, err, ErrNoAvailableServers)

	register(svc.Servers, "gs-a")
	tt.Advance(61 * time.Second)
	_, err = svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	assert.ErrorIs(t, err, ErrNoAvailableServers)
}

func TestMatchmakingRejectsBadRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, req := range []protocol.MatchmakingJoinRequest{
		{GameType: "", Size: 2},
		{GameType: "uno", Size: 1},
		{GameType: "uno", Size: 11},
	} {
		_, err := svc.Matchmaker.Join(context.Background(), 1, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestMatchmakingCreateFailureIsSurfaced(t *testing.T) {
	svc, gs, _ := newTestService(t)
	register(svc.Servers, "gs-a")
	gs.createErr = errors.New("upstream timeout")

	_, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, gs.createErr)
	assert.Empty(t, svc.Rooms.Rooms())
}

func TestMatchmakingPrivateRooms(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(svc.Servers, "gs-a")

	priv, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 4, IsPrivate: true, PrivateCode: "ABCD"})
	require.NoError(t, err)

	pub, err := svc.Matchmaker.Join(context.Background(), 2, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 4})
	require.NoError(t, err)
	assert.NotEqual(t, priv.RoomID, pub.RoomID)

	wrong, err := svc.Matchmaker.Join(context.Background(), 3, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 4, IsPrivate: true, PrivateCode: "ZZZZ"})
	require.NoError(t, err)
	assert.NotEqual(t, priv.RoomID, wrong.RoomID)

	right, err := svc.Matchmaker.Join(context.Background(), 4, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 4, IsPrivate: true, PrivateCode: "ABCD"})
	require.NoError(t, err)
	assert.Equal(t, priv.RoomID, right.RoomID)
}

func TestMatchmakingSkipsRoomsThatStarted(t *testing.T) {
	svc, gs, _ := newTestService(t)
	register(svc.Servers, "gs-a")
	m, err := svc.Matchmaker.Join(context.Background(), 1, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 3})
	require.NoError(t, err)

	// the game server knows better: the room is already playing
	gs.mu.Lock()
	rep := gs.rooms[m.RoomID]
	rep.Status = string(models.StatusPlaying)
	rep.PlayerCount = 2
	gs.rooms[m.RoomID] = rep
	gs.mu.Unlock()

	m2, err := svc.Matchmaker.Join(context.Background(), 2, protocol.MatchmakingJoinRequest{GameType: "uno", Size: 3})
	require.NoError(t, err)
	assert.True(t, m2.Created)

	s, ok := svc.Rooms.Get(m.RoomID)
	require.True(t, ok)
	assert.Equal(t, models.StatusPlaying, s.Status)
	assert.False(t, s.Reserved[2])
}
