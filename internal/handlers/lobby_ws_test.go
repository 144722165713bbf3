package handlers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLobbyTestServer(t *testing.T) (*lobby.Service, *fakeRoomClient, *httptest.Server) {
	t.Helper()
	initAuth(t)
	client := newFakeRoomClient()
	svc := lobby.NewService(time.Minute, client, testLogger())
	ls := NewLobbyServer(svc, nil, testLogger())
	srv := httptest.NewServer(ls.WSHandler())
	t.Cleanup(srv.Close)
	return svc, client, srv
}

func registerServer(t *testing.T, svc *lobby.Service, id string, port int, load float64) {
	t.Helper()
	svc.Servers.Register(protocol.RegisterRequest{ServerID: id, IP: "10.0.0.1", Port: port, ControlPort: port + 1000, MaxRooms: 10}, "conn-"+id)
	require.NoError(t, svc.Servers.RecordStatusUpdate(id, lobby.ServerActive, load))
}

func TestLobbyMatchmakingHappyPath(t *testing.T) {
	svc, client, srv := newLobbyTestServer(t)
	registerServer(t, svc, "gs-busy", 8091, 5)
	registerServer(t, svc, "gs-idle", 8092, 2)

	c := dialWS(t, srv, LobbySubprotocol, "")
	ok := c.auth(token(t, 1, "alice"))
	assert.EqualValues(t, 1, ok["user_id"])
	assert.Equal(t, "alice", ok["username"])

	c.send(protocol.Message{"type": protocol.TypeMatchmakingJoin, "game_type": "uno", "size": 2})
	match := c.expect(protocol.TypeMatchmakingSuccess)
	assert.Equal(t, "room-1", match["room_id"])
	server := match["server"].(map[string]interface{})
	assert.Equal(t, "10.0.0.1", server["ip"])
	assert.EqualValues(t, 8092, server["port"])
	assert.Equal(t, []string{"gs-idle"}, client.created)

	summary, found := svc.Rooms.Get("room-1")
	require.True(t, found)
	assert.Equal(t, 1, summary.Occupancy())
}

func TestLobbyRequiresAuthAndRejectsUnknownTypes(t *testing.T) {
	_, _, srv := newLobbyTestServer(t)
	c := dialWS(t, srv, LobbySubprotocol, "")

	c.send(protocol.Message{"type": protocol.TypeMatchmakingJoin, "game_type": "uno", "size": 2})
	assert.Equal(t, "Authentication required", c.expect(protocol.TypeError)["message"])

	c.send(protocol.Message{"type": protocol.TypePing})
	c.expect(protocol.TypePong)

	c.auth(token(t, 2, "bob"))
	c.send(protocol.Message{"type": "dance"})
	assert.Equal(t, "Unknown message type: dance", c.expect(protocol.TypeError)["message"])

	c.send(protocol.Message{"type": protocol.TypeMatchmakingJoin, "game_type": "uno", "size": 2})
	assert.Equal(t, "No available servers", c.expect(protocol.TypeError)["message"])
}

func TestLobbyClosesAfterRepeatedAuthFailures(t *testing.T) {
	_, _, srv := newLobbyTestServer(t)
	c := dialWS(t, srv, LobbySubprotocol, "")

	for i := 0; i < maxAuthFailures; i++ {
		c.send(protocol.Message{"type": protocol.TypeAuth, "token": "garbage"})
		assert.Equal(t, "Invalid token", c.expect(protocol.TypeAuthError)["message"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg map[string]interface{}
	err := wsjson.Read(ctx, c.c, &msg)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(AuthFailuresError), websocket.CloseStatus(err))
}

func TestLobbyDisconnectReleasesReservation(t *testing.T) {
	svc, _, srv := newLobbyTestServer(t)
	registerServer(t, svc, "gs-1", 8091, 0)

	c := dialWS(t, srv, LobbySubprotocol, "?token="+token(t, 3, "carol"))
	c.expect(protocol.TypeAuthSuccess)
	c.send(protocol.Message{"type": protocol.TypeMatchmakingJoin, "game_type": "uno", "size": 4})
	roomID := c.expect(protocol.TypeMatchmakingSuccess)["room_id"].(string)

	c.send(protocol.Message{"type": protocol.TypeLeaveMatchmaking})
	c.expect(protocol.TypeLeaveMatchmakingSuccess)
	summary, _ := svc.Rooms.Get(roomID)
	assert.Equal(t, 0, summary.Occupancy())

	c.send(protocol.Message{"type": protocol.TypeMatchmakingJoin, "game_type": "uno", "size": 4})
	assert.Equal(t, roomID, c.expect(protocol.TypeMatchmakingSuccess)["room_id"], "first fit reuses the room")

	c.c.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool {
		s, _ := svc.Rooms.Get(roomID)
		return s.Occupancy() == 0 && svc.Sessions.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLobbyRejectsWrongSubprotocol(t *testing.T) {
	_, _, srv := newLobbyTestServer(t)
	c := dialWS(t, srv, "chat", "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}
