package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGameTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	initAuth(t)
	rooms := testRoomStore(0)
	t.Cleanup(rooms.CloseAll)
	gs := NewGameServer("gs-test", rooms, nil, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gs.WSHandler())
	mux.HandleFunc("/rooms", gs.RoomsHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return gs, srv
}

func TestGameRoomRejectsJoinWhenFull(t *testing.T) {
	gs, srv := newGameTestServer(t)
	room, err := gs.Rooms.CreateRoom("uno", 2, false, "")
	require.NoError(t, err)

	join := protocol.Message{"type": protocol.TypeJoinRoom, "room_id": room.ID}
	for i, name := range []string{"alice", "bob"} {
		c := dialWS(t, srv, GameSubprotocol, "?token="+token(t, i+1, name))
		c.expect(protocol.TypeAuthSuccess)
		c.send(join)
		ok := c.expect(protocol.TypeJoinRoomSuccess)
		assert.Equal(t, room.ID, ok["room_id"])
	}

	third := dialWS(t, srv, GameSubprotocol, "?token="+token(t, 3, "carol"))
	third.expect(protocol.TypeAuthSuccess)
	third.send(join)
	assert.Equal(t, "Room is full", third.expect(protocol.TypeError)["message"])
	assert.Equal(t, 2, room.PlayerCount())
	assert.False(t, room.HasPlayer(3))
}

func TestGameReadyStartsAndEnforcesTurns(t *testing.T) {
	gs, srv := newGameTestServer(t)

	alice := dialWS(t, srv, GameSubprotocol, "")
	alice.auth(token(t, 1, "alice"))
	alice.send(protocol.Message{"type": protocol.TypeCreateRoom, "game_type": "uno", "max_players": 2})
	roomID := alice.expect(protocol.TypeCreateRoomSuccess)["room_id"].(string)
	alice.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": roomID})
	alice.expect(protocol.TypeJoinRoomSuccess)

	bob := dialWS(t, srv, GameSubprotocol, "")
	bob.auth(token(t, 2, "bob"))
	bob.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": roomID})
	bob.expect(protocol.TypeJoinRoomSuccess)
	joined := alice.expect(protocol.TypePlayerJoined)
	assert.EqualValues(t, 2, joined["user_id"])

	alice.send(protocol.Message{"type": protocol.TypeSetReady, "ready": true})
	bob.expect(protocol.TypePlayerReady)
	bob.send(protocol.Message{"type": protocol.TypeSetReady, "ready": true})

	started := bob.expect(protocol.TypeGameStarted)
	assert.EqualValues(t, 1, started["current_player_id"])
	alice.expect(protocol.TypeGameStarted)

	bob.send(protocol.Message{"type": protocol.TypeGameAction, "action_type": protocol.ActionDrawCard})
	assert.Equal(t, "Not your turn", bob.expect(protocol.TypeError)["message"])

	alice.send(protocol.Message{"type": protocol.TypeGameAction, "action_type": protocol.ActionDrawCard})
	drawn := bob.expect(protocol.TypeCardDrawn)
	assert.EqualValues(t, 1, drawn["player_id"])
	assert.EqualValues(t, 2, drawn["next_player_id"])

	bob.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": roomID})
	bob.expect(protocol.TypeJoinRoomSuccess)
	bob.send(protocol.Message{"type": protocol.TypeGameAction, "action_type": "juggle"})
	assert.Equal(t, "Unknown action type", bob.expect(protocol.TypeError)["message"])

	_, ok := gs.Rooms.GetRoom(roomID)
	assert.True(t, ok)
}

func TestGameRequiresAuthAndRoom(t *testing.T) {
	_, srv := newGameTestServer(t)
	c := dialWS(t, srv, GameSubprotocol, "")

	c.send(protocol.Message{"type": protocol.TypeSetReady, "ready": true})
	assert.Equal(t, "Authentication required", c.expect(protocol.TypeError)["message"])

	c.auth(token(t, 9, "ivy"))
	c.send(protocol.Message{"type": protocol.TypeSetReady, "ready": true})
	assert.Equal(t, "Not in a room", c.expect(protocol.TypeError)["message"])

	c.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": "missing"})
	assert.Equal(t, "Room not found", c.expect(protocol.TypeError)["message"])

	c.send(protocol.Message{"type": protocol.TypeCreateRoom, "game_type": "uno", "max_players": 40})
	assert.Equal(t, "Invalid room configuration", c.expect(protocol.TypeError)["message"])

	c.send(protocol.Message{"no_type": true})
	msg := c.expect(protocol.TypeError)["message"].(string)
	assert.Contains(t, msg, "Invalid message")
}

func TestGameLeaveRoomAndDisconnect(t *testing.T) {
	gs, srv := newGameTestServer(t)
	room, err := gs.Rooms.CreateRoom("uno", 4, false, "")
	require.NoError(t, err)

	a := dialWS(t, srv, GameSubprotocol, "?token="+token(t, 1, "alice"))
	a.expect(protocol.TypeAuthSuccess)
	a.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": room.ID})
	a.expect(protocol.TypeJoinRoomSuccess)

	b := dialWS(t, srv, GameSubprotocol, "?token="+token(t, 2, "bob"))
	b.expect(protocol.TypeAuthSuccess)
	b.send(protocol.Message{"type": protocol.TypeJoinRoom, "room_id": room.ID})
	b.expect(protocol.TypeJoinRoomSuccess)

	b.send(protocol.Message{"type": protocol.TypeLeaveRoom})
	assert.Equal(t, room.ID, b.expect(protocol.TypeLeaveRoomSuccess)["room_id"])
	a.expect(protocol.TypePlayerLeft)
	assert.Equal(t, 1, room.PlayerCount())

	a.c.CloseNow()
	assert.Eventually(t, func() bool {
		_, ok := gs.Rooms.GetRoom(room.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "an emptied room is removed")
}

func TestRoomsHandlerListsPublicRooms(t *testing.T) {
	gs, srv := newGameTestServer(t)
	public, err := gs.Rooms.CreateRoom("uno", 2, false, "")
	require.NoError(t, err)
	_, err = gs.Rooms.CreateRoom("uno", 2, true, "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ServerID string                   `json:"server_id"`
		Rooms    []map[string]interface{} `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "gs-test", body.ServerID)
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, public.ID, body.Rooms[0]["room_id"])

	post, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestStatusReportFromSnapshot(t *testing.T) {
	rooms := testRoomStore(0)
	room, err := rooms.CreateRoom("uno", 3, true, "ABCD")
	require.NoError(t, err)
	defer room.Close()

	rep := StatusReport("gs-1", room.Snapshot())
	assert.Equal(t, "gs-1", rep.ServerID)
	assert.Equal(t, room.ID, rep.RoomID)
	assert.Equal(t, 3, rep.MaxPlayers)
	assert.True(t, rep.IsPrivate)
	assert.Equal(t, "ABCD", rep.PrivateCode)

	msg := reportMessage(protocol.TypeRoomStatus, rep)
	assert.Equal(t, protocol.TypeRoomStatus, msg.Type())
	assert.Equal(t, "ABCD", msg["private_code"])
	assert.NotContains(t, msg, "deleted")
}
