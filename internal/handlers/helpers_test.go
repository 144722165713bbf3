package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/cardroom/internal/auth"
	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func token(t *testing.T, userID int, username string) string {
	t.Helper()
	tok, err := auth.CreateJWT(userID, username)
	require.NoError(t, err)
	return tok
}

func initAuth(t *testing.T) {
	t.Helper()
	t.Setenv("TOKEN_EXPIRE_TIME", "")
	require.NoError(t, auth.Init())
}

// wsClient is a test client on one of the WebSocket endpoints.
type wsClient struct {
	t *testing.T
	c *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server, subprotocol, query string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{t: t, c: c}
}

func (w *wsClient) send(msg protocol.Message) {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(w.t, wsjson.Write(ctx, w.c, msg))
}

// expect reads until a message of msgType arrives and returns it.
func (w *wsClient) expect(msgType string) map[string]interface{} {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var msg map[string]interface{}
		require.NoError(w.t, wsjson.Read(ctx, w.c, &msg), "waiting for %s", msgType)
		if msg["type"] == msgType {
			return msg
		}
	}
}

func (w *wsClient) auth(tok string) map[string]interface{} {
	w.send(protocol.Message{"type": protocol.TypeAuth, "token": tok})
	return w.expect(protocol.TypeAuthSuccess)
}

// fakeRoomClient answers lobby room commands from memory.
type fakeRoomClient struct {
	mu      sync.Mutex
	created []string
	rooms   map[string]protocol.RoomStatusReport
	n       int
}

func newFakeRoomClient() *fakeRoomClient {
	return &fakeRoomClient{rooms: make(map[string]protocol.RoomStatusReport)}
}

func (f *fakeRoomClient) CreateRoom(_ context.Context, server lobby.GameServerEntry, req protocol.CreateRoomRequest) (protocol.RoomStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	rep := protocol.RoomStatusReport{
		ServerID:   server.ServerID,
		RoomID:     fmt.Sprintf("room-%d", f.n),
		GameType:   req.GameType,
		Status:     string(models.StatusWaiting),
		MaxPlayers: req.MaxPlayers,
		IsPrivate:  req.IsPrivate,
	}
	f.created = append(f.created, server.ServerID)
	f.rooms[rep.RoomID] = rep
	return rep, nil
}

func (f *fakeRoomClient) RoomInfo(_ context.Context, _ lobby.GameServerEntry, roomID string) (protocol.RoomStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.rooms[roomID]
	if !ok {
		return rep, &peer.RemoteError{Message: "Room not found"}
	}
	return rep, nil
}

// recorder is a session.Sender that keeps what it was sent.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Send(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type()
	}
	return out
}

// servePeer runs a framed TCP server on a loopback port.
func servePeer(t *testing.T, newHandler func(*peer.ServerConn) peer.Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &peer.Server{NewHandler: newHandler, Logger: testLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func testRoomStore(maxRooms int) *game.RoomStore {
	cfg := game.DefaultConfig()
	cfg.TickInterval = 0
	cfg.ResetDelay = time.Hour
	return game.NewRoomStore(cfg, maxRooms, testLogger())
}

func fastPeerOptions() peer.Options {
	return peer.Options{ConnectTimeout: time.Second, ResponseTimeout: time.Second}
}
