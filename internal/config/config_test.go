package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLobbyDefaults(t *testing.T) {
	t.Setenv("LOBBY_WS_ADDR", "")
	t.Setenv("SERVER_STALE_AFTER", "")
	cfg := LoadLobby()
	assert.Equal(t, ":8080", cfg.WSAddr)
	assert.Equal(t, ":9500", cfg.TCPAddr)
	assert.Equal(t, 60*time.Second, cfg.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}

func TestGameServerOverrides(t *testing.T) {
	t.Setenv("SERVER_ID", "gs-test")
	t.Setenv("GS_MAX_ROOMS", "3")
	t.Setenv("TURN_TIMEOUT", "20")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("HAND_SIZE", "not-a-number")

	cfg := LoadGameServer()
	assert.Equal(t, "gs-test", cfg.ServerID)
	assert.Equal(t, 3, cfg.MaxRooms)
	assert.Equal(t, 20*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 7, cfg.HandSize)
}

func TestGeneratedServerID(t *testing.T) {
	t.Setenv("SERVER_ID", "")
	a, b := LoadGameServer(), LoadGameServer()
	assert.NotEmpty(t, a.ServerID)
	assert.NotEqual(t, a.ServerID, b.ServerID)
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	logger := NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	t.Setenv("LOG_LEVEL", "loud")
	assert.Equal(t, logrus.InfoLevel, NewLogger().GetLevel())
}
