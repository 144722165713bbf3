// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Lobby is the configuration of the lobby process.
type Lobby struct {
	WSAddr          string
	TCPAddr         string
	StaleAfter      time.Duration
	SweepInterval   time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	AuthPublicKey   string // hex ed25519; empty means ephemeral keys
	AuthKeySeed     string
	RateLimit       int
}

// GameServer is the configuration of a game server process.
type GameServer struct {
	ServerID        string
	PublicIP        string
	WSAddr          string
	TCPAddr         string
	MaxRooms        int
	LobbyAddr       string
	PingInterval    time.Duration
	StatusInterval  time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	TurnTimeout     time.Duration
	TickInterval    time.Duration
	HandSize        int
	ResetDelay      time.Duration
	AuthPublicKey   string
	AuthKeySeed     string
	RateLimit       int
	DatabaseURL     string
	RedisAddr       string
	RedisDB         int
	SnapshotTTL     time.Duration
}

// Historian is the configuration of the action-history drain.
type Historian struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	QueueName   string
	BatchSize   int
	FlushDelay  time.Duration
	Inactivity  time.Duration

	// SnapshotRetention bounds how long an untouched room snapshot is kept.
	SnapshotRetention time.Duration
}

// LoadLobby reads the lobby configuration from the environment.
func LoadLobby() Lobby {
	return Lobby{
		WSAddr:          getEnv("LOBBY_WS_ADDR", ":8080"),
		TCPAddr:         getEnv("LOBBY_TCP_ADDR", ":9500"),
		StaleAfter:      getEnvDuration("SERVER_STALE_AFTER", 60*time.Second),
		SweepInterval:   getEnvDuration("SERVER_SWEEP_INTERVAL", 30*time.Second),
		ConnectTimeout:  getEnvDuration("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		ResponseTimeout: getEnvDuration("UPSTREAM_RESPONSE_TIMEOUT", 5*time.Second),
		AuthPublicKey:   os.Getenv("AUTH_PUBLIC_KEY"),
		AuthKeySeed:     os.Getenv("AUTH_KEY_SEED"),
		RateLimit:       getEnvInt("CLIENT_RATE_LIMIT", 20),
	}
}

// LoadGameServer reads the game server configuration from the environment.
func LoadGameServer() GameServer {
	serverID := os.Getenv("SERVER_ID")
	if serverID == "" {
		serverID = "gs-" + uuid.NewString()[:8]
	}
	return GameServer{
		ServerID:        serverID,
		PublicIP:        getEnv("GS_PUBLIC_IP", "127.0.0.1"),
		WSAddr:          getEnv("GS_WS_ADDR", ":8090"),
		TCPAddr:         getEnv("GS_TCP_ADDR", ":9600"),
		MaxRooms:        getEnvInt("GS_MAX_ROOMS", 50),
		LobbyAddr:       getEnv("LOBBY_ADDR", "127.0.0.1:9500"),
		PingInterval:    getEnvDuration("PING_INTERVAL", 10*time.Second),
		StatusInterval:  getEnvDuration("STATUS_INTERVAL", 15*time.Second),
		ConnectTimeout:  getEnvDuration("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		ResponseTimeout: getEnvDuration("UPSTREAM_RESPONSE_TIMEOUT", 5*time.Second),
		TurnTimeout:     getEnvDuration("TURN_TIMEOUT", 15*time.Second),
		TickInterval:    getEnvDuration("TICK_INTERVAL", 500*time.Millisecond),
		HandSize:        getEnvInt("HAND_SIZE", 7),
		ResetDelay:      getEnvDuration("RESET_DELAY", 5*time.Second),
		AuthPublicKey:   os.Getenv("AUTH_PUBLIC_KEY"),
		AuthKeySeed:     os.Getenv("AUTH_KEY_SEED"),
		RateLimit:       getEnvInt("CLIENT_RATE_LIMIT", 20),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		SnapshotTTL:     getEnvDuration("SNAPSHOT_CACHE_TTL", time.Hour),
	}
}

// LoadHistorian reads the historian configuration from the environment.
func LoadHistorian() Historian {
	return Historian{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		QueueName:   getEnv("HISTORIAN_QUEUE_NAME", "room_actions"),
		BatchSize:   getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		FlushDelay:  getEnvDuration("HISTORIAN_FLUSH_DELAY", 500*time.Millisecond),
		Inactivity:  getEnvDuration("ROOM_INACTIVITY_TIMEOUT", 10*time.Minute),

		SnapshotRetention: getEnvDuration("SNAPSHOT_RETENTION", 24*time.Hour),
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go duration strings ("15s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
