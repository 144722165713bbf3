// cmd/gameserver/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/cardroom/internal/auth"
	"github.com/jason-s-yu/cardroom/internal/cache"
	"github.com/jason-s-yu/cardroom/internal/config"
	"github.com/jason-s-yu/cardroom/internal/database"
	"github.com/jason-s-yu/cardroom/internal/game"
	"github.com/jason-s-yu/cardroom/internal/handlers"
	"github.com/jason-s-yu/cardroom/internal/middleware"
	"github.com/jason-s-yu/cardroom/internal/peer"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadGameServer()
	logger := config.NewLogger()
	log := logger.WithFields(logrus.Fields{"component": "gameserver", "server_id": cfg.ServerID})

	if err := auth.InitFromHex(cfg.AuthKeySeed, cfg.AuthPublicKey); err != nil {
		log.WithError(err).Fatal("Failed to load auth keys")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms := game.NewRoomStore(game.Config{
		HandSize:     cfg.HandSize,
		TurnTimeout:  cfg.TurnTimeout,
		TickInterval: cfg.TickInterval,
		ResetDelay:   cfg.ResetDelay,
		Clock:        game.RealClock,
	}, cfg.MaxRooms, log)

	// optional persistence: Postgres snapshots, fronted by Redis when configured
	var persister game.Persister
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.WithError(err).Fatal("Failed to apply schema")
		}
		persister = database.NewRoomRepository(pool)
	}
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
		persister = cache.NewRoomCache(rdb, persister, cfg.SnapshotTTL)
		rooms.ActionSink = cache.NewActionQueue(rdb, cache.DefaultQueueName).PublishRoomAction
	}
	if persister != nil {
		rooms.SetPersister(persister)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Second)
	gs := handlers.NewGameServer(cfg.ServerID, rooms, limiter, log)

	link := handlers.NewLobbyLink(cfg.LobbyAddr, protocol.RegisterRequest{
		ServerID:    cfg.ServerID,
		IP:          cfg.PublicIP,
		Port:        portOf(cfg.WSAddr, log),
		ControlPort: portOf(cfg.TCPAddr, log),
		MaxRooms:    cfg.MaxRooms,
	}, rooms, log)
	link.PingInterval = cfg.PingInterval
	link.StatusInterval = cfg.StatusInterval
	link.Options = peer.Options{ConnectTimeout: cfg.ConnectTimeout, ResponseTimeout: cfg.ResponseTimeout}
	rooms.OnRoomChange = link.ReportRoom

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(log)(gs.WSHandler()))
	mux.Handle("/rooms", middleware.LogMiddleware(log)(gs.RoomsHandler()))
	mux.HandleFunc("/healthz", handlers.HealthHandler(link.Registered))
	httpSrv := &http.Server{Addr: cfg.WSAddr, Handler: mux}

	ln, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		log.WithError(err).Fatal("Failed to listen for lobby commands")
	}
	control := &peer.Server{NewHandler: gs.ControlHandler(), Logger: log.WithField("listener", "control")}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rooms.Run(gctx) })
	g.Go(func() error {
		log.Infof("Control port listening on %s", cfg.TCPAddr)
		return control.Serve(gctx, ln)
	})
	g.Go(func() error {
		log.Infof("Client WebSocket listening on %s", cfg.WSAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Game server exited")
	}
	log.Info("Game server stopped")
}

// portOf extracts the numeric port of a listen address such as ":8090".
func portOf(addr string, log logrus.FieldLogger) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		log.WithError(err).Fatalf("Invalid listen address %q", addr)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		log.WithError(err).Fatalf("Invalid port in %q", addr)
	}
	return port
}
