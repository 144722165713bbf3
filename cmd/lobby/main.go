// cmd/lobby/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/cardroom/internal/auth"
	"github.com/jason-s-yu/cardroom/internal/config"
	"github.com/jason-s-yu/cardroom/internal/handlers"
	"github.com/jason-s-yu/cardroom/internal/lobby"
	"github.com/jason-s-yu/cardroom/internal/middleware"
	"github.com/jason-s-yu/cardroom/internal/peer"
	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadLobby()
	logger := config.NewLogger()
	log := logger.WithField("component", "lobby")

	if err := auth.InitFromHex(cfg.AuthKeySeed, cfg.AuthPublicKey); err != nil {
		log.WithError(err).Fatal("Failed to load auth keys")
	}

	client := handlers.NewPeerClient(peer.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
	})
	svc := lobby.NewService(cfg.StaleAfter, client, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Second)
	clients := handlers.NewLobbyServer(svc, limiter, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(log)(clients.WSHandler()))
	mux.HandleFunc("/healthz", handlers.HealthHandler(nil))
	httpSrv := &http.Server{Addr: cfg.WSAddr, Handler: mux}

	ln, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		log.WithError(err).Fatal("Failed to listen for game servers")
	}
	registry := &peer.Server{NewHandler: handlers.NewRegistryHandler(svc), Logger: log.WithField("listener", "registry")}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("Registry listening on %s", cfg.TCPAddr)
		return registry.Serve(gctx, ln)
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
	g.Go(func() error { return svc.RunSweeper(gctx, cfg.SweepInterval) })
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
		log.WithError(err).Fatal("Lobby exited")
	}
	log.Info("Lobby stopped")
}
