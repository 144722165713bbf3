// cmd/historian/main.go drains the room-action queue into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/cardroom/internal/cache"
	"github.com/jason-s-yu/cardroom/internal/config"
	"github.com/jason-s-yu/cardroom/internal/database"
	"github.com/jason-s-yu/cardroom/internal/historian"
	"github.com/jason-s-yu/cardroom/internal/rating"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadHistorian()
	logger := config.NewLogger()
	log := logger.WithField("component", "historian")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.WithError(err).Fatal("Failed to apply schema")
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	svc := historian.New(
		cache.NewActionQueue(rdb, cfg.QueueName),
		database.NewActionRepository(pool),
		historian.Options{BatchSize: cfg.BatchSize, FlushDelay: cfg.FlushDelay, Inactivity: cfg.Inactivity},
		log,
	)
	svc.OnGameOver = rating.NewService(database.NewRatingRepository(pool), log).RecordGame
	rooms := database.NewRoomRepository(pool)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return pruneSnapshots(gctx, rooms, cfg.SnapshotRetention, log) })
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Historian exited")
	}
}

// pruneSnapshots drops room snapshots that have not changed within retention.
func pruneSnapshots(ctx context.Context, rooms *database.RoomRepository, retention time.Duration, log logrus.FieldLogger) error {
	if retention <= 0 {
		return nil
	}
	interval := retention / 24
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := rooms.DeleteStaleRooms(ctx, time.Now().Add(-retention))
			if err != nil {
				log.WithError(err).Warn("Snapshot pruning failed")
				continue
			}
			if n > 0 {
				log.WithField("rooms", n).Info("Pruned stale room snapshots")
			}
		}
	}
}
