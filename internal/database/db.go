// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool for url and pings it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// schema is applied by EnsureSchema. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          TEXT PRIMARY KEY,
		game_type   TEXT NOT NULL,
		status      TEXT NOT NULL,
		snapshot    JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS room_history (
		room_id         TEXT PRIMARY KEY,
		status          TEXT NOT NULL,
		started_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_action_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at        TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS room_actions (
		room_id       TEXT NOT NULL,
		action_index  INT NOT NULL,
		user_id       INT NOT NULL,
		action_type   TEXT NOT NULL,
		payload       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (room_id, action_index)
	)`,
	`CREATE TABLE IF NOT EXISTS player_ratings (
		user_id     INT PRIMARY KEY,
		rating      DOUBLE PRECISION NOT NULL,
		deviation   DOUBLE PRECISION NOT NULL,
		volatility  DOUBLE PRECISION NOT NULL,
		games       INT NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables used by the game server and the historian.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
