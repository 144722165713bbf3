// internal/database/rooms.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cardroom/internal/models"
)

// RoomRepository keeps room snapshots as JSONB rows.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository wraps an open pool.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// LoadRoom returns the stored snapshot for id, or (nil, nil) if there is none.
func (r *RoomRepository) LoadRoom(ctx context.Context, id string) (*models.RoomSnapshot, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT snapshot FROM rooms WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", id, err)
	}
	var snap models.RoomSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &snap, nil
}

// SaveRoom upserts the snapshot.
func (r *RoomRepository) SaveRoom(ctx context.Context, snap models.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", snap.ID, err)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO rooms (id, game_type, status, snapshot, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id)
			DO UPDATE SET game_type = $2, status = $3, snapshot = $4, updated_at = $5
		`
		_, e := tx.Exec(ctx, q, snap.ID, snap.GameType, string(snap.Status), data, snap.UpdatedAt)
		return e
	})
}

// DeleteRoom removes the snapshot. Deleting an unknown room is not an error.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

// DeleteStaleRooms removes snapshots not updated since before.
func (r *RoomRepository) DeleteStaleRooms(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}
