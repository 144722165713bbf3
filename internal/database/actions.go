// internal/database/actions.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cardroom/internal/models"
)

// History status values in room_history.
const (
	HistoryInProgress = "in_progress"
	HistoryCompleted  = "completed"
	HistoryAbandoned  = "abandoned"
)

// ActionRepository writes the room action history.
type ActionRepository struct {
	pool *pgxpool.Pool
}

// NewActionRepository wraps an open pool.
func NewActionRepository(pool *pgxpool.Pool) *ActionRepository {
	return &ActionRepository{pool: pool}
}

// InsertRoomActions stores a batch in one transaction. Each action touches its
// room_history row; a game_over action completes it. Re-delivered actions are
// ignored.
func (r *ActionRepository) InsertRoomActions(ctx context.Context, actions []models.RoomAction) error {
	if len(actions) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range actions {
			payload, err := json.Marshal(a.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of %s#%d: %w", a.RoomID, a.ActionIndex, err)
			}
			at := time.UnixMilli(a.Timestamp)

			batch.Queue(`
				INSERT INTO room_history (room_id, status, started_at, last_action_at)
				VALUES ($1, $2, $3, $3)
				ON CONFLICT (room_id)
				DO UPDATE SET status = $2, last_action_at = $3, ended_at = NULL
			`, a.RoomID, HistoryInProgress, at)
			batch.Queue(`
				INSERT INTO room_actions (room_id, action_index, user_id, action_type, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (room_id, action_index) DO NOTHING
			`, a.RoomID, a.ActionIndex, a.UserID, a.ActionType, payload, at)
			if a.ActionType == "game_over" {
				batch.Queue(`
					UPDATE room_history
					SET status = $2, ended_at = $3
					WHERE room_id = $1
				`, a.RoomID, HistoryCompleted, at)
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert %d room actions: %w", len(actions), err)
	}
	return nil
}

// MarkRoomAbandoned flags an in-progress room as abandoned. It reports whether
// a row changed.
func (r *ActionRepository) MarkRoomAbandoned(ctx context.Context, roomID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE room_history
		SET status = $2, ended_at = NOW()
		WHERE room_id = $1 AND status = $3
	`, roomID, HistoryAbandoned, HistoryInProgress)
	if err != nil {
		return false, fmt.Errorf("mark room %s abandoned: %w", roomID, err)
	}
	return tag.RowsAffected() > 0, nil
}
