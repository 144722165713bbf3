// internal/database/ratings.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/cardroom/internal/rating"
)

// RatingRepository stores player ratings in player_ratings.
type RatingRepository struct {
	pool *pgxpool.Pool
}

// NewRatingRepository wraps an open pool.
func NewRatingRepository(pool *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{pool: pool}
}

// LoadRatings returns the stored ratings of userIDs. Unrated users are absent
// from the result.
func (r *RatingRepository) LoadRatings(ctx context.Context, userIDs []int) (map[int]rating.Rating, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, rating, deviation, volatility, games
		FROM player_ratings
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	out := make(map[int]rating.Rating, len(userIDs))
	for rows.Next() {
		var id int
		var rt rating.Rating
		if err := rows.Scan(&id, &rt.Value, &rt.Deviation, &rt.Volatility, &rt.Games); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out[id] = rt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ratings: %w", err)
	}
	return out, nil
}

// SaveRatings upserts every rating in one transaction.
func (r *RatingRepository) SaveRatings(ctx context.Context, ratings map[int]rating.Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, rt := range ratings {
			batch.Queue(`
				INSERT INTO player_ratings (user_id, rating, deviation, volatility, games, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (user_id)
				DO UPDATE SET rating = $2, deviation = $3, volatility = $4, games = $5, updated_at = NOW()
			`, id, rt.Value, rt.Deviation, rt.Volatility, rt.Games)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save %d ratings: %w", len(ratings), err)
		}
		return nil
	})
}
