// Package rating keeps Glicko-2 player ratings up to date from finished games.
package rating

import (
	"context"
	"fmt"
	"sort"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/sirupsen/logrus"
)

// RankFractions turns finishing places (lower is better) into scores in
// [0, 1]: first place gets 1, last gets 0 and tied players share the mean of
// their ranks.
func RankFractions(places map[int]int) map[int]float64 {
	type entry struct {
		userID int
		place  int
	}
	arr := make([]entry, 0, len(places))
	for id, p := range places {
		arr = append(arr, entry{id, p})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].place != arr[j].place {
			return arr[i].place < arr[j].place
		}
		return arr[i].userID < arr[j].userID
	})

	out := make(map[int]float64, len(arr))
	if len(arr) < 2 {
		for _, e := range arr {
			out[e.userID] = 0.5
		}
		return out
	}
	for i := 0; i < len(arr); {
		j := i + 1
		for j < len(arr) && arr[j].place == arr[i].place {
			j++
		}
		avgRank := float64(i+j-1) / 2
		frac := 1.0 - avgRank/float64(len(arr)-1)
		for k := i; k < j; k++ {
			out[arr[k].userID] = frac
		}
		i = j
	}
	return out
}

// Update rates one finished game. Each player is scored against the mean of
// the other players' ratings. Players missing from current start at Default.
func Update(current map[int]Rating, places map[int]int) map[int]Rating {
	if len(places) < 2 {
		return nil
	}
	scores := RankFractions(places)

	before := make(map[int]Rating, len(places))
	var total float64
	for id := range places {
		r, ok := current[id]
		if !ok {
			r = Default()
		}
		before[id] = r
		total += r.Value
	}

	out := make(map[int]Rating, len(places))
	others := float64(len(places) - 1)
	for id, r := range before {
		opp := Rating{Value: (total - r.Value) / others, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
		next := update(toGlicko2(r), toGlicko2(opp), scores[id])
		out[id] = next.toRating(r.Games + 1)
	}
	return out
}

// Store loads and saves ratings by user id.
type Store interface {
	LoadRatings(ctx context.Context, userIDs []int) (map[int]Rating, error)
	SaveRatings(ctx context.Context, ratings map[int]Rating) error
}

// Service rates finished games as their game_over actions are recorded.
type Service struct {
	store  Store
	logger logrus.FieldLogger
}

// NewService rates games into store.
func NewService(store Store, logger logrus.FieldLogger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordGame updates the ratings of the players named in a game_over action.
// The action's user is the winner; everyone else shares second place.
func (s *Service) RecordGame(ctx context.Context, action models.RoomAction) error {
	players := playerIDs(action.Payload["players"])
	if len(players) < 2 {
		return nil
	}
	places := make(map[int]int, len(players))
	for _, id := range players {
		places[id] = 2
	}
	places[action.UserID] = 1

	current, err := s.store.LoadRatings(ctx, players)
	if err != nil {
		return fmt.Errorf("load ratings for room %s: %w", action.RoomID, err)
	}
	next := Update(current, places)
	if err := s.store.SaveRatings(ctx, next); err != nil {
		return fmt.Errorf("save ratings for room %s: %w", action.RoomID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"room_id":   action.RoomID,
		"winner_id": action.UserID,
		"players":   len(players),
	}).Debug("Ratings updated")
	return nil
}

// playerIDs reads the roster of a game_over payload. The payload is []int when
// it comes straight from a room and []interface{} of float64 after a JSON trip.
func playerIDs(v interface{}) []int {
	switch ids := v.(type) {
	case []int:
		return ids
	case []interface{}:
		out := make([]int, 0, len(ids))
		for _, id := range ids {
			if f, ok := id.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	}
	return nil
}
