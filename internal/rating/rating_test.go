package rating

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateOneOnOne(t *testing.T) {
	next := Update(nil, map[int]int{1: 1, 2: 2})
	require.Len(t, next, 2)
	assert.Greater(t, next[1].Value, DefaultValue, "winner's rating should go up")
	assert.Less(t, next[2].Value, DefaultValue, "loser's rating should go down")
	assert.InDelta(t, next[1].Value-DefaultValue, DefaultValue-next[2].Value, 0.001)
	assert.Less(t, next[1].Deviation, DefaultDeviation)
	assert.Equal(t, 1, next[1].Games)
}

func TestUpdateFavouriteGainsLess(t *testing.T) {
	strong := Rating{Value: 1800, Deviation: 80, Volatility: DefaultVolatility, Games: 40}
	weak := Rating{Value: 1400, Deviation: 80, Volatility: DefaultVolatility, Games: 40}

	upset := Update(map[int]Rating{1: strong, 2: weak}, map[int]int{1: 2, 2: 1})
	expected := Update(map[int]Rating{1: strong, 2: weak}, map[int]int{1: 1, 2: 2})

	assert.Greater(t, upset[2].Value-weak.Value, expected[1].Value-strong.Value)
	assert.Equal(t, 41, upset[1].Games)
}

func TestUpdateNeedsTwoPlayers(t *testing.T) {
	assert.Nil(t, Update(nil, map[int]int{1: 1}))
}

func TestRankFractionsTies(t *testing.T) {
	fr := RankFractions(map[int]int{1: 1, 2: 2, 3: 2})
	assert.Equal(t, 1.0, fr[1])
	assert.Equal(t, 0.25, fr[2])
	assert.Equal(t, 0.25, fr[3])

	fr = RankFractions(map[int]int{1: 1, 2: 2, 3: 3})
	assert.Equal(t, 0.5, fr[2])
	assert.Equal(t, 0.0, fr[3])
}

type memStore struct {
	ratings map[int]Rating
}

func (m *memStore) LoadRatings(_ context.Context, ids []int) (map[int]Rating, error) {
	out := make(map[int]Rating)
	for _, id := range ids {
		if r, ok := m.ratings[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (m *memStore) SaveRatings(_ context.Context, ratings map[int]Rating) error {
	for id, r := range ratings {
		m.ratings[id] = r
	}
	return nil
}

func TestRecordGameFromQueuedAction(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &memStore{ratings: map[int]Rating{}}
	svc := NewService(store, logger)

	// the action arrives through the JSON queue
	raw, err := json.Marshal(models.RoomAction{
		RoomID:     "r1",
		UserID:     2,
		ActionType: "game_over",
		Payload:    map[string]interface{}{"players": []int{1, 2, 3}},
	})
	require.NoError(t, err)
	var action models.RoomAction
	require.NoError(t, json.Unmarshal(raw, &action))

	require.NoError(t, svc.RecordGame(context.Background(), action))
	require.Len(t, store.ratings, 3)
	assert.Greater(t, store.ratings[2].Value, DefaultValue)
	assert.Less(t, store.ratings[1].Value, DefaultValue)
	assert.Equal(t, store.ratings[1].Value, store.ratings[3].Value)

	require.NoError(t, svc.RecordGame(context.Background(), models.RoomAction{RoomID: "r2", UserID: 1, ActionType: "game_over"}))
	assert.Equal(t, 1, store.ratings[1].Games, "a payload without players is ignored")
}
