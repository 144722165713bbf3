// internal/game/turn.go
package game

import (
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// startGameUnsafe deals a fresh shoe and moves the room to playing. Large
// tables get extra decks so every hand is full and a starter card remains.
// Assumes lock is held and at least two players are seated.
func (r *Room) startGameUnsafe() {
	deck := newShoe(len(r.Players), r.cfg.HandSize)
	shuffleCards(r.rng, deck)

	for _, p := range r.Players {
		p.Hand = make([]models.Card, 0, r.cfg.HandSize)
	}
	for round := 0; round < r.cfg.HandSize; round++ {
		for _, p := range r.Players {
			var c models.Card
			c, deck = popCard(deck)
			p.Hand = append(p.Hand, c)
		}
	}

	now := r.cfg.Clock.Now()
	r.State = models.GameState{
		CurrentTurnIndex:   0,
		TurnStartTime:      now,
		TurnTimeoutSeconds: timeoutSeconds(r.cfg.TurnTimeout),
	}
	if len(deck) > 0 {
		var starter models.Card
		starter, deck = popCard(deck)
		r.State.PlayArea = []models.Card{starter}
		r.State.LastCard = &starter
	}
	r.State.Deck = deck
	r.Status = models.StatusPlaying
	r.heartbeat = 0
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}

	r.log.WithFields(logrus.Fields{"players": len(r.Players), "deck_count": len(deck)}).Info("Game started")
	r.recordActionUnsafe(0, "game_started", map[string]interface{}{"players": len(r.Players)})

	r.broadcastUnsafe(protocol.Message{
		"type":               protocol.TypeGameStarted,
		"room_id":            r.ID,
		"current_player_id":  r.currentPlayerUnsafe().UserID,
		"current_turn_index": 0,
		"deck_count":         len(r.State.Deck),
		"last_card":          r.State.LastCard,
		"room":               r.publicStateUnsafe(),
	})
	for _, p := range r.Players {
		r.sendStateUnsafe(p.UserID)
	}

	r.startTickerUnsafe()
	r.changedUnsafe()
}

// advanceTurnUnsafe moves to the next seat and restarts the turn clock.
// Assumes lock is held.
func (r *Room) advanceTurnUnsafe(now time.Time) {
	r.State.CurrentTurnIndex = (r.State.CurrentTurnIndex + 1) % len(r.Players)
	r.State.TurnStartTime = now
	r.heartbeat = 0
}

// Tick runs one step of the turn engine: it fires the turn timeout when due,
// otherwise it emits a time_remaining heartbeat once per elapsed second.
// It returns false once the room is no longer playing.
func (r *Room) Tick() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.deleted || r.Status != models.StatusPlaying || len(r.Players) == 0 {
		return false
	}
	now := r.cfg.Clock.Now()
	elapsed := now.Sub(r.State.TurnStartTime)
	timeout := time.Duration(r.State.TurnTimeoutSeconds) * time.Second

	if timeout > 0 && elapsed >= timeout {
		r.handleTimeoutUnsafe(now)
		return true
	}

	secs := int(elapsed / time.Second)
	if secs > r.heartbeat {
		r.heartbeat = secs
		r.broadcastUnsafe(protocol.Message{
			"type":              protocol.TypeTimeRemaining,
			"room_id":           r.ID,
			"current_player_id": r.currentPlayerUnsafe().UserID,
			"seconds_remaining": r.State.TurnTimeoutSeconds - secs,
		})
	}
	return true
}

// handleTimeoutUnsafe skips the player whose turn ran out.
// Assumes lock is held.
func (r *Room) handleTimeoutUnsafe(now time.Time) {
	prev := r.currentPlayerUnsafe()
	r.advanceTurnUnsafe(now)
	next := r.currentPlayerUnsafe()

	r.log.WithFields(logrus.Fields{"user_id": prev.UserID, "next_user_id": next.UserID}).Info("Turn timed out")
	r.recordActionUnsafe(prev.UserID, protocol.TypeTurnTimeout, nil)

	r.broadcastUnsafe(protocol.Message{
		"type":               protocol.TypeTurnTimeout,
		"room_id":            r.ID,
		"previous_player_id": prev.UserID,
		"next_player_id":     next.UserID,
		"state":              r.publicStateUnsafe(),
	})
	r.changedUnsafe()
}

func (r *Room) startTickerUnsafe() {
	r.stopTickerUnsafe()
	if r.cfg.TickInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	r.tickStop = stop
	go r.tickLoop(stop)
}

func (r *Room) stopTickerUnsafe() {
	if r.tickStop != nil {
		close(r.tickStop)
		r.tickStop = nil
	}
}

func (r *Room) tickLoop(stop <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", rec).Error("Turn engine panicked; room ticker stopped")
		}
	}()

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !r.Tick() {
				return
			}
		}
	}
}

// endGameUnsafe declares the winner and schedules the room's return to waiting.
// Assumes lock is held.
func (r *Room) endGameUnsafe(winner *models.RoomPlayer) {
	r.Status = models.StatusEnded
	r.stopTickerUnsafe()
	r.Scores[winner.UserID]++

	r.log.WithField("winner_id", winner.UserID).Info("Game over")
	players := make([]int, len(r.Players))
	for i, p := range r.Players {
		players[i] = p.UserID
	}
	r.recordActionUnsafe(winner.UserID, protocol.TypeGameOver, map[string]interface{}{
		"score":   r.Scores[winner.UserID],
		"players": players,
	})

	r.broadcastUnsafe(protocol.Message{
		"type":            protocol.TypeGameOver,
		"room_id":         r.ID,
		"winner_id":       winner.UserID,
		"winner_username": winner.Username,
		"scores":          r.scoresUnsafe(),
	})

	if r.resetTimer != nil {
		r.resetTimer.Stop()
	}
	r.resetTimer = r.cfg.Clock.AfterFunc(r.cfg.ResetDelay, r.ResetForNewGame)
	r.changedUnsafe()
}

// ResetForNewGame returns an ended room to waiting so the same players can
// ready up again. It is a no-op unless the room is ended.
func (r *Room) ResetForNewGame() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.deleted || r.Status != models.StatusEnded {
		return
	}
	r.resetTimer = nil
	r.resetUnsafe("new_game")
}

// resetUnsafe clears hands and ready flags and announces the reason.
// Assumes lock is held.
func (r *Room) resetUnsafe(reason string) {
	r.stopTickerUnsafe()
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
	r.Status = models.StatusWaiting
	for _, p := range r.Players {
		p.Ready = false
		p.Hand = nil
	}
	r.State = models.GameState{TurnTimeoutSeconds: timeoutSeconds(r.cfg.TurnTimeout)}
	r.heartbeat = 0

	r.log.WithField("reason", reason).Info("Room reset to waiting")
	r.broadcastUnsafe(protocol.Message{
		"type":    protocol.TypeRoomUpdate,
		"room_id": r.ID,
		"reason":  reason,
		"room":    r.publicStateUnsafe(),
	})
	r.changedUnsafe()
}
