package game

import (
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/sirupsen/logrus"
)

// HandleAction applies one in-game move for userID. Rejected moves leave the
// room untouched and return the reason; nothing is broadcast for them.
func (r *Room) HandleAction(userID int, req protocol.GameActionRequest) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.deleted {
		return ErrRoomNotFound
	}
	switch req.ActionType {
	case protocol.ActionPlayCard, protocol.ActionDrawCard, protocol.ActionPassTurn:
	default:
		return ErrUnknownAction
	}
	idx := r.indexOfUnsafe(userID)
	if idx < 0 {
		return ErrNotInRoom
	}
	if r.Status != models.StatusPlaying {
		return ErrGameNotInProgress
	}
	if idx != r.State.CurrentTurnIndex {
		return ErrNotYourTurn
	}

	now := r.cfg.Clock.Now()
	player := r.Players[idx]
	switch req.ActionType {
	case protocol.ActionPlayCard:
		return r.playCardUnsafe(player, req.CardIndex, now)
	case protocol.ActionDrawCard:
		return r.drawCardUnsafe(player, now)
	default:
		return r.passTurnUnsafe(player, now)
	}
}

func (r *Room) playCardUnsafe(p *models.RoomPlayer, cardIndex *int, now time.Time) error {
	if cardIndex == nil || *cardIndex < 0 || *cardIndex >= len(p.Hand) {
		return ErrInvalidCardIndex
	}
	ci := *cardIndex
	card := p.Hand[ci]
	if r.State.LastCard != nil && !card.Matches(*r.State.LastCard) {
		return ErrInvalidMove
	}

	p.Hand = removeCard(p.Hand, ci)
	r.State.PlayArea = append(r.State.PlayArea, card)
	played := card
	r.State.LastCard = &played
	r.recordActionUnsafe(p.UserID, protocol.ActionPlayCard, map[string]interface{}{
		"card":       card,
		"card_index": ci,
	})
	r.log.WithFields(logrus.Fields{"user_id": p.UserID, "card": card.String()}).Debug("Card played")

	ev := protocol.Message{
		"type":       protocol.TypeCardPlayed,
		"room_id":    r.ID,
		"player_id":  p.UserID,
		"card":       card,
		"hand_count": len(p.Hand),
		"deck_count": len(r.State.Deck),
	}
	if len(p.Hand) == 0 {
		r.broadcastUnsafe(ev)
		r.endGameUnsafe(p)
		return nil
	}

	r.advanceTurnUnsafe(now)
	ev["next_player_id"] = r.currentPlayerUnsafe().UserID
	r.broadcastUnsafe(ev)
	r.sendStateUnsafe(p.UserID)
	r.changedUnsafe()
	return nil
}

func (r *Room) drawCardUnsafe(p *models.RoomPlayer, now time.Time) error {
	card, err := r.drawUnsafe()
	if err != nil {
		return err
	}
	p.Hand = append(p.Hand, card)
	r.recordActionUnsafe(p.UserID, protocol.ActionDrawCard, map[string]interface{}{"card": card})

	r.advanceTurnUnsafe(now)
	r.broadcastUnsafe(protocol.Message{
		"type":           protocol.TypeCardDrawn,
		"room_id":        r.ID,
		"player_id":      p.UserID,
		"hand_count":     len(p.Hand),
		"deck_count":     len(r.State.Deck),
		"next_player_id": r.currentPlayerUnsafe().UserID,
	})
	// only the drawer learns which card it was
	r.sendStateUnsafe(p.UserID)
	r.changedUnsafe()
	return nil
}

func (r *Room) passTurnUnsafe(p *models.RoomPlayer, now time.Time) error {
	r.recordActionUnsafe(p.UserID, protocol.ActionPassTurn, nil)
	r.advanceTurnUnsafe(now)
	r.broadcastUnsafe(protocol.Message{
		"type":           protocol.TypeTurnPassed,
		"room_id":        r.ID,
		"player_id":      p.UserID,
		"next_player_id": r.currentPlayerUnsafe().UserID,
	})
	r.changedUnsafe()
	return nil
}
