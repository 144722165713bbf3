package game

import (
	"math/rand"

	"github.com/jason-s-yu/cardroom/internal/models"
)

var (
	deckSuits = []string{"H", "D", "C", "S"}
	deckRanks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
)

// NewDeck returns an ordered 52-card deck.
func NewDeck() []models.Card {
	deck := make([]models.Card, 0, len(deckSuits)*len(deckRanks))
	for _, suit := range deckSuits {
		for _, rank := range deckRanks {
			deck = append(deck, models.Card{Suit: suit, Rank: rank})
		}
	}
	return deck
}

// newShoe returns enough decks for every player to get handSize cards with
// one card left for the play area.
func newShoe(players, handSize int) []models.Card {
	shoe := NewDeck()
	for len(shoe) < players*handSize+1 {
		shoe = append(shoe, NewDeck()...)
	}
	return shoe
}

func shuffleCards(rng *rand.Rand, cards []models.Card) {
	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// popCard removes the card at the tail of the deck (the "top").
func popCard(deck []models.Card) (models.Card, []models.Card) {
	n := len(deck) - 1
	return deck[n], deck[:n]
}

// drawUnsafe draws the top card of the deck. When the deck is empty every
// play-area card except the face-up one is shuffled back in first.
// Assumes lock is held.
func (r *Room) drawUnsafe() (models.Card, error) {
	if len(r.State.Deck) == 0 {
		if len(r.State.PlayArea) <= 1 {
			return models.Card{}, ErrDeckEmpty
		}
		top := r.State.PlayArea[len(r.State.PlayArea)-1]
		recycled := make([]models.Card, len(r.State.PlayArea)-1)
		copy(recycled, r.State.PlayArea[:len(r.State.PlayArea)-1])
		shuffleCards(r.rng, recycled)
		r.State.Deck = recycled
		r.State.PlayArea = []models.Card{top}
		r.log.WithField("deck_count", len(recycled)).Debug("Reshuffled play area into deck")
		r.recordActionUnsafe(0, "deck_reshuffled", map[string]interface{}{"deck_count": len(recycled)})
	}
	var card models.Card
	card, r.State.Deck = popCard(r.State.Deck)
	return card, nil
}

// removeCard returns a new hand without the card at idx.
func removeCard(hand []models.Card, idx int) []models.Card {
	out := make([]models.Card, 0, len(hand)-1)
	out = append(out, hand[:idx]...)
	return append(out, hand[idx+1:]...)
}

func copyCards(cards []models.Card) []models.Card {
	if cards == nil {
		return nil
	}
	out := make([]models.Card, len(cards))
	copy(out, cards)
	return out
}
