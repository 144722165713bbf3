package models

import "fmt"

// Card is an immutable playing card. Suits are single letters (H, D, C, S);
// ranks are "A", "2".."10", "J", "Q", "K".
type Card struct {
	Suit string `json:"suit"`
	Rank string `json:"rank"`
}

// Matches reports whether c may be played on top of other: same suit or same rank.
func (c Card) Matches(other Card) bool {
	return c.Suit == other.Suit || c.Rank == other.Rank
}

func (c Card) String() string {
	return fmt.Sprintf("%s%s", c.Rank, c.Suit)
}
