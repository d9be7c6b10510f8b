package card

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/blake2b"
)

// FullDeck returns the 52 cards in canonical order
// (spades A..K, hearts, clubs, diamonds).
func FullDeck() []Card {
	deck := make([]Card, 0, 52)
	for s := Spade; s <= Diamond; s++ {
		for r := byte(1); r <= 13; r++ {
			deck = append(deck, Make(s, r))
		}
	}
	return deck
}

// DeriveDeck produces the ordered 52-card sequence for a hand seed.
// The same seed always yields the same deck: the seed string is hashed
// to a shuffle seed, then the canonical deck is Fisher-Yates shuffled
// with that seed.
func DeriveDeck(handSeed string) ([]Card, error) {
	if handSeed == "" {
		return nil, fmt.Errorf("card: empty hand seed")
	}
	sum := blake2b.Sum256([]byte(handSeed))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))

	deck := FullDeck()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck, nil
}

// DealHoleCards pops two cards per user off the top of the deck, in the
// given user order, and returns the remainder. Users receive card 0 and
// card len(users) style round-robin order so a later seat-order change
// cannot silently reshuffle an in-flight hand.
func DealHoleCards(deck []Card, userIDs []string) (map[string][]Card, []Card, error) {
	need := 2 * len(userIDs)
	if len(userIDs) == 0 {
		return nil, nil, fmt.Errorf("card: no users to deal")
	}
	if len(deck) < need {
		return nil, nil, fmt.Errorf("card: deck underflow: need %d have %d", need, len(deck))
	}

	hole := make(map[string][]Card, len(userIDs))
	// Two passes, one card per user per pass, matching live dealing order.
	for pass := 0; pass < 2; pass++ {
		for i, uid := range userIDs {
			c := deck[pass*len(userIDs)+i]
			hole[uid] = append(hole[uid], c)
		}
	}

	seen := make(map[Card]bool, need)
	for uid, cards := range hole {
		for _, c := range cards {
			if !c.Valid() {
				return nil, nil, fmt.Errorf("card: invalid card dealt to %s", uid)
			}
			if seen[c] {
				return nil, nil, fmt.Errorf("card: duplicate card %s in deal", c)
			}
			seen[c] = true
		}
	}
	return hole, deck[need:], nil
}
