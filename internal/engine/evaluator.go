package engine

import (
	"sort"

	"pokerhall/card"
)

// Hand rank classes, strongest last.
const (
	HandHighCard byte = iota + 1
	HandOnePair
	HandTwoPair
	HandThreeOfKind
	HandStraight
	HandFlush
	HandFullHouse
	HandFourOfKind
	HandStraightFlush
)

var handClassNames = map[byte]string{
	HandHighCard:      "high_card",
	HandOnePair:       "one_pair",
	HandTwoPair:       "two_pair",
	HandThreeOfKind:   "three_of_a_kind",
	HandStraight:      "straight",
	HandFlush:         "flush",
	HandFullHouse:     "full_house",
	HandFourOfKind:    "four_of_a_kind",
	HandStraightFlush: "straight_flush",
}

// HandEval is the outcome of evaluating a 7-card hand.
type HandEval struct {
	Score    uint32 // larger is stronger
	Class    byte
	BestFive []card.Card
}

func (e *HandEval) ClassName() string { return handClassNames[e.Class] }

// EvalBestOf7 finds the strongest 5-card hand among the 21 combinations
// of 7 cards (two hole cards plus the full board).
func EvalBestOf7(cards []card.Card) *HandEval {
	if len(cards) != 7 {
		return nil
	}
	var best *HandEval
	pick := make([]card.Card, 5)
	for a := 0; a < 3; a++ {
		for b := a + 1; b < 4; b++ {
			for c := b + 1; c < 5; c++ {
				for d := c + 1; d < 6; d++ {
					for e := d + 1; e < 7; e++ {
						pick[0], pick[1], pick[2], pick[3], pick[4] =
							cards[a], cards[b], cards[c], cards[d], cards[e]
						score, class := eval5(pick)
						if best == nil || score > best.Score {
							best = &HandEval{
								Score:    score,
								Class:    class,
								BestFive: append([]card.Card(nil), pick...),
							}
						}
					}
				}
			}
		}
	}
	return best
}

// eval5 scores exactly five cards. The score packs the hand class in
// the top bits and five rank nibbles below it, so comparing scores
// compares hands.
func eval5(cards []card.Card) (uint32, byte) {
	ranks := make([]int, 5) // ace-high: 2..14
	suited := true
	for i, c := range cards {
		r := int(c.Rank())
		if r == 1 {
			r = 14
		}
		ranks[i] = r
		if c.Suit() != cards[0].Suit() {
			suited = false
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ranks)))

	straightHigh := straightHighCard(ranks)

	counts := map[int]int{}
	for _, r := range ranks {
		counts[r]++
	}
	// Group ranks by multiplicity, then by rank, descending.
	type group struct{ count, rank int }
	groups := make([]group, 0, 5)
	for r, n := range counts {
		groups = append(groups, group{n, r})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	var class byte
	switch {
	case suited && straightHigh > 0:
		class = HandStraightFlush
	case groups[0].count == 4:
		class = HandFourOfKind
	case groups[0].count == 3 && groups[1].count == 2:
		class = HandFullHouse
	case suited:
		class = HandFlush
	case straightHigh > 0:
		class = HandStraight
	case groups[0].count == 3:
		class = HandThreeOfKind
	case groups[0].count == 2 && groups[1].count == 2:
		class = HandTwoPair
	case groups[0].count == 2:
		class = HandOnePair
	default:
		class = HandHighCard
	}

	score := uint32(class) << 20
	if class == HandStraight || class == HandStraightFlush {
		score |= uint32(straightHigh) << 16
		return score, class
	}
	shift := 16
	for _, g := range groups {
		if shift < 0 {
			break
		}
		score |= uint32(g.rank) << shift
		shift -= 4
	}
	return score, class
}

// straightHighCard returns the high card of a straight, 0 if none.
// ranks must be sorted descending, ace-high. The wheel (A-5) scores
// with high card 5.
func straightHighCard(ranks []int) int {
	uniq := ranks[:0:0]
	for i, r := range ranks {
		if i == 0 || r != ranks[i-1] {
			uniq = append(uniq, r)
		}
	}
	if len(uniq) != 5 {
		return 0
	}
	if uniq[0]-uniq[4] == 4 {
		return uniq[0]
	}
	// Wheel: A,5,4,3,2.
	if uniq[0] == 14 && uniq[1] == 5 && uniq[4] == 2 {
		return 5
	}
	return 0
}
