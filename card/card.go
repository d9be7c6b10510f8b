package card

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Card is a byte-encoded playing card.
//
// Encoding:
// - high 4 bits: suit (0:Spade, 1:Heart, 2:Club, 3:Diamond)
// - low 4 bits: rank (1:A, 2..9, 10:T, 11:J, 12:Q, 13:K)
type Card byte

const Invalid Card = 0

type Suit byte

const (
	Spade Suit = iota
	Heart
	Club
	Diamond
)

var suitRunes = map[Suit]string{
	Spade:   "s",
	Heart:   "h",
	Club:    "c",
	Diamond: "d",
}

var rankRunes = "_A23456789TJQK"

// Make builds a card from suit and rank (1..13, A=1).
func Make(s Suit, rank byte) Card {
	if rank < 1 || rank > 13 || s > Diamond {
		return Invalid
	}
	return Card(byte(s)<<4 | rank)
}

// Rank returns 1..13 (A=1, K=13), 0 for invalid cards.
func (c Card) Rank() byte {
	if c == Invalid {
		return 0
	}
	return byte(c & 0x0F)
}

func (c Card) Suit() Suit {
	return Suit(c >> 4)
}

func (c Card) Valid() bool {
	r := byte(c & 0x0F)
	return r >= 1 && r <= 13 && Suit(c>>4) <= Diamond
}

// String renders the compact two-rune form used in state documents,
// rank first: "As", "Td", "9h".
func (c Card) String() string {
	if !c.Valid() {
		return "??"
	}
	return string(rankRunes[c.Rank()]) + suitRunes[c.Suit()]
}

// Parse decodes the two-rune form produced by String.
func Parse(s string) (Card, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return Invalid, fmt.Errorf("card: bad literal %q", s)
	}
	idx := strings.IndexByte(rankRunes, s[0])
	if idx <= 0 {
		return Invalid, fmt.Errorf("card: bad rank in %q", s)
	}
	rank := byte(idx)
	var suit Suit
	switch s[1] {
	case 's':
		suit = Spade
	case 'h':
		suit = Heart
	case 'c':
		suit = Club
	case 'd':
		suit = Diamond
	default:
		return Invalid, fmt.Errorf("card: bad suit in %q", s)
	}
	return Make(suit, rank), nil
}

func (c Card) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("card: cannot marshal invalid card %#x", byte(c))
	}
	return json.Marshal(c.String())
}

func (c *Card) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Strings renders a slice of cards to their document form.
func Strings(cards []Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.String())
	}
	return out
}

// ParseAll decodes a slice of card literals, failing on the first bad one.
func ParseAll(raw []string) ([]Card, error) {
	out := make([]Card, 0, len(raw))
	for _, s := range raw {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
