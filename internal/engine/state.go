package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"pokerhall/card"
)

// Phase names as stored in the state document.
const (
	PhaseInit     = "INIT"
	PhasePreflop  = "PREFLOP"
	PhaseFlop     = "FLOP"
	PhaseTurn     = "TURN"
	PhaseRiver    = "RIVER"
	PhaseSettled  = "SETTLED"
	PhaseHandDone = "HAND_DONE"
)

// Action names accepted by the reducer.
const (
	ActionCheck = "CHECK"
	ActionCall  = "CALL"
	ActionBet   = "BET"
	ActionRaise = "RAISE"
	ActionFold  = "FOLD"
)

// SeatRef is the seat snapshot embedded in the state document.
type SeatRef struct {
	SeatNo int    `json:"seatNo"`
	UserID string `json:"userId"`
	IsBot  bool   `json:"isBot,omitempty"`
}

// Settlement holds the per-user payouts produced when a hand ends.
// It is written once and cleared by the next START_HAND.
type Settlement struct {
	HandID  string           `json:"handId"`
	Reason  string           `json:"reason"` // "showdown" or "fold_out"
	Payouts map[string]int64 `json:"payoutsByUserId"`
}

// TableState is the JSON document persisted per table. It must never
// carry the deck or hole cards; those travel in HandPrivate only.
type TableState struct {
	Phase          string      `json:"phase"`
	Seats          []SeatRef   `json:"seats"`
	HandSeats      []SeatRef   `json:"handSeats,omitempty"`
	Stacks         map[string]int64 `json:"stacks"`
	Pot            int64       `json:"pot"`
	Community      []card.Card `json:"community"`
	CommunityDealt int         `json:"communityDealt"`
	DealerSeatNo   int         `json:"dealerSeatNo"`

	TurnUserID     string           `json:"turnUserId,omitempty"`
	ToCall         map[string]int64 `json:"toCallByUserId,omitempty"`
	BetThisRound   map[string]int64 `json:"betThisRoundByUserId,omitempty"`
	Acted          map[string]bool  `json:"actedThisRoundByUserId,omitempty"`
	Folded         map[string]bool  `json:"foldedByUserId,omitempty"`
	AllIn          map[string]bool  `json:"allInByUserId,omitempty"`
	LeftTable      map[string]bool  `json:"leftTableByUserId,omitempty"`
	SitOut         map[string]bool  `json:"sitOutByUserId,omitempty"`
	PendingSitOut  map[string]bool  `json:"pendingAutoSitOutByUserId,omitempty"`
	Contributions  map[string]int64 `json:"contributionsByUserId,omitempty"`

	CurrentBet    int64  `json:"currentBet"`
	LastRaiseSize int64  `json:"lastRaiseSize"`
	HandID        string `json:"handId,omitempty"`
	HandSeed      string `json:"handSeed,omitempty"`

	TurnStartedAt  *time.Time `json:"turnStartedAt,omitempty"`
	TurnDeadlineAt *time.Time `json:"turnDeadlineAt,omitempty"`

	LastActionRequestID map[string]string `json:"lastActionRequestIdByUserId,omitempty"`
	HandSettlement      *Settlement       `json:"handSettlement,omitempty"`
}

// HandPrivate is the per-hand secret projection. It is returned to the
// transaction that dealt the hand and stored only in the hole-card
// store, never in the shared state row.
type HandPrivate struct {
	Deck              []card.Card
	HoleCardsByUserID map[string][]card.Card
}

// NewTableState builds the INIT document for a freshly created table.
func NewTableState() *TableState {
	return &TableState{
		Phase:        PhaseInit,
		Seats:        []SeatRef{},
		Stacks:       map[string]int64{},
		Community:    []card.Card{},
		DealerSeatNo: -1,
	}
}

// Clone deep-copies the document so reducers can work on a scratch copy
// and leave the caller's snapshot untouched on failure.
func (s *TableState) Clone() *TableState {
	raw, err := json.Marshal(s)
	if err != nil {
		// TableState is marshal-safe by construction.
		panic(fmt.Sprintf("engine: clone marshal: %v", err))
	}
	out := &TableState{}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("engine: clone unmarshal: %v", err))
	}
	if out.Stacks == nil {
		out.Stacks = map[string]int64{}
	}
	if out.Community == nil {
		out.Community = []card.Card{}
	}
	if out.Seats == nil {
		out.Seats = []SeatRef{}
	}
	return out
}

// InActionPhase reports whether the phase accepts betting actions.
func (s *TableState) InActionPhase() bool {
	switch s.Phase {
	case PhasePreflop, PhaseFlop, PhaseTurn, PhaseRiver:
		return true
	}
	return false
}

// HandActive reports whether a hand is in progress.
func (s *TableState) HandActive() bool {
	return s.HandID != "" && s.InActionPhase()
}

// SeatFor returns the hand-seat entry for a user, or nil.
func (s *TableState) handSeatFor(userID string) *SeatRef {
	for i := range s.HandSeats {
		if s.HandSeats[i].UserID == userID {
			return &s.HandSeats[i]
		}
	}
	return nil
}

func (s *TableState) seatFor(userID string) *SeatRef {
	for i := range s.Seats {
		if s.Seats[i].UserID == userID {
			return &s.Seats[i]
		}
	}
	return nil
}

// eligibleToAct reports whether a user can still take betting actions
// this hand: dealt in, not folded, not all-in, not departed.
func (s *TableState) eligibleToAct(userID string) bool {
	if s.handSeatFor(userID) == nil {
		return false
	}
	if s.Folded[userID] || s.AllIn[userID] || s.LeftTable[userID] {
		return false
	}
	return true
}

// inHand reports whether a user still contests the pot (dealt in and
// not folded). All-in and departed-but-unfolded users remain in hand.
func (s *TableState) inHand(userID string) bool {
	if s.handSeatFor(userID) == nil {
		return false
	}
	return !s.Folded[userID]
}

func (s *TableState) eligibleCount() int {
	n := 0
	for _, hs := range s.HandSeats {
		if s.eligibleToAct(hs.UserID) {
			n++
		}
	}
	return n
}

func (s *TableState) inHandCount() int {
	n := 0
	for _, hs := range s.HandSeats {
		if s.inHand(hs.UserID) {
			n++
		}
	}
	return n
}

var privateKeys = []string{"deck", "holeCardsByUserId"}

// ValidateForStorage enforces the storage-shape invariants before the
// document is allowed near the shared state row.
func ValidateForStorage(s *TableState) error {
	if s == nil {
		return stateInvalid("nil state document")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return stateInvalid("state not marshalable: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return stateInvalid("state not an object: %v", err)
	}
	for _, k := range privateKeys {
		if _, ok := doc[k]; ok {
			return stateInvalid("private field %q in storable state", k)
		}
	}
	if s.CommunityDealt != len(s.Community) {
		return stateInvalid("communityDealt=%d but %d community cards", s.CommunityDealt, len(s.Community))
	}
	if s.HandID != "" && s.HandSeed == "" {
		return stateInvalid("hand %s has no seed", s.HandID)
	}
	for uid, v := range s.Stacks {
		if v < 0 {
			return stateInvalid("negative stack %d for %s", v, uid)
		}
	}
	switch s.Phase {
	case PhaseInit, PhasePreflop, PhaseFlop, PhaseTurn, PhaseRiver, PhaseSettled, PhaseHandDone:
	default:
		return stateInvalid("unknown phase %q", s.Phase)
	}
	return nil
}
