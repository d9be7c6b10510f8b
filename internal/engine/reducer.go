package engine

import (
	"time"

	"pokerhall/card"
)

// HandConfig carries the per-hand parameters resolved by the caller
// from the table row.
type HandConfig struct {
	SmallBlind  int64
	BigBlind    int64
	TurnTimeout time.Duration
	HandID      string
	HandSeed    string
	Now         time.Time
}

// ActInput is one betting action. Amount is the total bet this round
// the user is moving to ("raise to" semantics); CALL and CHECK ignore
// it and FOLD requires none.
type ActInput struct {
	UserID      string
	Action      string
	Amount      int64
	RequestID   string
	BigBlind    int64
	TurnTimeout time.Duration
	Now         time.Time
	// Hole cards for every user dealt this hand, read back from the
	// private store. Required whenever the action could close the hand
	// into a showdown; a missing hand fails closed.
	Hole map[string][]card.Card
}

// Event is an observable gameplay event emitted by a reducer step.
type Event struct {
	Type   string      `json:"type"`
	UserID string      `json:"userId,omitempty"`
	Action string      `json:"action,omitempty"`
	Amount int64       `json:"amount,omitempty"`
	Phase  string      `json:"phase,omitempty"`
	Cards  []card.Card `json:"cards,omitempty"`
}

// ActOutcome reports what a reducer step did beyond the new document.
type ActOutcome struct {
	Events     []Event     `json:"events"`
	PhaseFrom  string      `json:"phaseFrom"`
	PhaseTo    string      `json:"phaseTo"`
	HandEnded  bool        `json:"handEnded"`
	Settlement *Settlement `json:"settlement,omitempty"`
	AutoFolded []string    `json:"autoFolded,omitempty"`
}

func (c HandConfig) validate() error {
	if c.SmallBlind < 0 || c.BigBlind <= 0 || c.SmallBlind > c.BigBlind {
		return stateInvalid("invalid stakes sb=%d bb=%d", c.SmallBlind, c.BigBlind)
	}
	if c.HandID == "" || c.HandSeed == "" {
		return stateInvalid("hand id and seed are required")
	}
	return nil
}

// StartHand deals a new hand: rotates the dealer, posts blinds, derives
// the deterministic deck and returns the public document plus the
// private projection. The input document is never mutated.
func StartHand(prev *TableState, cfg HandConfig) (*TableState, *HandPrivate, error) {
	if prev.HandActive() {
		return nil, nil, &Error{Code: "hand_in_progress", Msg: "hand " + prev.HandID + " still running"}
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	s := prev.Clone()

	// Eligible users: seated, not sitting out, not departing, and with a
	// resolvable positive stack.
	active := make([]SeatRef, 0, len(s.Seats))
	for _, seat := range s.Seats {
		if s.SitOut[seat.UserID] || s.LeftTable[seat.UserID] {
			continue
		}
		stack, ok := s.Stacks[seat.UserID]
		if !ok || stack < 0 {
			return nil, nil, stateInvalid("unresolvable stack for seated user %s", seat.UserID)
		}
		if stack == 0 {
			continue
		}
		active = append(active, seat)
	}
	if len(active) < 2 {
		return nil, nil, stateInvalid("need at least two active users, have %d", len(active))
	}

	s.HandID = cfg.HandID
	s.HandSeed = cfg.HandSeed
	s.HandSettlement = nil
	s.HandSeats = active
	s.Community = []card.Card{}
	s.CommunityDealt = 0
	s.Pot = 0
	s.CurrentBet = 0
	s.Folded = map[string]bool{}
	s.AllIn = map[string]bool{}
	s.Acted = map[string]bool{}
	s.BetThisRound = map[string]int64{}
	s.Contributions = map[string]int64{}
	s.ToCall = map[string]int64{}
	s.LastActionRequestID = map[string]string{}

	s.DealerSeatNo = nextActiveSeatAfter(active, prev.DealerSeatNo)

	dealerIdx := handIndex(s, bySeatNo(s, s.DealerSeatNo))
	var sbIdx, bbIdx int
	if len(active) == 2 {
		// Heads-up: the dealer posts the small blind and acts first preflop.
		sbIdx = dealerIdx
		bbIdx = (dealerIdx + 1) % len(active)
	} else {
		sbIdx = (dealerIdx + 1) % len(active)
		bbIdx = (sbIdx + 1) % len(active)
	}

	out := &ActOutcome{PhaseFrom: prev.Phase, PhaseTo: PhasePreflop}
	postBlind(s, out, s.HandSeats[sbIdx].UserID, cfg.SmallBlind)
	postBlind(s, out, s.HandSeats[bbIdx].UserID, cfg.BigBlind)
	s.CurrentBet = cfg.BigBlind
	s.LastRaiseSize = cfg.BigBlind
	refreshToCall(s)

	deck, err := card.DeriveDeck(cfg.HandSeed)
	if err != nil {
		return nil, nil, stateInvalid("deck derivation: %v", err)
	}
	// Deal starting from the small blind, matching live dealing order.
	dealOrder := make([]string, 0, len(active))
	for i := 0; i < len(active); i++ {
		dealOrder = append(dealOrder, s.HandSeats[(sbIdx+i)%len(active)].UserID)
	}
	hole, rest, err := card.DealHoleCards(deck, dealOrder)
	if err != nil {
		return nil, nil, stateInvalid("deal: %v", err)
	}

	s.Phase = PhasePreflop
	first := (bbIdx + 1) % len(active)
	setTurn(s, firstEligibleFrom(s, first), cfg.Now, cfg.TurnTimeout)
	if s.TurnUserID == "" {
		// Blinds already put everyone all-in; run the board out.
		priv := &HandPrivate{Deck: rest, HoleCardsByUserID: hole}
		if err := runOutAndSettle(s, out, hole); err != nil {
			return nil, nil, err
		}
		if err := ValidateForStorage(s); err != nil {
			return nil, nil, err
		}
		return s, priv, nil
	}

	if err := ValidateForStorage(s); err != nil {
		return nil, nil, err
	}
	return s, &HandPrivate{Deck: rest, HoleCardsByUserID: hole}, nil
}

// Act validates and applies a betting action for the current actor.
func Act(prev *TableState, in ActInput) (*TableState, *ActOutcome, error) {
	if !prev.InActionPhase() {
		return nil, nil, &Error{Code: CodeNoHand, Msg: "phase " + prev.Phase + " takes no actions"}
	}
	if prev.LeftTable[in.UserID] {
		return nil, nil, &Error{Code: CodePlayerLeft, Msg: in.UserID + " has left the table"}
	}
	if prev.TurnUserID != in.UserID {
		return nil, nil, &Error{Code: CodeOutOfTurn, Msg: "turn belongs to " + prev.TurnUserID}
	}

	legal, cons := LegalActions(prev, in.UserID)
	if !contains(legal, in.Action) {
		return nil, nil, badAction("%s is not legal here (legal: %v)", in.Action, legal)
	}

	s := prev.Clone()
	out := &ActOutcome{PhaseFrom: s.Phase}

	uid := in.UserID
	switch in.Action {
	case ActionCheck:
		// no chips move

	case ActionFold:
		s.Folded[uid] = true
		delete(s.ToCall, uid)

	case ActionCall:
		commit(s, uid, min64(cons.ToCall, s.Stacks[uid]))

	case ActionBet, ActionRaise:
		raiseTo := in.Amount
		maxTo := s.BetThisRound[uid] + s.Stacks[uid]
		if raiseTo > maxTo {
			raiseTo = maxTo
		}
		if raiseTo <= s.CurrentBet {
			return nil, nil, badAction("%s to %d does not exceed current bet %d", in.Action, raiseTo, s.CurrentBet)
		}
		raiseSize := raiseTo - s.CurrentBet
		// A raise below the last full raise size does not re-open the
		// action; it is only legal as an all-in.
		fullRaise := raiseSize >= s.LastRaiseSize
		if !fullRaise && raiseTo < maxTo {
			return nil, nil, badAction("raise to %d below minimum %d", raiseTo, cons.MinRaiseTo)
		}
		commit(s, uid, raiseTo-s.BetThisRound[uid])
		s.CurrentBet = raiseTo
		if fullRaise {
			s.LastRaiseSize = raiseSize
			// A full raise re-opens the action for everyone else.
			for _, hs := range s.HandSeats {
				if hs.UserID != uid {
					delete(s.Acted, hs.UserID)
				}
			}
		}

	default:
		return nil, nil, badAction("unknown action %q", in.Action)
	}

	s.Acted[uid] = true
	if in.RequestID != "" {
		s.LastActionRequestID[uid] = in.RequestID
	}
	refreshToCall(s)
	out.Events = append(out.Events, Event{
		Type: "action", UserID: uid, Action: in.Action,
		Amount: s.BetThisRound[uid], Phase: s.Phase,
	})

	if err := resolveAfterAction(s, out, in); err != nil {
		return nil, nil, err
	}
	out.PhaseTo = s.Phase
	if err := ValidateForStorage(s); err != nil {
		return nil, nil, err
	}
	return s, out, nil
}

// QueueLeave folds a mid-hand user and flags them as departed. The
// seat and stack stay in the document until the hand settles so pot
// math stays intact.
func QueueLeave(prev *TableState, userID string, in ActInput) (*TableState, *ActOutcome, error) {
	if prev.handSeatFor(userID) == nil {
		return nil, nil, &Error{Code: CodePlayerLeft, Msg: userID + " is not in the current hand"}
	}
	s := prev.Clone()
	out := &ActOutcome{PhaseFrom: s.Phase}

	if s.LeftTable == nil {
		s.LeftTable = map[string]bool{}
	}
	s.LeftTable[userID] = true
	wasTurn := s.TurnUserID == userID
	if !s.Folded[userID] {
		s.Folded[userID] = true
		out.Events = append(out.Events, Event{Type: "auto_fold", UserID: userID, Phase: s.Phase})
	}
	s.Acted[userID] = true
	delete(s.ToCall, userID)
	refreshToCall(s)

	// Only re-resolve when the departure can move the game: it was the
	// leaver's turn, the hand collapsed to one user, or their fold
	// completed the round. Otherwise the turn stays where it was.
	if wasTurn || s.inHandCount() <= 1 || roundClosed(s) {
		if err := resolveAfterAction(s, out, in); err != nil {
			return nil, nil, err
		}
	}
	out.PhaseTo = s.Phase
	if err := ValidateForStorage(s); err != nil {
		return nil, nil, err
	}
	return s, out, nil
}

// TimeoutAction picks the auto-action for an expired turn: check when
// free, fold when facing a bet.
func TimeoutAction(s *TableState) string {
	if s.ToCall[s.TurnUserID] > 0 {
		return ActionFold
	}
	return ActionCheck
}

// TurnExpired reports whether the current turn deadline has elapsed.
func TurnExpired(s *TableState, now time.Time) bool {
	if !s.InActionPhase() || s.TurnUserID == "" || s.TurnDeadlineAt == nil {
		return false
	}
	return !now.Before(*s.TurnDeadlineAt)
}

// --- internals ---

// resolveAfterAction runs the shared post-action logic: fold-out
// detection, betting-round close, phase advance, turn assignment.
func resolveAfterAction(s *TableState, out *ActOutcome, in ActInput) error {
	if s.inHandCount() <= 1 {
		settle, err := settleFoldOut(s)
		if err != nil {
			return err
		}
		applySettlement(s, settle, PhaseHandDone)
		out.HandEnded = true
		out.Settlement = settle
		out.Events = append(out.Events, Event{Type: "settlement", Phase: s.Phase})
		return nil
	}

	if !roundClosed(s) {
		return advanceTurn(s, out, in)
	}

	// Round closed. With nobody left to act, run the board out.
	if s.eligibleCount() <= 1 {
		return runOutAndSettle(s, out, in.Hole)
	}

	switch s.Phase {
	case PhasePreflop, PhaseFlop, PhaseTurn:
		if err := advancePhase(s, out); err != nil {
			return err
		}
		bb := in.BigBlind
		s.CurrentBet = 0
		s.LastRaiseSize = bb
		s.Acted = map[string]bool{}
		s.BetThisRound = map[string]int64{}
		refreshToCall(s)
		dealerIdx := handIndex(s, bySeatNo(s, s.DealerSeatNo))
		setTurn(s, firstEligibleFrom(s, (dealerIdx+1)%len(s.HandSeats)), in.Now, in.TurnTimeout)
		if s.TurnUserID == "" {
			return runOutAndSettle(s, out, in.Hole)
		}
		if err := autoFoldLeftTurn(s, out, in); err != nil {
			return err
		}
		return nil

	case PhaseRiver:
		settle, err := settleShowdown(s, in.Hole)
		if err != nil {
			return err
		}
		applySettlement(s, settle, PhaseSettled)
		out.HandEnded = true
		out.Settlement = settle
		out.Events = append(out.Events, Event{Type: "settlement", Phase: s.Phase})
		return nil
	}
	return stateInvalid("round closed in unexpected phase %s", s.Phase)
}

// roundClosed reports whether every user who can still act has acted
// and matched the current bet.
func roundClosed(s *TableState) bool {
	for _, hs := range s.HandSeats {
		uid := hs.UserID
		if !s.eligibleToAct(uid) {
			continue
		}
		if !s.Acted[uid] || s.ToCall[uid] > 0 {
			return false
		}
	}
	return true
}

// advanceTurn hands the turn to the next eligible seat after the
// current actor. Departed users are never handed the turn: they are
// auto-folded in passing and the scan continues.
func advanceTurn(s *TableState, out *ActOutcome, in ActInput) error {
	cur := handIndex(s, s.TurnUserID)
	if cur < 0 {
		return stateInvalid("turn user %s not in hand", s.TurnUserID)
	}
	n := len(s.HandSeats)
	for step := 1; step <= n; step++ {
		hs := s.HandSeats[(cur+step)%n]
		uid := hs.UserID
		if s.Folded[uid] || s.AllIn[uid] {
			continue
		}
		if s.LeftTable[uid] {
			s.Folded[uid] = true
			s.Acted[uid] = true
			delete(s.ToCall, uid)
			out.AutoFolded = append(out.AutoFolded, uid)
			out.Events = append(out.Events, Event{Type: "auto_fold", UserID: uid, Phase: s.Phase})
			continue
		}
		if s.Acted[uid] && s.ToCall[uid] == 0 {
			// Owes nothing and has spoken; keep scanning for someone
			// who still owes an action.
			continue
		}
		setTurn(s, uid, in.Now, in.TurnTimeout)
		return nil
	}
	// Nobody owes an action: the round is closed (or an auto-fold just
	// ended the hand). Re-resolve; roundClosed now holds, so this does
	// not recurse back here.
	return resolveAfterAction(s, out, in)
}

// autoFoldLeftTurn clears a departed user who would otherwise open the
// new betting round.
func autoFoldLeftTurn(s *TableState, out *ActOutcome, in ActInput) error {
	uid := s.TurnUserID
	if uid == "" || !s.LeftTable[uid] {
		return nil
	}
	s.Folded[uid] = true
	s.Acted[uid] = true
	delete(s.ToCall, uid)
	out.AutoFolded = append(out.AutoFolded, uid)
	out.Events = append(out.Events, Event{Type: "auto_fold", UserID: uid, Phase: s.Phase})
	return resolveAfterAction(s, out, in)
}

// advancePhase moves to the next street and reveals its community
// cards from the deterministic deck.
func advancePhase(s *TableState, out *ActOutcome) error {
	var next string
	var count int
	switch s.Phase {
	case PhasePreflop:
		next, count = PhaseFlop, 3
	case PhaseFlop:
		next, count = PhaseTurn, 4
	case PhaseTurn:
		next, count = PhaseRiver, 5
	default:
		return stateInvalid("cannot advance phase from %s", s.Phase)
	}
	if err := revealCommunity(s, count); err != nil {
		return err
	}
	s.Phase = next
	out.Events = append(out.Events, Event{
		Type: "phase_advanced", Phase: next,
		Cards: append([]card.Card(nil), s.Community...),
	})
	return nil
}

// revealCommunity extends the board to total cards, re-deriving the
// deck from the hand seed so reveals are reproducible.
func revealCommunity(s *TableState, total int) error {
	if total < len(s.Community) || total > 5 {
		return stateInvalid("cannot reveal %d community cards from %d", total, len(s.Community))
	}
	deck, err := card.DeriveDeck(s.HandSeed)
	if err != nil {
		return stateInvalid("deck derivation: %v", err)
	}
	skip := 2 * len(s.HandSeats)
	if skip+total > len(deck) {
		return stateInvalid("deck exhausted")
	}
	board := deck[skip : skip+total]
	// The already-revealed prefix must agree with the derivation.
	for i, c := range s.Community {
		if board[i] != c {
			return stateInvalid("community card %d diverges from hand seed", i)
		}
	}
	s.Community = append([]card.Card(nil), board...)
	s.CommunityDealt = total
	return nil
}

// runOutAndSettle deals the full board and settles the showdown. Used
// when no further betting is possible (everyone all-in or folded out
// of the action).
func runOutAndSettle(s *TableState, out *ActOutcome, hole map[string][]card.Card) error {
	if s.inHandCount() <= 1 {
		settle, err := settleFoldOut(s)
		if err != nil {
			return err
		}
		applySettlement(s, settle, PhaseHandDone)
		out.HandEnded = true
		out.Settlement = settle
		return nil
	}
	if err := revealCommunity(s, 5); err != nil {
		return err
	}
	s.Phase = PhaseRiver
	settle, err := settleShowdown(s, hole)
	if err != nil {
		return err
	}
	applySettlement(s, settle, PhaseSettled)
	out.HandEnded = true
	out.Settlement = settle
	out.Events = append(out.Events, Event{Type: "settlement", Phase: s.Phase})
	return nil
}

// commit moves chips from a user's stack into the current round.
func commit(s *TableState, userID string, amount int64) {
	if amount <= 0 {
		return
	}
	if amount >= s.Stacks[userID] {
		amount = s.Stacks[userID]
		s.AllIn[userID] = true
	}
	s.Stacks[userID] -= amount
	s.BetThisRound[userID] += amount
	s.Contributions[userID] += amount
	s.Pot += amount
}

func postBlind(s *TableState, out *ActOutcome, userID string, blind int64) {
	if blind <= 0 {
		return
	}
	commit(s, userID, blind)
	out.Events = append(out.Events, Event{
		Type: "blind_posted", UserID: userID, Amount: s.BetThisRound[userID], Phase: PhasePreflop,
	})
}

// refreshToCall recomputes the outstanding call amount for every user
// who can still act.
func refreshToCall(s *TableState) {
	toCall := map[string]int64{}
	for _, hs := range s.HandSeats {
		uid := hs.UserID
		if !s.eligibleToAct(uid) {
			continue
		}
		if owed := s.CurrentBet - s.BetThisRound[uid]; owed > 0 {
			toCall[uid] = owed
		}
	}
	if len(toCall) == 0 {
		s.ToCall = nil
		return
	}
	s.ToCall = toCall
}

func setTurn(s *TableState, userID string, now time.Time, timeout time.Duration) {
	s.TurnUserID = userID
	if userID == "" {
		s.TurnStartedAt = nil
		s.TurnDeadlineAt = nil
		return
	}
	started := now.UTC()
	s.TurnStartedAt = &started
	if timeout > 0 {
		deadline := started.Add(timeout)
		s.TurnDeadlineAt = &deadline
	} else {
		s.TurnDeadlineAt = nil
	}
}

// firstEligibleFrom scans hand seats from idx for a user who can act.
// Departed users are skipped here, not folded; the caller decides.
func firstEligibleFrom(s *TableState, idx int) string {
	n := len(s.HandSeats)
	for i := 0; i < n; i++ {
		uid := s.HandSeats[(idx+i)%n].UserID
		if s.eligibleToAct(uid) || (s.LeftTable[uid] && !s.Folded[uid]) {
			return uid
		}
	}
	return ""
}

// nextActiveSeatAfter rotates the dealer button: the next occupied seat
// number after prev, wrapping; the lowest seat when there is no prior
// dealer among the active seats.
func nextActiveSeatAfter(active []SeatRef, prev int) int {
	best := -1
	lowest := active[0].SeatNo
	for _, seat := range active {
		if seat.SeatNo < lowest {
			lowest = seat.SeatNo
		}
		if seat.SeatNo > prev && (best == -1 || seat.SeatNo < best) {
			best = seat.SeatNo
		}
	}
	if best == -1 {
		return lowest
	}
	return best
}

func handIndex(s *TableState, userID string) int {
	for i, hs := range s.HandSeats {
		if hs.UserID == userID {
			return i
		}
	}
	return -1
}

func bySeatNo(s *TableState, seatNo int) string {
	for _, hs := range s.HandSeats {
		if hs.SeatNo == seatNo {
			return hs.UserID
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
