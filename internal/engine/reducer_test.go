package engine

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"pokerhall/card"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func baseState(users ...string) *TableState {
	s := NewTableState()
	for i, uid := range users {
		s.Seats = append(s.Seats, SeatRef{SeatNo: i, UserID: uid})
		s.Stacks[uid] = 1000
	}
	return s
}

func testCfg(handID string) HandConfig {
	return HandConfig{
		SmallBlind:  10,
		BigBlind:    20,
		TurnTimeout: 30 * time.Second,
		HandID:      handID,
		HandSeed:    "seed-" + handID,
		Now:         testNow,
	}
}

func actInput(priv *HandPrivate, userID, action string, amount int64) ActInput {
	return ActInput{
		UserID:      userID,
		Action:      action,
		Amount:      amount,
		RequestID:   "req-" + userID + "-" + action,
		BigBlind:    20,
		TurnTimeout: 30 * time.Second,
		Now:         testNow,
		Hole:        priv.HoleCardsByUserID,
	}
}

func TestStartHandHeadsUp(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatalf("StartHand: %v", err)
	}
	if s.Phase != PhasePreflop {
		t.Fatalf("phase = %s", s.Phase)
	}
	if s.DealerSeatNo != 0 {
		t.Fatalf("dealer = %d", s.DealerSeatNo)
	}
	// Heads-up: dealer posts SB and acts first.
	if s.TurnUserID != "alice" {
		t.Fatalf("turn = %s", s.TurnUserID)
	}
	if s.Stacks["alice"] != 990 || s.Stacks["bob"] != 980 {
		t.Fatalf("stacks after blinds: %v", s.Stacks)
	}
	if s.Pot != 30 || s.CurrentBet != 20 || s.LastRaiseSize != 20 {
		t.Fatalf("pot=%d curBet=%d lastRaise=%d", s.Pot, s.CurrentBet, s.LastRaiseSize)
	}
	if s.ToCall["alice"] != 10 {
		t.Fatalf("toCall alice = %d", s.ToCall["alice"])
	}
	if len(priv.HoleCardsByUserID["alice"]) != 2 || len(priv.HoleCardsByUserID["bob"]) != 2 {
		t.Fatalf("hole cards: %v", priv.HoleCardsByUserID)
	}
	if s.TurnDeadlineAt == nil || !s.TurnDeadlineAt.Equal(testNow.Add(30*time.Second)) {
		t.Fatalf("deadline = %v", s.TurnDeadlineAt)
	}
}

func TestStartHandDeterministicDeal(t *testing.T) {
	s1, p1, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	_, p2, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, uid := range []string{"alice", "bob"} {
		for i := range p1.HoleCardsByUserID[uid] {
			if p1.HoleCardsByUserID[uid][i] != p2.HoleCardsByUserID[uid][i] {
				t.Fatalf("deal not deterministic for %s", uid)
			}
		}
	}
	if s1.HandSeed != "seed-h1" {
		t.Fatalf("seed = %s", s1.HandSeed)
	}
}

func TestNoPrivateLeakage(t *testing.T) {
	s, _, err := StartHand(baseState("alice", "bob", "carol"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(raw)
	if strings.Contains(doc, "deck") || strings.Contains(doc, "holeCardsByUserId") {
		t.Fatalf("private field leaked into public document: %s", doc)
	}
	if err := ValidateForStorage(s); err != nil {
		t.Fatalf("ValidateForStorage: %v", err)
	}
}

func TestDealerRotatesBetweenHands(t *testing.T) {
	s, _, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	d1 := s.DealerSeatNo

	// Fold out the first hand so a second can start.
	s2, out, err := Act(s, ActInput{
		UserID: s.TurnUserID, Action: ActionFold,
		BigBlind: 20, TurnTimeout: 30 * time.Second, Now: testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.HandEnded {
		t.Fatal("fold should end a heads-up hand")
	}

	s3, _, err := StartHand(s2, testCfg("h2"))
	if err != nil {
		t.Fatal(err)
	}
	if s3.DealerSeatNo == d1 {
		t.Fatalf("dealer did not rotate: %d -> %d", d1, s3.DealerSeatNo)
	}
	if s3.HandSettlement != nil {
		t.Fatal("stale handSettlement survived START_HAND")
	}
}

func TestStartHandRejectsShortTable(t *testing.T) {
	s := baseState("alice")
	if _, _, err := StartHand(s, testCfg("h1")); CodeOf(err) != CodeStateInvalid {
		t.Fatalf("err = %v", err)
	}

	s = baseState("alice", "bob")
	delete(s.Stacks, "bob")
	if _, _, err := StartHand(s, testCfg("h1")); CodeOf(err) != CodeStateInvalid {
		t.Fatalf("unresolvable stack: err = %v", err)
	}

	s = baseState("alice", "bob")
	cfg := testCfg("h1")
	cfg.SmallBlind = 50
	cfg.BigBlind = 20
	if _, _, err := StartHand(s, cfg); CodeOf(err) != CodeStateInvalid {
		t.Fatalf("bad stakes: err = %v", err)
	}
}

func TestFoldOutSettlement(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	// Heads-up: alice (dealer/SB) folds preflop, bob wins the blinds.
	s2, out, err := Act(s, actInput(priv, "alice", ActionFold, 0))
	if err != nil {
		t.Fatal(err)
	}
	if s2.Phase != PhaseHandDone {
		t.Fatalf("phase = %s", s2.Phase)
	}
	if out.Settlement == nil || out.Settlement.Reason != "fold_out" {
		t.Fatalf("settlement = %+v", out.Settlement)
	}
	if out.Settlement.Payouts["bob"] != 30 {
		t.Fatalf("payouts = %v", out.Settlement.Payouts)
	}
	// Pot merged into the winner's stack in the same document.
	if s2.Stacks["bob"] != 1010 || s2.Stacks["alice"] != 990 {
		t.Fatalf("stacks = %v", s2.Stacks)
	}
	if s2.Pot != 0 || s2.TurnUserID != "" {
		t.Fatalf("pot=%d turn=%q", s2.Pot, s2.TurnUserID)
	}
}

func playToShowdown(t *testing.T, users ...string) (*TableState, *ActOutcome) {
	t.Helper()
	s, priv, err := StartHand(baseState(users...), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	var out *ActOutcome
	for i := 0; i < 64; i++ {
		if !s.InActionPhase() {
			return s, out
		}
		legal, cons := LegalActions(s, s.TurnUserID)
		action := ActionCheck
		if !cons.CanCheck {
			action = ActionCall
		}
		if !contains(legal, action) {
			t.Fatalf("no %s in legal actions %v", action, legal)
		}
		s2, o, err := Act(s, actInput(priv, s.TurnUserID, action, 0))
		if err != nil {
			t.Fatalf("act %s by %s: %v", action, s.TurnUserID, err)
		}
		s, out = s2, o
	}
	t.Fatal("hand did not finish in 64 actions")
	return nil, nil
}

func TestCheckCallToShowdown(t *testing.T) {
	s, out := playToShowdown(t, "alice", "bob", "carol")
	if s.Phase != PhaseSettled {
		t.Fatalf("phase = %s", s.Phase)
	}
	if len(s.Community) != 5 || s.CommunityDealt != 5 {
		t.Fatalf("community = %v dealt=%d", s.Community, s.CommunityDealt)
	}
	if out.Settlement == nil || out.Settlement.Reason != "showdown" {
		t.Fatalf("settlement = %+v", out.Settlement)
	}
	var total, stacks int64
	for _, v := range out.Settlement.Payouts {
		total += v
	}
	if total != 60 { // three users in for the big blind each
		t.Fatalf("payout total = %d", total)
	}
	for _, v := range s.Stacks {
		stacks += v
	}
	if stacks != 3000 {
		t.Fatalf("chips not conserved: %d", stacks)
	}
}

func TestShowdownFailsClosedWithoutHoleCards(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	// Remove bob's hole cards from the read-back set.
	broken := map[string][]card.Card{"alice": priv.HoleCardsByUserID["alice"]}

	var lastErr error
	for i := 0; i < 16 && s.InActionPhase(); i++ {
		_, cons := LegalActions(s, s.TurnUserID)
		action := ActionCheck
		if !cons.CanCheck {
			action = ActionCall
		}
		in := actInput(priv, s.TurnUserID, action, 0)
		in.Hole = broken
		next, _, err := Act(s, in)
		if err != nil {
			lastErr = err
			break
		}
		s = next
	}
	if CodeOf(lastErr) != CodeStateInvalid {
		t.Fatalf("expected state_invalid at showdown, got %v", lastErr)
	}
}

func TestQueuedLeaveOfActingSeat(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob", "carol"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	leaver := s.TurnUserID
	s2, out, err := QueueLeave(s, leaver, actInput(priv, leaver, ActionFold, 0))
	if err != nil {
		t.Fatalf("QueueLeave: %v", err)
	}
	if !s2.LeftTable[leaver] || !s2.Folded[leaver] {
		t.Fatalf("leaver flags: left=%v folded=%v", s2.LeftTable[leaver], s2.Folded[leaver])
	}
	if s2.TurnUserID == leaver {
		t.Fatal("turn stayed with the departed user")
	}
	if s2.TurnUserID == "" && s2.InActionPhase() {
		t.Fatal("no turn assigned in action phase")
	}
	// Stack stays in the document until the hand settles.
	if _, ok := s2.Stacks[leaver]; !ok {
		t.Fatal("leaver stack removed mid-hand")
	}
	_ = out
}

func TestLeftUserNeverHandedTurn(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob", "carol", "dave"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	// A non-acting user leaves; drive the hand and assert the reducer
	// never gives them (or any folded user) the turn.
	var leaver string
	for _, hs := range s.HandSeats {
		if hs.UserID != s.TurnUserID {
			leaver = hs.UserID
			break
		}
	}
	s, _, err = QueueLeave(s, leaver, actInput(priv, leaver, ActionFold, 0))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 64 && s.InActionPhase(); i++ {
		if s.LeftTable[s.TurnUserID] {
			t.Fatalf("turn handed to departed user %s", s.TurnUserID)
		}
		if s.Folded[s.TurnUserID] {
			t.Fatalf("turn handed to folded user %s", s.TurnUserID)
		}
		_, cons := LegalActions(s, s.TurnUserID)
		action := ActionCheck
		if !cons.CanCheck {
			action = ActionCall
		}
		next, _, err := Act(s, actInput(priv, s.TurnUserID, action, 0))
		if err != nil {
			t.Fatal(err)
		}
		s = next
	}
}

func TestActRejections(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob", "carol"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}

	var bystander string
	for _, hs := range s.HandSeats {
		if hs.UserID != s.TurnUserID {
			bystander = hs.UserID
			break
		}
	}
	if _, _, err := Act(s, actInput(priv, bystander, ActionCheck, 0)); CodeOf(err) != CodeOutOfTurn {
		t.Fatalf("out of turn: %v", err)
	}

	// Facing the big blind, CHECK is illegal.
	if s.ToCall[s.TurnUserID] > 0 {
		if _, _, err := Act(s, actInput(priv, s.TurnUserID, ActionCheck, 0)); CodeOf(err) != CodeBadAction {
			t.Fatalf("check facing bet: %v", err)
		}
	}

	// A departed user gets a 409, not a silent correction.
	s2 := s.Clone()
	s2.LeftTable = map[string]bool{s.TurnUserID: true}
	if _, _, err := Act(s2, actInput(priv, s.TurnUserID, ActionCheck, 0)); CodeOf(err) != CodePlayerLeft {
		t.Fatalf("player_left: %v", err)
	}
}

func TestMinRaiseAndReopen(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob", "carol"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	actor := s.TurnUserID
	_, cons := LegalActions(s, actor)
	if cons.MinRaiseTo != 40 { // bb 20 + last raise size 20
		t.Fatalf("minRaiseTo = %d", cons.MinRaiseTo)
	}

	// Raise below minimum (and not all-in) is rejected.
	if _, _, err := Act(s, actInput(priv, actor, ActionRaise, 30)); CodeOf(err) != CodeBadAction {
		t.Fatalf("short raise: %v", err)
	}

	s2, _, err := Act(s, actInput(priv, actor, ActionRaise, 60))
	if err != nil {
		t.Fatal(err)
	}
	if s2.CurrentBet != 60 || s2.LastRaiseSize != 40 {
		t.Fatalf("curBet=%d lastRaise=%d", s2.CurrentBet, s2.LastRaiseSize)
	}
	// The raise re-opened action for the other players.
	if s2.Acted[s2.TurnUserID] {
		t.Fatalf("next actor %s still marked acted", s2.TurnUserID)
	}
}

func TestOverbetBecomesAllIn(t *testing.T) {
	s, priv, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	actor := s.TurnUserID
	s2, _, err := Act(s, actInput(priv, actor, ActionRaise, 5000))
	if err != nil {
		t.Fatal(err)
	}
	if !s2.AllIn[actor] {
		t.Fatal("overbet did not convert to all-in")
	}
	if s2.Stacks[actor] != 0 {
		t.Fatalf("stack = %d", s2.Stacks[actor])
	}
	if s2.CurrentBet != 1000 {
		t.Fatalf("currentBet = %d", s2.CurrentBet)
	}
}

func TestTimeoutActionSelection(t *testing.T) {
	s, _, err := StartHand(baseState("alice", "bob"), testCfg("h1"))
	if err != nil {
		t.Fatal(err)
	}
	// Heads-up preflop: SB faces the BB, so the timeout folds.
	if got := TimeoutAction(s); got != ActionFold {
		t.Fatalf("TimeoutAction = %s", got)
	}

	free := s.Clone()
	free.ToCall = nil
	if got := TimeoutAction(free); got != ActionCheck {
		t.Fatalf("TimeoutAction = %s", got)
	}

	if TurnExpired(s, testNow) {
		t.Fatal("deadline not yet elapsed")
	}
	if !TurnExpired(s, testNow.Add(31*time.Second)) {
		t.Fatal("deadline elapsed but not reported")
	}
}
