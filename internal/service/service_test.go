package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"pokerhall/internal/engine"
	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
)

type fixture struct {
	svc    *Service
	store  *store.Memory
	poster *ledger.MemoryPoster
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemory(),
		poster: ledger.NewMemoryPoster(),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.poster, DefaultConfig())
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) createTable(t *testing.T) string {
	t.Helper()
	res, err := f.svc.CreateTable(context.Background(), CreateTableInput{
		CreatedBy: "alice", SmallBlind: 10, BigBlind: 20, MaxPlayers: 6,
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return res.TableID
}

func (f *fixture) join(t *testing.T, tableID, userID string, buyIn int64, bot bool) {
	t.Helper()
	_, err := f.svc.Join(context.Background(), JoinInput{
		TableID: tableID, UserID: userID, RequestID: "join-" + userID,
		BuyIn: buyIn, SeatNo: -1, IsBot: bot, BotProfile: "standard",
	})
	if err != nil {
		t.Fatalf("Join %s: %v", userID, err)
	}
}

func decodeMap(t *testing.T, out *Outcome) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(out.Result, &v); err != nil {
		t.Fatalf("decode result %s: %v", out.Result, err)
	}
	return v
}

func (f *fixture) stateOf(t *testing.T, tableID, userID string) (*StateView, *engine.TableState) {
	t.Helper()
	view, err := f.svc.State(context.Background(), tableID, userID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	st := &engine.TableState{}
	if err := json.Unmarshal(view.State, st); err != nil {
		t.Fatal(err)
	}
	return view, st
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()

	in := JoinInput{TableID: tableID, UserID: "alice", RequestID: "r1", BuyIn: 500, SeatNo: -1}
	first, err := f.svc.Join(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Join(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed {
		t.Fatal("retry did not replay")
	}
	if string(second.Result) != string(first.Result) {
		t.Fatalf("replay differs:\n%s\n%s", first.Result, second.Result)
	}
	// Exactly one escrow posting despite two calls.
	bal, _ := f.poster.AccountBalance(ctx, ledger.AccountEscrow, ledger.EscrowKeyForTable(tableID))
	if bal != 500 {
		t.Fatalf("escrow = %d", bal)
	}
	// A fresh request id while still seated is a domain rejection.
	in.RequestID = "r2"
	if _, err := f.svc.Join(ctx, in); CodeOf(err) != CodeAlreadySeated {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()

	if _, err := f.svc.Join(ctx, JoinInput{TableID: "nope", UserID: "a", RequestID: "r", BuyIn: 100, SeatNo: -1}); CodeOf(err) != CodeTableNotFound {
		t.Fatalf("missing table: %v", err)
	}
	if _, err := f.svc.Join(ctx, JoinInput{TableID: tableID, UserID: "a", RequestID: "r", BuyIn: 0, SeatNo: -1}); CodeOf(err) != CodeInvalidBuyIn {
		t.Fatalf("zero buy-in: %v", err)
	}
}

func TestLeaveWithoutHandCashesOut(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 124, false)

	out, err := f.svc.Leave(ctx, LeaveInput{TableID: tableID, UserID: "alice", RequestID: "leave-1"})
	if err != nil {
		t.Fatal(err)
	}
	res := decodeMap(t, out)
	if res["status"] != "left" || res["cashedOut"] != float64(124) {
		t.Fatalf("res = %v", res)
	}
	// Escrow emptied back to the user.
	bal, _ := f.poster.AccountBalance(ctx, ledger.AccountEscrow, ledger.EscrowKeyForTable(tableID))
	if bal != 0 {
		t.Fatalf("escrow = %d", bal)
	}
	userBal, _ := f.poster.AccountBalance(ctx, ledger.AccountUser, "alice")
	if userBal != 0 {
		t.Fatalf("user balance = %d", userBal)
	}
	// Seat gone; user stripped from the document.
	_, st := f.stateOf(t, tableID, "alice")
	if len(st.Seats) != 0 {
		t.Fatalf("seats = %v", st.Seats)
	}
	if _, ok := st.Stacks["alice"]; ok {
		t.Fatal("stack survived detach")
	}

	// Same request id replays; a new one reports already_left.
	replay, err := f.svc.Leave(ctx, LeaveInput{TableID: tableID, UserID: "alice", RequestID: "leave-1"})
	if err != nil || !replay.Replayed {
		t.Fatalf("replay: %+v err=%v", replay, err)
	}
	out2, err := f.svc.Leave(ctx, LeaveInput{TableID: tableID, UserID: "alice", RequestID: "leave-2"})
	if err != nil {
		t.Fatal(err)
	}
	if res2 := decodeMap(t, out2); res2["status"] != "already_left" {
		t.Fatalf("res = %v", res2)
	}
	if f.poster.Transactions() != 2 { // buy-in plus one cash-out
		t.Fatalf("%d ledger postings", f.poster.Transactions())
	}
}

func TestLeaveMidHandQueues(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bob", 1000, false)
	f.join(t, tableID, "carol", 1000, false)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}
	_, st := f.stateOf(t, tableID, "alice")
	if st.Phase != engine.PhasePreflop {
		t.Fatalf("phase = %s", st.Phase)
	}
	leaver := st.TurnUserID

	out, err := f.svc.Leave(ctx, LeaveInput{TableID: tableID, UserID: leaver, RequestID: "leave-1"})
	if err != nil {
		t.Fatal(err)
	}
	res := decodeMap(t, out)
	if res["status"] != "leave_queued" {
		t.Fatalf("res = %v", res)
	}
	if res["cashedOut"] != float64(0) {
		t.Fatalf("cashedOut = %v", res["cashedOut"])
	}

	_, st2 := f.stateOf(t, tableID, leaver)
	if st2.TurnUserID == leaver {
		t.Fatal("turn stayed with the departed user")
	}
	if !st2.LeftTable[leaver] {
		t.Fatal("leftTable flag not set")
	}
	// Chips stay in the hand until settlement.
	if _, ok := st2.Stacks[leaver]; !ok {
		t.Fatal("stack stripped mid-hand")
	}
}

func TestHandPlaysToCompletionWithBots(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bot-1", 1000, true)
	f.join(t, tableID, "bot-2", 1000, true)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}

	// Drive alice with check/call until the hand ends. Bots play inside
	// each request; if a bot still holds the turn after the loop cap, an
	// expired heartbeat forces it forward.
	for i := 0; i < 60; i++ {
		view, st := f.stateOf(t, tableID, "alice")
		if !st.InActionPhase() {
			if st.Phase != engine.PhaseSettled && st.Phase != engine.PhaseHandDone {
				t.Fatalf("terminal phase = %s", st.Phase)
			}
			if st.HandSettlement == nil {
				t.Fatal("no settlement recorded")
			}
			var total int64
			for _, v := range st.Stacks {
				total += v
			}
			if total != 3000 {
				t.Fatalf("chips not conserved: %d", total)
			}
			return
		}
		if st.TurnUserID != "alice" {
			f.advance(31 * time.Second)
			if _, err := f.svc.Heartbeat(ctx, HeartbeatInput{
				TableID: tableID, UserID: "alice", RequestID: "hb-" + strconv.Itoa(i),
			}); err != nil {
				t.Fatalf("heartbeat %d: %v", i, err)
			}
			continue
		}
		if view.ActionConstraints == nil {
			t.Fatal("no constraints for actor")
		}
		action := engine.ActionCheck
		if !view.ActionConstraints.CanCheck {
			action = engine.ActionCall
		}
		if _, err := f.svc.Act(ctx, ActInput{
			TableID: tableID, UserID: "alice",
			RequestID: "act-" + strconv.Itoa(i), Action: action,
		}); err != nil {
			t.Fatalf("act %d: %v", i, err)
		}
	}
	t.Fatal("hand did not finish")
}

func TestActReplayReturnsStoredResult(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bob", 1000, false)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}
	_, st := f.stateOf(t, tableID, "alice")
	in := ActInput{TableID: tableID, UserID: st.TurnUserID, RequestID: "act-1", Action: engine.ActionCall}
	first, err := f.svc.Act(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Act(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || string(second.Result) != string(first.Result) {
		t.Fatalf("replay mismatch:\n%s\n%s", first.Result, second.Result)
	}
	// The replay did not advance the state again.
	_, st2 := f.stateOf(t, tableID, "alice")
	if st2.TurnUserID == in.UserID {
		t.Fatal("turn did not move off the actor")
	}
}

func TestHeartbeatTimeoutIsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bob", 1000, false)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}
	f.advance(31 * time.Second)

	out, err := f.svc.Heartbeat(ctx, HeartbeatInput{TableID: tableID, UserID: "bob", RequestID: "hb-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res := decodeMap(t, out); res["timeoutApplied"] != true {
		t.Fatalf("res = %v", res)
	}

	out2, err := f.svc.Heartbeat(ctx, HeartbeatInput{TableID: tableID, UserID: "bob", RequestID: "hb-2"})
	if err != nil {
		t.Fatal(err)
	}
	if res2 := decodeMap(t, out2); res2["timeoutApplied"] == true {
		t.Fatal("second heartbeat re-applied the timeout")
	}

	timeouts := 0
	for _, a := range f.store.Actions(tableID) {
		if strings.HasPrefix(a.ActionType, "TIMEOUT_") {
			timeouts++
		}
	}
	if timeouts != 1 {
		t.Fatalf("%d timeout audit rows", timeouts)
	}
}

func TestHeartbeatRequiresSeat(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	_, err := f.svc.Heartbeat(context.Background(), HeartbeatInput{TableID: tableID, UserID: "ghost", RequestID: "hb-1"})
	if CodeOf(err) != CodeNotSeated {
		t.Fatalf("err = %v", err)
	}
}

func TestStateHidesPrivateFields(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bob", 1000, false)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}

	view, _ := f.stateOf(t, tableID, "alice")
	doc := string(view.State)
	if strings.Contains(doc, "deck") || strings.Contains(doc, "holeCardsByUserId") {
		t.Fatalf("private field leaked: %s", doc)
	}
	if len(view.MyHoleCards) != 2 {
		t.Fatalf("myHoleCards = %v", view.MyHoleCards)
	}
	// Another caller sees their own cards, not alice's.
	viewBob, _ := f.stateOf(t, tableID, "bob")
	if len(viewBob.MyHoleCards) != 2 || viewBob.MyHoleCards[0] == view.MyHoleCards[0] {
		t.Fatalf("bob sees %v, alice sees %v", viewBob.MyHoleCards, view.MyHoleCards)
	}
}

func TestDealerRotatesAcrossHands(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)
	ctx := context.Background()
	f.join(t, tableID, "alice", 1000, false)
	f.join(t, tableID, "bob", 1000, false)

	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-1"}); err != nil {
		t.Fatal(err)
	}
	_, st1 := f.stateOf(t, tableID, "alice")

	// Fold the hand out, then deal again.
	if _, err := f.svc.Act(ctx, ActInput{TableID: tableID, UserID: st1.TurnUserID, RequestID: "act-1", Action: engine.ActionFold}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartHand(ctx, HandInput{TableID: tableID, UserID: "alice", RequestID: "start-2"}); err != nil {
		t.Fatal(err)
	}
	_, st2 := f.stateOf(t, tableID, "alice")
	if st2.DealerSeatNo == st1.DealerSeatNo {
		t.Fatalf("dealer did not rotate: %d", st2.DealerSeatNo)
	}
}
