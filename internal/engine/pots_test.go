package engine

import (
	"strings"
	"testing"

	"pokerhall/card"
)

func potState(contrib map[string]int64, folded map[string]bool) *TableState {
	s := NewTableState()
	seat := 0
	for _, uid := range []string{"alice", "bob", "carol", "dave"} {
		if _, ok := contrib[uid]; !ok {
			continue
		}
		s.Seats = append(s.Seats, SeatRef{SeatNo: seat, UserID: uid})
		s.HandSeats = append(s.HandSeats, SeatRef{SeatNo: seat, UserID: uid})
		s.Stacks[uid] = 0
		seat++
	}
	s.DealerSeatNo = 0
	s.Contributions = contrib
	s.Folded = folded
	s.HandID = "h1"
	s.HandSeed = "seed"
	return s
}

func TestBuildPotsLayers(t *testing.T) {
	// alice all-in for 50, bob and carol in for 200 each.
	s := potState(map[string]int64{"alice": 50, "bob": 200, "carol": 200}, nil)
	pots := buildPots(s)
	if len(pots) != 2 {
		t.Fatalf("pots = %+v", pots)
	}
	if pots[0].Amount != 150 || len(pots[0].Eligible) != 3 {
		t.Fatalf("main pot = %+v", pots[0])
	}
	if pots[1].Amount != 300 || len(pots[1].Eligible) != 2 {
		t.Fatalf("side pot = %+v", pots[1])
	}
	for _, uid := range pots[1].Eligible {
		if uid == "alice" {
			t.Fatal("short stack eligible for the side pot")
		}
	}
}

func TestBuildPotsFoldedUserFundsButCannotWin(t *testing.T) {
	s := potState(
		map[string]int64{"alice": 100, "bob": 100, "carol": 40},
		map[string]bool{"carol": true},
	)
	pots := buildPots(s)
	// Carol's 40 funds the lower layer but she is eligible nowhere, so
	// both layers carry the same eligible set and merge into one pot.
	if len(pots) != 1 {
		t.Fatalf("pots = %+v", pots)
	}
	if pots[0].Amount != 240 {
		t.Fatalf("pot amount = %d", pots[0].Amount)
	}
	for _, uid := range pots[0].Eligible {
		if uid == "carol" {
			t.Fatal("folded user eligible to win")
		}
	}
}

func TestShowdownOddChipToEarlySeat(t *testing.T) {
	// Identical boards of quads on the table: every hand ties, and the
	// 101-chip pot splits 51/50 with the extra chip going to the first
	// eligible seat left of the dealer.
	s := potState(map[string]int64{"alice": 50, "bob": 51}, nil)
	board, err := card.ParseAll(strings.Fields("9c 9d 9h 9s Ah"))
	if err != nil {
		t.Fatal(err)
	}
	s.Community = board
	s.CommunityDealt = 5
	hole := map[string][]card.Card{
		"alice": mustCards(t, "2c 3d"),
		"bob":   mustCards(t, "2h 3s"),
	}
	settle, err := settleShowdown(s, hole)
	if err != nil {
		t.Fatalf("settleShowdown: %v", err)
	}
	// Dealer is seat 0 (alice), so bob acts first and takes the odd chip.
	if settle.Payouts["bob"] != 51 || settle.Payouts["alice"] != 50 {
		t.Fatalf("payouts = %v", settle.Payouts)
	}
	if settle.Reason != "showdown" {
		t.Fatalf("reason = %s", settle.Reason)
	}
}

func TestShowdownSidePotWinners(t *testing.T) {
	// alice is all-in short with the best hand; bob beats carol for the
	// side pot.
	s := potState(map[string]int64{"alice": 50, "bob": 200, "carol": 200}, nil)
	s.Community = mustCards(t, "9c 6d 2h Jc 4s")
	s.CommunityDealt = 5
	hole := map[string][]card.Card{
		"alice": mustCards(t, "Ac Ad"), // top pair of aces
		"bob":   mustCards(t, "Kc Kd"),
		"carol": mustCards(t, "Qc Qd"),
	}
	settle, err := settleShowdown(s, hole)
	if err != nil {
		t.Fatal(err)
	}
	if settle.Payouts["alice"] != 150 {
		t.Fatalf("main pot: %v", settle.Payouts)
	}
	if settle.Payouts["bob"] != 300 {
		t.Fatalf("side pot: %v", settle.Payouts)
	}
	if _, ok := settle.Payouts["carol"]; ok {
		t.Fatalf("losing hand paid: %v", settle.Payouts)
	}
}

func mustCards(t *testing.T, spec string) []card.Card {
	t.Helper()
	out, err := card.ParseAll(strings.Fields(spec))
	if err != nil {
		t.Fatalf("parse %q: %v", spec, err)
	}
	return out
}
