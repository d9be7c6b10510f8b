package bots

import (
	"testing"

	"pokerhall/card"
	"pokerhall/internal/engine"
)

func botView(t *testing.T, hole string, legal []string, cons engine.Constraints) View {
	t.Helper()
	s := engine.NewTableState()
	s.Phase = engine.PhasePreflop
	s.Pot = 30
	s.CurrentBet = 20
	cards, err := card.ParseAll([]string{hole[:2], hole[3:]})
	if err != nil {
		t.Fatal(err)
	}
	return View{State: s, UserID: "bot-1", Hole: cards, Legal: legal, Constraints: cons}
}

func TestDecideIsDeterministic(t *testing.T) {
	view := botView(t, "Ah Kh", []string{"FOLD", "CALL", "RAISE"}, engine.Constraints{ToCall: 20, MinRaiseTo: 40, MaxRaiseTo: 1000})
	seed := DeriveSeed("seed-h1", RequestID("req-1", 0))
	a := Decide(view, ProfileFor("standard"), seed)
	b := Decide(view, ProfileFor("standard"), seed)
	if a != b {
		t.Fatalf("same seed diverged: %+v vs %+v", a, b)
	}
}

func TestDecideStaysLegal(t *testing.T) {
	holes := []string{"Ah Kh", "As Ad", "7c 2d", "9s 8s", "Td 4c"}
	legals := [][]string{
		{"FOLD", "CALL", "RAISE"},
		{"FOLD", "CHECK", "BET"},
		{"FOLD", "CALL"},
		{"FOLD", "CHECK"},
	}
	cons := engine.Constraints{ToCall: 20, MinRaiseTo: 40, MaxRaiseTo: 500, CanCheck: false}
	for _, profile := range []string{"standard", "tight", "loose", "maniac"} {
		for _, hole := range holes {
			for i, legal := range legals {
				view := botView(t, hole, legal, cons)
				d := Decide(view, ProfileFor(profile), int64(i)*7919+1)
				found := false
				for _, a := range legal {
					if a == d.Action {
						found = true
					}
				}
				if !found {
					t.Fatalf("profile %s hole %s picked %s from %v", profile, hole, d.Action, legal)
				}
				if d.Action == "RAISE" || d.Action == "BET" {
					if d.Amount < cons.MinRaiseTo || d.Amount > cons.MaxRaiseTo {
						t.Fatalf("amount %d outside [%d,%d]", d.Amount, cons.MinRaiseTo, cons.MaxRaiseTo)
					}
				}
			}
		}
	}
}

func TestDeriveSeedSensitivity(t *testing.T) {
	a := DeriveSeed("seed-h1", RequestID("req-1", 0))
	b := DeriveSeed("seed-h1", RequestID("req-1", 1))
	c := DeriveSeed("seed-h2", RequestID("req-1", 0))
	if a == b || a == c {
		t.Fatalf("seeds collide: %d %d %d", a, b, c)
	}
}

func TestRequestID(t *testing.T) {
	if got := RequestID("abc", 0); got != "bot:abc:0" {
		t.Fatalf("got %s", got)
	}
	if got := RequestID("abc", 12); got != "bot:abc:12" {
		t.Fatalf("got %s", got)
	}
}

func TestProfileFallback(t *testing.T) {
	if p := ProfileFor("nonsense"); p.Name != "standard" {
		t.Fatalf("fallback = %+v", p)
	}
}
