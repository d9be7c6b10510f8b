package engine

import (
	"pokerhall/card"
)

// settleFoldOut awards the entire pot to the single user left in the
// hand. Requires exactly one non-folded hand user.
func settleFoldOut(s *TableState) (*Settlement, error) {
	var winner string
	for _, hs := range s.HandSeats {
		if s.inHand(hs.UserID) {
			if winner != "" {
				return nil, stateInvalid("fold-out with multiple users in hand")
			}
			winner = hs.UserID
		}
	}
	if winner == "" {
		return nil, stateInvalid("fold-out with no user in hand")
	}
	total := int64(0)
	for _, c := range s.Contributions {
		total += c
	}
	return &Settlement{
		HandID:  s.HandID,
		Reason:  "fold_out",
		Payouts: map[string]int64{winner: total},
	}, nil
}

// settleShowdown evaluates every contesting user's 7-card hand and
// splits each pot layer among its strongest eligible users. Missing or
// malformed hole cards for any contesting user fail closed.
func settleShowdown(s *TableState, hole map[string][]card.Card) (*Settlement, error) {
	if len(s.Community) != 5 {
		return nil, stateInvalid("showdown with %d community cards", len(s.Community))
	}
	evals := map[string]*HandEval{}
	for _, hs := range s.HandSeats {
		uid := hs.UserID
		if !s.inHand(uid) {
			continue
		}
		cards, ok := hole[uid]
		if !ok || len(cards) != 2 {
			return nil, stateInvalid("missing hole cards for %s at showdown", uid)
		}
		all := make([]card.Card, 0, 7)
		all = append(all, cards...)
		all = append(all, s.Community...)
		ev := EvalBestOf7(all)
		if ev == nil {
			return nil, stateInvalid("hand evaluation failed for %s", uid)
		}
		evals[uid] = ev
	}
	if len(evals) == 0 {
		return nil, stateInvalid("showdown with no evaluable hands")
	}

	payouts := map[string]int64{}
	for _, pot := range buildPots(s) {
		var winners []string
		var best uint32
		for _, uid := range pot.Eligible {
			ev := evals[uid]
			if ev == nil {
				continue
			}
			switch {
			case len(winners) == 0 || ev.Score > best:
				winners = []string{uid}
				best = ev.Score
			case ev.Score == best:
				winners = append(winners, uid)
			}
		}
		if len(winners) == 0 {
			// A layer everyone abandoned; hand it back in seat order.
			winners = pot.Eligible
			if len(winners) == 0 {
				return nil, stateInvalid("pot layer with no eligible users")
			}
		}
		share := pot.Amount / int64(len(winners))
		odd := pot.Amount % int64(len(winners))
		for i, uid := range winners {
			amt := share
			// Odd chips go to the earliest winners in dealer order.
			if int64(i) < odd {
				amt++
			}
			payouts[uid] += amt
		}
	}
	return &Settlement{
		HandID:  s.HandID,
		Reason:  "showdown",
		Payouts: payouts,
	}, nil
}

// applySettlement merges payouts into stacks and moves the document to
// its terminal hand phase. This happens inside the same state write as
// the closing action, never as a separate side effect.
func applySettlement(s *TableState, settle *Settlement, terminalPhase string) {
	for uid, amt := range settle.Payouts {
		s.Stacks[uid] += amt
	}
	s.Pot = 0
	s.HandSettlement = settle
	s.Phase = terminalPhase
	s.TurnUserID = ""
	s.TurnStartedAt = nil
	s.TurnDeadlineAt = nil
	s.ToCall = nil
	s.CurrentBet = 0
	s.LastRaiseSize = 0
}
