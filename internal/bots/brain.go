package bots

import (
	"encoding/binary"
	"math/rand"

	"golang.org/x/crypto/blake2b"

	"pokerhall/card"
	"pokerhall/internal/engine"
)

// Stop reasons for the autoplay loop. Logged, never surfaced as a
// request failure.
const (
	StopNonActionPhase     = "non_action_phase"
	StopTurnNotBot         = "turn_not_bot"
	StopOptimisticConflict = "optimistic_conflict"
	StopActionCap          = "action_cap"
)

// RequestID derives the idempotency id for the n-th bot sub-action of
// a parent request, so each sub-step stays exactly-once even when the
// whole loop is retried.
func RequestID(parentRequestID string, n int) string {
	return "bot:" + parentRequestID + ":" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// DeriveSeed folds the hand seed and sub-request id into a stable rng
// seed: a retried bot step reproduces the same decision.
func DeriveSeed(handSeed, requestID string) int64 {
	sum := blake2b.Sum256([]byte(handSeed + "|" + requestID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// View is the read-only projection a brain decides from.
type View struct {
	State       *engine.TableState
	UserID      string
	Hole        []card.Card
	Legal       []string
	Constraints engine.Constraints
}

// Decision is the chosen action with its raise-to amount when
// applicable.
type Decision struct {
	Action string
	Amount int64
}

// Decide picks an action for the bot whose turn it is. Deterministic
// for a given seed; legality is guaranteed by choosing only from the
// supplied legal set.
func Decide(view View, profile Profile, seed int64) Decision {
	rng := rand.New(rand.NewSource(seed))

	aggression := clamp01(profile.Aggression + (rng.Float64()-0.5)*profile.Randomness*0.4)
	tightness := clamp01(profile.Tightness + (rng.Float64()-0.5)*profile.Randomness*0.3)

	canCheck := contains(view.Legal, engine.ActionCheck)
	canCall := contains(view.Legal, engine.ActionCall)
	canBet := contains(view.Legal, engine.ActionBet)
	canRaise := contains(view.Legal, engine.ActionRaise)

	strength := estimateStrength(view, rng)

	// Preflop: tight profiles dump marginal hands unless the check is
	// free.
	if view.State.Phase == engine.PhasePreflop {
		foldThreshold := tightness * 0.6
		if strength < foldThreshold {
			if canCheck {
				return Decision{Action: engine.ActionCheck}
			}
			return Decision{Action: engine.ActionFold}
		}
	}

	aggressivePlay := strength > (1.0-aggression)*0.5
	if aggressivePlay {
		if canRaise {
			return Decision{Action: engine.ActionRaise, Amount: raiseAmount(view, aggression)}
		}
		if canBet {
			return Decision{Action: engine.ActionBet, Amount: betAmount(view, aggression)}
		}
	}

	// Occasional bluff.
	if !aggressivePlay && rng.Float64() < profile.Bluffing*0.3 {
		if canBet {
			return Decision{Action: engine.ActionBet, Amount: betAmount(view, 0.4)}
		}
		if canRaise {
			return Decision{Action: engine.ActionRaise, Amount: raiseAmount(view, 0.4)}
		}
	}

	if canCheck {
		return Decision{Action: engine.ActionCheck}
	}
	if canCall {
		callThreshold := tightness * 0.4
		if strength > callThreshold || rng.Float64() < (1.0-tightness)*0.5 {
			return Decision{Action: engine.ActionCall}
		}
		return Decision{Action: engine.ActionFold}
	}
	return Decision{Action: engine.ActionFold}
}

// estimateStrength is a 0.0-1.0 preflop heuristic with postflop noise.
func estimateStrength(view View, rng *rand.Rand) float64 {
	if len(view.Hole) < 2 {
		return 0.3
	}
	r0, r1 := aceHigh(view.Hole[0]), aceHigh(view.Hole[1])
	strength := (float64(r0) + float64(r1)) / 28.0
	if r0 == r1 {
		strength += 0.25
	}
	if view.Hole[0].Suit() == view.Hole[1].Suit() {
		strength += 0.05
	}
	gap := r0 - r1
	if gap < 0 {
		gap = -gap
	}
	if gap <= 2 {
		strength += 0.05
	}
	if view.State.Phase != engine.PhasePreflop {
		strength += (rng.Float64() - 0.5) * 0.2
	}
	return clamp01(strength)
}

func aceHigh(c card.Card) int {
	r := int(c.Rank())
	if r == 1 {
		return 14
	}
	return r
}

func betAmount(view View, aggression float64) int64 {
	fraction := 0.33 + aggression*0.67
	bet := int64(float64(view.State.Pot) * fraction)
	if bet < view.Constraints.MinRaiseTo {
		bet = view.Constraints.MinRaiseTo
	}
	if bet > view.Constraints.MaxRaiseTo {
		bet = view.Constraints.MaxRaiseTo
	}
	return bet
}

func raiseAmount(view View, aggression float64) int64 {
	multiplier := 2.0 + aggression*1.5
	raise := int64(float64(view.State.CurrentBet) * multiplier)
	if raise < view.Constraints.MinRaiseTo {
		raise = view.Constraints.MinRaiseTo
	}
	if raise > view.Constraints.MaxRaiseTo {
		raise = view.Constraints.MaxRaiseTo
	}
	return raise
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
