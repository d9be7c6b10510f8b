package engine

// Constraints bounds the legal actions for the current actor.
type Constraints struct {
	ToCall     int64 `json:"toCall"`
	MinRaiseTo int64 `json:"minRaiseTo"`
	MaxRaiseTo int64 `json:"maxRaiseTo"`
	CanCheck   bool  `json:"canCheck"`
}

// LegalActions projects the legal actions and their bounds for a user
// from the current document. It is a pure function of the state; the
// reducer validates against the same projection it hands to clients.
func LegalActions(s *TableState, userID string) ([]string, Constraints) {
	var c Constraints
	if !s.InActionPhase() || s.TurnUserID != userID || !s.eligibleToAct(userID) {
		return nil, c
	}

	stack := s.Stacks[userID]
	bet := s.BetThisRound[userID]
	c.ToCall = s.ToCall[userID]
	c.CanCheck = c.ToCall == 0
	c.MaxRaiseTo = bet + stack
	c.MinRaiseTo = s.CurrentBet + s.LastRaiseSize
	if c.MinRaiseTo > c.MaxRaiseTo {
		// Short of a full raise: raising is all-in or nothing.
		c.MinRaiseTo = c.MaxRaiseTo
	}

	actions := []string{ActionFold}
	if c.CanCheck {
		actions = append(actions, ActionCheck)
	} else if stack > 0 {
		actions = append(actions, ActionCall)
	}

	// A user facing only a short all-in (round re-opened for nobody)
	// may call but not raise again: Acted survives short all-ins and is
	// cleared by full raises.
	canRaise := stack > c.ToCall && !s.Acted[userID] && s.eligibleCount() > 1
	if canRaise {
		if s.CurrentBet == 0 {
			actions = append(actions, ActionBet)
		} else {
			actions = append(actions, ActionRaise)
		}
	} else {
		c.MinRaiseTo = 0
		c.MaxRaiseTo = 0
	}
	return actions, c
}
