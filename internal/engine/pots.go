package engine

import "sort"

// potLayer is one side-pot layer. Eligible users are listed in hand-seat
// order starting left of the dealer, which is also the odd-chip order.
type potLayer struct {
	Amount   int64
	Eligible []string
}

// buildPots layers the hand's total contributions into a main pot and
// side pots. Folded (and otherwise ineligible) users still fund the
// layers their chips reached; they just cannot win them.
func buildPots(s *TableState) []potLayer {
	type stake struct {
		userID string
		total  int64
	}
	stakes := make([]stake, 0, len(s.HandSeats))
	for _, hs := range s.HandSeats {
		if c := s.Contributions[hs.UserID]; c > 0 {
			stakes = append(stakes, stake{hs.UserID, c})
		}
	}
	if len(stakes) == 0 {
		return nil
	}
	sort.SliceStable(stakes, func(i, j int) bool { return stakes[i].total < stakes[j].total })

	order := handOrderFromDealer(s)
	pots := make([]potLayer, 0, 2)
	covered := int64(0)
	for i, st := range stakes {
		layer := st.total - covered
		if layer <= 0 {
			continue
		}
		p := potLayer{}
		eligible := map[string]bool{}
		for j := i; j < len(stakes); j++ {
			take := layer
			if rest := stakes[j].total - covered; rest < take {
				take = rest
			}
			p.Amount += take
			if s.inHand(stakes[j].userID) {
				eligible[stakes[j].userID] = true
			}
		}
		for _, uid := range order {
			if eligible[uid] {
				p.Eligible = append(p.Eligible, uid)
			}
		}
		covered = st.total

		// Merge with the previous layer when eligibility is identical.
		if n := len(pots); n > 0 && sameUsers(pots[n-1].Eligible, p.Eligible) {
			pots[n-1].Amount += p.Amount
			continue
		}
		pots = append(pots, p)
	}
	return pots
}

// handOrderFromDealer lists hand-seat users starting one seat left of
// the dealer, wrapping around.
func handOrderFromDealer(s *TableState) []string {
	n := len(s.HandSeats)
	if n == 0 {
		return nil
	}
	start := 0
	for i, hs := range s.HandSeats {
		if hs.SeatNo == s.DealerSeatNo {
			start = (i + 1) % n
			break
		}
	}
	order := make([]string, 0, n)
	for i := 0; i < n; i++ {
		order = append(order, s.HandSeats[(start+i)%n].UserID)
	}
	return order
}

func sameUsers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
