package service

import (
	"context"
	"encoding/json"
	"errors"

	"pokerhall/internal/engine"
	"pokerhall/internal/store"
)

// StateView is the read model returned to one user: the shared
// document plus that user's private hole cards and legal moves. The
// document itself never carries private fields.
type StateView struct {
	Version           int64               `json:"version"`
	State             json.RawMessage     `json:"state"`
	MyHoleCards       []string            `json:"myHoleCards,omitempty"`
	LegalActions      []string            `json:"legalActions,omitempty"`
	ActionConstraints *engine.Constraints `json:"actionConstraints,omitempty"`
}

// State reads the table for one user.
func (s *Service) State(ctx context.Context, tableID, userID string) (*StateView, error) {
	var view *StateView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTable(ctx, tableID, false); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errCode(CodeTableNotFound, "no such table")
			}
			return err
		}
		version, raw, err := tx.GetState(ctx, tableID, false)
		if err != nil {
			return err
		}
		st, err := decodeState(raw)
		if err != nil {
			return err
		}

		view = &StateView{Version: version, State: raw}

		if st.HandID != "" && handSeatInState(st, userID) {
			cards, _, err := tx.GetHoleCards(ctx, tableID, st.HandID, []string{userID}, false)
			if err != nil {
				return err
			}
			view.MyHoleCards = cards[userID]
		}
		if st.InActionPhase() && st.TurnUserID == userID {
			legal, cons := engine.LegalActions(st, userID)
			view.LegalActions = legal
			view.ActionConstraints = &cons
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
