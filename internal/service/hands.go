package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"pokerhall/card"
	"pokerhall/internal/bots"
	"pokerhall/internal/engine"
	"pokerhall/internal/store"
)

// HandInput identifies the caller of a start-hand request.
type HandInput struct {
	TableID   string
	UserID    string
	RequestID string
}

type startHandResult struct {
	Status     string `json:"status"`
	TableID    string `json:"tableId"`
	HandID     string `json:"handId"`
	Phase      string `json:"phase"`
	TurnUserID string `json:"turnUserId,omitempty"`
	Version    int64  `json:"version"`
	BotActions int    `json:"botActions,omitempty"`
}

// StartHand deals the next hand. Idempotent under kind START_HAND.
func (s *Service) StartHand(ctx context.Context, in HandInput) (*Outcome, error) {
	now := s.now()
	key := store.RequestKey{TableID: in.TableID, UserID: in.UserID, RequestID: in.RequestID, Kind: KindStartHand}

	var out *Outcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ensured, err := tx.EnsureRequest(ctx, key, now)
		if err != nil {
			return err
		}
		switch ensured.Status {
		case store.RequestStored:
			out = &Outcome{Result: ensured.Result, Replayed: true}
			return nil
		case store.RequestPending:
			return errCode(CodeRequestPending, "start-hand in flight")
		}

		table, err := tx.GetTable(ctx, in.TableID, true)
		if errors.Is(err, store.ErrNotFound) {
			return errCode(CodeTableNotFound, "no such table")
		}
		if err != nil {
			return err
		}
		if table.Status != store.TableOpen {
			return errCode(CodeTableClosed, "table is closed")
		}

		version, raw, err := tx.GetState(ctx, in.TableID, true)
		if err != nil {
			return err
		}
		st, err := decodeState(raw)
		if err != nil {
			return err
		}

		handID := uuid.NewString()
		next, priv, err := engine.StartHand(st, engine.HandConfig{
			SmallBlind:  table.SmallBlind,
			BigBlind:    table.BigBlind,
			TurnTimeout: s.cfg.TurnTimeout,
			HandID:      handID,
			HandSeed:    uuid.NewString(),
			Now:         now,
		})
		if err != nil {
			return mapEngineErr(err)
		}

		if err := tx.PutHoleCards(ctx, in.TableID, handID, holeToStrings(priv.HoleCardsByUserID)); err != nil {
			return err
		}
		nextRaw, err := encodeState(next)
		if err != nil {
			return err
		}
		version, err = writeState(tx.UpdateState(ctx, in.TableID, version, nextRaw))
		if err != nil {
			return err
		}
		meta, _ := json.Marshal(map[string]string{"handSeed": next.HandSeed})
		if err := tx.InsertAction(ctx, &store.ActionRecord{
			TableID: in.TableID, Version: version, UserID: in.UserID,
			ActionType: "START_HAND", HandID: handID, RequestID: in.RequestID,
			PhaseFrom: st.Phase, PhaseTo: next.Phase, Meta: meta,
		}); err != nil {
			return err
		}
		if err := tx.TouchTable(ctx, in.TableID, now); err != nil {
			return err
		}

		if next.Phase == engine.PhaseSettled || next.Phase == engine.PhaseHandDone {
			// Blinds put everyone all-in and the board ran out at once.
			next, version, err = s.afterHandEnd(ctx, tx, table, next, version, now)
			if err != nil {
				return err
			}
		}

		next, version, botActions, err := s.runBotLoop(ctx, tx, table, next, version, in.RequestID, priv.HoleCardsByUserID, now)
		if err != nil {
			return err
		}

		res := startHandResult{
			Status: "hand_started", TableID: in.TableID, HandID: handID,
			Phase: next.Phase, TurnUserID: next.TurnUserID, Version: version,
			BotActions: botActions,
		}
		out, err = outcomeOf(res)
		if err != nil {
			return err
		}
		return tx.StoreRequestResult(ctx, key, out.Result)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActInput is one betting action from a human caller.
type ActInput struct {
	TableID   string
	UserID    string
	RequestID string
	Action    string
	Amount    int64
}

type actResult struct {
	Status     string             `json:"status"`
	TableID    string             `json:"tableId"`
	UserID     string             `json:"userId"`
	Action     string             `json:"action"`
	Phase      string             `json:"phase"`
	Version    int64              `json:"version"`
	HandEnded  bool               `json:"handEnded,omitempty"`
	Settlement *engine.Settlement `json:"settlement,omitempty"`
	Events     []engine.Event     `json:"events,omitempty"`
	BotActions int                `json:"botActions,omitempty"`
}

// Act validates and applies one action, then lets seated bots play on
// inside the same request. Idempotent under kind ACT.
func (s *Service) Act(ctx context.Context, in ActInput) (*Outcome, error) {
	now := s.now()
	key := store.RequestKey{TableID: in.TableID, UserID: in.UserID, RequestID: in.RequestID, Kind: KindAct}

	var out *Outcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ensured, err := tx.EnsureRequest(ctx, key, now)
		if err != nil {
			return err
		}
		switch ensured.Status {
		case store.RequestStored:
			out = &Outcome{Result: ensured.Result, Replayed: true}
			return nil
		case store.RequestPending:
			return errCode(CodeRequestPending, "action in flight")
		}

		table, err := tx.GetTable(ctx, in.TableID, true)
		if errors.Is(err, store.ErrNotFound) {
			return errCode(CodeTableNotFound, "no such table")
		}
		if err != nil {
			return err
		}

		version, raw, err := tx.GetState(ctx, in.TableID, true)
		if err != nil {
			return err
		}
		st, err := decodeState(raw)
		if err != nil {
			return err
		}

		hole, err := s.readHole(ctx, tx, in.TableID, st)
		if err != nil {
			return err
		}

		next, acted, err := engine.Act(st, engine.ActInput{
			UserID:      in.UserID,
			Action:      in.Action,
			Amount:      in.Amount,
			RequestID:   in.RequestID,
			BigBlind:    table.BigBlind,
			TurnTimeout: s.cfg.TurnTimeout,
			Now:         now,
			Hole:        hole,
		})
		if err != nil {
			return mapEngineErr(err)
		}

		nextRaw, err := encodeState(next)
		if err != nil {
			return err
		}
		version, err = writeState(tx.UpdateState(ctx, in.TableID, version, nextRaw))
		if err != nil {
			return err
		}
		if err := tx.InsertAction(ctx, &store.ActionRecord{
			TableID: in.TableID, Version: version, UserID: in.UserID,
			ActionType: in.Action, Amount: in.Amount, HandID: next.HandID,
			RequestID: in.RequestID, PhaseFrom: acted.PhaseFrom, PhaseTo: acted.PhaseTo,
		}); err != nil {
			return err
		}
		if err := tx.TouchTable(ctx, in.TableID, now); err != nil {
			return err
		}

		if acted.HandEnded {
			next, version, err = s.afterHandEnd(ctx, tx, table, next, version, now)
			if err != nil {
				return err
			}
		}

		next, version, botActions, err := s.runBotLoop(ctx, tx, table, next, version, in.RequestID, hole, now)
		if err != nil {
			return err
		}

		res := actResult{
			Status: "acted", TableID: in.TableID, UserID: in.UserID,
			Action: in.Action, Phase: next.Phase, Version: version,
			HandEnded: acted.HandEnded, Settlement: acted.Settlement,
			Events: acted.Events, BotActions: botActions,
		}
		out, err = outcomeOf(res)
		if err != nil {
			return err
		}
		return tx.StoreRequestResult(ctx, key, out.Result)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readHole loads the hand's hole cards in soft mode. A user whose
// cards are missing fails closed later, inside the reducer, only if
// the hand actually reaches showdown.
func (s *Service) readHole(ctx context.Context, tx store.Tx, tableID string, st *engine.TableState) (map[string][]card.Card, error) {
	if st.HandID == "" {
		return nil, nil
	}
	userIDs := make([]string, 0, len(st.HandSeats))
	for _, hs := range st.HandSeats {
		userIDs = append(userIDs, hs.UserID)
	}
	stored, _, err := tx.GetHoleCards(ctx, tableID, st.HandID, userIDs, false)
	if err != nil {
		return nil, err
	}
	return holeFromStrings(stored)
}

// runBotLoop plays seated bots forward until the turn belongs to a
// human, the phase stops taking actions, persistence conflicts, or the
// per-request cap is hit. The stop reason is logged, never an error:
// the caller's own action already committed.
func (s *Service) runBotLoop(
	ctx context.Context,
	tx store.Tx,
	table *store.Table,
	st *engine.TableState,
	version int64,
	parentRequestID string,
	hole map[string][]card.Card,
	now time.Time,
) (*engine.TableState, int64, int, error) {
	seats, err := tx.ListSeats(ctx, table.ID)
	if err != nil {
		return nil, 0, 0, err
	}
	profileBySeat := map[string]string{}
	for _, seat := range seats {
		if seat.IsBot {
			profileBySeat[seat.UserID] = seat.BotProfile
		}
	}

	actions := 0
	stop := ""
	for {
		if actions >= s.cfg.MaxBotActions {
			stop = bots.StopActionCap
			break
		}
		if !st.InActionPhase() {
			stop = bots.StopNonActionPhase
			break
		}
		turnSeat := seatRefFor(st, st.TurnUserID)
		if turnSeat == nil || !turnSeat.IsBot {
			stop = bots.StopTurnNotBot
			break
		}

		botID := st.TurnUserID
		requestID := bots.RequestID(parentRequestID, actions)
		legal, cons := engine.LegalActions(st, st.TurnUserID)
		decision := bots.Decide(bots.View{
			State:       st,
			UserID:      st.TurnUserID,
			Hole:        hole[st.TurnUserID],
			Legal:       legal,
			Constraints: cons,
		}, bots.ProfileFor(profileBySeat[st.TurnUserID]), bots.DeriveSeed(st.HandSeed, requestID))

		next, acted, err := engine.Act(st, engine.ActInput{
			UserID:      st.TurnUserID,
			Action:      decision.Action,
			Amount:      decision.Amount,
			RequestID:   requestID,
			BigBlind:    table.BigBlind,
			TurnTimeout: s.cfg.TurnTimeout,
			Now:         now,
			Hole:        hole,
		})
		if err != nil {
			log.Printf("[Service %s] bot %s action %s failed: %v", table.ID, st.TurnUserID, decision.Action, err)
			stop = "bot_action_failed"
			break
		}

		nextRaw, err := encodeState(next)
		if err != nil {
			return nil, 0, 0, err
		}
		res, err := tx.UpdateState(ctx, table.ID, version, nextRaw)
		if err != nil {
			return nil, 0, 0, err
		}
		if !res.OK {
			stop = bots.StopOptimisticConflict
			break
		}
		version = res.NewVersion

		if _, err := tx.InsertActionOnce(ctx, &store.ActionRecord{
			TableID: table.ID, Version: version, UserID: botID,
			ActionType: decision.Action, Amount: decision.Amount,
			HandID: next.HandID, RequestID: requestID,
			PhaseFrom: acted.PhaseFrom, PhaseTo: acted.PhaseTo,
		}); err != nil {
			return nil, 0, 0, err
		}

		st = next
		actions++

		if acted.HandEnded {
			st, version, err = s.afterHandEnd(ctx, tx, table, st, version, now)
			if err != nil {
				return nil, 0, 0, err
			}
		}
	}

	if actions > 0 || stop != bots.StopTurnNotBot {
		log.Printf("[Service %s] bot loop: %d action(s), stop=%s", table.ID, actions, stop)
	}
	return st, version, actions, nil
}

func seatRefFor(st *engine.TableState, userID string) *engine.SeatRef {
	for i := range st.HandSeats {
		if st.HandSeats[i].UserID == userID {
			return &st.HandSeats[i]
		}
	}
	return nil
}
