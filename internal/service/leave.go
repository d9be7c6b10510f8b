package service

import (
	"context"
	"errors"
	"log"
	"time"

	"pokerhall/internal/engine"
	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
)

// LeaveInput is a leave intent from a user (or, with a synthetic
// request id, from the system on the user's behalf).
type LeaveInput struct {
	TableID   string
	UserID    string
	RequestID string
}

type leaveResult struct {
	Status    string `json:"status"`
	TableID   string `json:"tableId"`
	UserID    string `json:"userId"`
	CashedOut int64  `json:"cashedOut"`
	Version   int64  `json:"version,omitempty"`
}

// Leave removes a user from the table. Outside a hand this is an
// instant detach with a cash-out; mid-hand it queues the departure and
// the chips settle with the hand. Idempotent under kind LEAVE.
func (s *Service) Leave(ctx context.Context, in LeaveInput) (*Outcome, error) {
	now := s.now()
	key := store.RequestKey{TableID: in.TableID, UserID: in.UserID, RequestID: in.RequestID, Kind: KindLeave}

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
			return errCode(CodeRequestPending, "leave in flight")
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

		seat, err := tx.GetSeat(ctx, in.TableID, in.UserID, true)
		if errors.Is(err, store.ErrNotFound) {
			// Benign only when the state document agrees the user is
			// gone. A dangling state entry without a seat row is an
			// integrity fault, not an already-left condition.
			if seatRefInSeats(st, in.UserID) != nil {
				return errCode(CodeStateInvalid, "state lists "+in.UserID+" but no seat row exists")
			}
			res := leaveResult{Status: "already_left", TableID: in.TableID, UserID: in.UserID}
			out, err = outcomeOf(res)
			if err != nil {
				return err
			}
			return tx.StoreRequestResult(ctx, key, out.Result)
		}
		if err != nil {
			return err
		}

		// Mid-hand: queue the departure. The seat and stack stay put
		// until settlement so pot math survives.
		if st.HandActive() && handSeatInState(st, in.UserID) {
			if st.LeftTable[in.UserID] {
				res := leaveResult{Status: "leave_queued", TableID: in.TableID, UserID: in.UserID, Version: version}
				out, err = outcomeOf(res)
				if err != nil {
					return err
				}
				return tx.StoreRequestResult(ctx, key, out.Result)
			}

			hole, err := s.readHole(ctx, tx, in.TableID, st)
			if err != nil {
				return err
			}
			next, queued, err := engine.QueueLeave(st, in.UserID, engine.ActInput{
				UserID:      in.UserID,
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
			if err := tx.SetLeaveAfterHand(ctx, in.TableID, in.UserID, true); err != nil {
				return err
			}
			if err := tx.InsertAction(ctx, &store.ActionRecord{
				TableID: in.TableID, Version: version, UserID: in.UserID,
				ActionType: "LEAVE_QUEUED", HandID: next.HandID, RequestID: in.RequestID,
				PhaseFrom: queued.PhaseFrom, PhaseTo: queued.PhaseTo,
			}); err != nil {
				return err
			}
			if queued.HandEnded {
				next, version, err = s.afterHandEnd(ctx, tx, table, next, version, now)
				if err != nil {
					return err
				}
			}
			if err := tx.TouchTable(ctx, in.TableID, now); err != nil {
				return err
			}

			res := leaveResult{Status: "leave_queued", TableID: in.TableID, UserID: in.UserID, Version: version}
			out, err = outcomeOf(res)
			if err != nil {
				return err
			}
			return tx.StoreRequestResult(ctx, key, out.Result)
		}

		// No active hand: instant detach.
		_, version, cashed, err := s.detachUser(ctx, tx, table, st, version, seat, in.RequestID, now)
		if err != nil {
			return err
		}
		if err := tx.TouchTable(ctx, in.TableID, now); err != nil {
			return err
		}
		res := leaveResult{Status: "left", TableID: in.TableID, UserID: in.UserID, CashedOut: cashed, Version: version}
		out, err = outcomeOf(res)
		if err != nil {
			return err
		}
		return tx.StoreRequestResult(ctx, key, out.Result)
	})
	if err != nil {
		return nil, err
	}
	if !out.Replayed {
		log.Printf("[Service %s] leave %s: %s", in.TableID, in.UserID, string(out.Result))
	}
	return out, nil
}

// detachUser removes a seat and cashes its stack out of escrow. The
// state document's stack wins over the seat-row cache when both exist.
// The state write lands before the ledger posting so the replay value
// is always derivable from durable state.
func (s *Service) detachUser(
	ctx context.Context,
	tx store.Tx,
	table *store.Table,
	st *engine.TableState,
	version int64,
	seat *store.Seat,
	requestID string,
	now time.Time,
) (*engine.TableState, int64, int64, error) {
	userID := seat.UserID
	amount := seat.Stack
	if v, ok := st.Stacks[userID]; ok {
		amount = v
	}

	next := st.Clone()
	next.Seats = removeSeatRef(next.Seats, userID)
	delete(next.Stacks, userID)
	delete(next.SitOut, userID)
	delete(next.PendingSitOut, userID)

	nextRaw, err := encodeState(next)
	if err != nil {
		return nil, 0, 0, err
	}
	version, err = writeState(tx.UpdateState(ctx, table.ID, version, nextRaw))
	if err != nil {
		return nil, 0, 0, err
	}
	if err := tx.DeleteSeat(ctx, table.ID, userID); err != nil {
		return nil, 0, 0, err
	}

	// Zero stacks clear the seat without touching the ledger. Bot
	// chips return to the system bankroll.
	if amount > 0 {
		credit := ledger.Entry{AccountType: ledger.AccountUser, UserID: userID, Amount: amount}
		if seat.IsBot {
			credit = ledger.Entry{AccountType: ledger.AccountSystem, SystemKey: ledger.SystemBankroll, Amount: amount}
		}
		if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
			UserID:         userID,
			TxType:         ledger.TxCashOut,
			IdempotencyKey: "leave:" + table.ID + ":" + userID + ":" + requestID,
			Entries: []ledger.Entry{
				{AccountType: ledger.AccountEscrow, SystemKey: ledger.EscrowKeyForTable(table.ID), Amount: -amount},
				credit,
			},
			Metadata: map[string]any{"tableId": table.ID, "seatNo": seat.SeatNo},
		}); err != nil {
			return nil, 0, 0, err
		}
	}
	return next, version, amount, nil
}

// afterHandEnd runs once a hand reaches SETTLED or HAND_DONE: every
// user who queued a departure mid-hand is detached now, with a
// deterministic per-hand request id so a retried request cannot cash
// the same user out twice.
func (s *Service) afterHandEnd(
	ctx context.Context,
	tx store.Tx,
	table *store.Table,
	st *engine.TableState,
	version int64,
	now time.Time,
) (*engine.TableState, int64, error) {
	handID := st.HandID
	for _, hs := range st.HandSeats {
		userID := hs.UserID
		seat, err := tx.GetSeat(ctx, table.ID, userID, true)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if !st.LeftTable[userID] && !seat.LeaveAfterHand {
			// Sync the seat-row stack cache with the settled document.
			if v, ok := st.Stacks[userID]; ok && v != seat.Stack {
				if err := tx.SetSeatStatus(ctx, table.ID, userID, seat.Status, v); err != nil {
					return nil, 0, err
				}
			}
			continue
		}

		requestID := "leave-after-hand:" + table.ID + ":" + userID + ":" + handID
		key := store.RequestKey{TableID: table.ID, UserID: userID, RequestID: requestID, Kind: KindLeave}
		ensured, err := tx.EnsureRequest(ctx, key, now)
		if err != nil {
			return nil, 0, err
		}
		if ensured.Status != store.RequestProceed {
			continue
		}
		next, newVersion, cashed, err := s.detachUser(ctx, tx, table, st, version, seat, requestID, now)
		if err != nil {
			return nil, 0, err
		}
		st, version = next, newVersion
		res := leaveResult{Status: "left", TableID: table.ID, UserID: userID, CashedOut: cashed, Version: version}
		resOut, err := outcomeOf(res)
		if err != nil {
			return nil, 0, err
		}
		if err := tx.StoreRequestResult(ctx, key, resOut.Result); err != nil {
			return nil, 0, err
		}
		log.Printf("[Service %s] detached %s after hand %s (cashedOut=%d)", table.ID, userID, handID, cashed)
	}
	return st, version, nil
}

func seatRefInSeats(st *engine.TableState, userID string) *engine.SeatRef {
	for i := range st.Seats {
		if st.Seats[i].UserID == userID {
			return &st.Seats[i]
		}
	}
	return nil
}

func handSeatInState(st *engine.TableState, userID string) bool {
	for _, hs := range st.HandSeats {
		if hs.UserID == userID {
			return true
		}
	}
	return false
}

func removeSeatRef(seats []engine.SeatRef, userID string) []engine.SeatRef {
	out := seats[:0]
	for _, s := range seats {
		if s.UserID != userID {
			out = append(out, s)
		}
	}
	return out
}
