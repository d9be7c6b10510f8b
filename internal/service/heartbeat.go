package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"pokerhall/internal/engine"
	"pokerhall/internal/store"
)

// HeartbeatInput refreshes a user's presence and opportunistically
// fires an expired turn's auto-action.
type HeartbeatInput struct {
	TableID   string
	UserID    string
	RequestID string
}

type heartbeatResult struct {
	Status         string `json:"status"`
	TableID        string `json:"tableId"`
	UserID         string `json:"userId"`
	TimeoutApplied bool   `json:"timeoutApplied,omitempty"`
	TimeoutUserID  string `json:"timeoutUserId,omitempty"`
	Version        int64  `json:"version"`
}

// Heartbeat records presence and, when the current turn's deadline has
// elapsed, applies the timeout action under a deterministic synthetic
// request id so racing heartbeats collapse into one audit row. The
// request record is deleted on the way out to bound storage.
func (s *Service) Heartbeat(ctx context.Context, in HeartbeatInput) (*Outcome, error) {
	now := s.now()
	key := store.RequestKey{TableID: in.TableID, UserID: in.UserID, RequestID: in.RequestID, Kind: KindHeartbeat}

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
			return errCode(CodeRequestPending, "heartbeat in flight")
		}

		table, err := tx.GetTable(ctx, in.TableID, true)
		if errors.Is(err, store.ErrNotFound) {
			return errCode(CodeTableNotFound, "no such table")
		}
		if err != nil {
			return err
		}

		if err := tx.UpdateSeatPresence(ctx, in.TableID, in.UserID, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errCode(CodeNotSeated, "no seat for "+in.UserID)
			}
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

		res := heartbeatResult{Status: "ok", TableID: in.TableID, UserID: in.UserID, Version: version}

		if engine.TurnExpired(st, now) {
			expired := st.TurnUserID
			st, version, res.TimeoutApplied, err = s.applyTurnTimeout(ctx, tx, table, st, version, now)
			if err != nil {
				return err
			}
			if res.TimeoutApplied {
				res.TimeoutUserID = expired
			}
			res.Version = version
		}

		out, err = outcomeOf(res)
		if err != nil {
			return err
		}
		// Heartbeats are high-volume; drop the record instead of
		// storing a result.
		return tx.DeleteRequest(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyTurnTimeout folds or checks the expired actor. The synthetic
// request id embeds the deadline so two racing triggers dedup on the
// audit guard; the loser sees the guard closed and leaves the state
// alone.
func (s *Service) applyTurnTimeout(
	ctx context.Context,
	tx store.Tx,
	table *store.Table,
	st *engine.TableState,
	version int64,
	now time.Time,
) (*engine.TableState, int64, bool, error) {
	deadline := st.TurnDeadlineAt.Unix()
	requestID := "heartbeat-timeout:" + table.ID + ":" + st.HandID + ":" + strconv.FormatInt(deadline, 10)
	action := engine.TimeoutAction(st)

	inserted, err := tx.InsertActionOnce(ctx, &store.ActionRecord{
		TableID: table.ID, Version: version, UserID: st.TurnUserID,
		ActionType: "TIMEOUT_" + action, HandID: st.HandID, RequestID: requestID,
		PhaseFrom: st.Phase, PhaseTo: st.Phase,
	})
	if err != nil {
		return nil, 0, false, err
	}
	if !inserted {
		return st, version, false, nil
	}

	hole, err := s.readHole(ctx, tx, table.ID, st)
	if err != nil {
		return nil, 0, false, err
	}
	expired := st.TurnUserID
	next, acted, err := engine.Act(st, engine.ActInput{
		UserID:      expired,
		Action:      action,
		RequestID:   requestID,
		BigBlind:    table.BigBlind,
		TurnTimeout: s.cfg.TurnTimeout,
		Now:         now,
		Hole:        hole,
	})
	if err != nil {
		return nil, 0, false, mapEngineErr(err)
	}
	nextRaw, err := encodeState(next)
	if err != nil {
		return nil, 0, false, err
	}
	version, err = writeState(tx.UpdateState(ctx, table.ID, version, nextRaw))
	if err != nil {
		return nil, 0, false, err
	}
	log.Printf("[Service %s] turn timeout: auto %s for %s (hand %s)", table.ID, action, expired, st.HandID)

	if acted.HandEnded {
		next, version, err = s.afterHandEnd(ctx, tx, table, next, version, now)
		if err != nil {
			return nil, 0, false, err
		}
	}
	next, version, _, err = s.runBotLoop(ctx, tx, table, next, version, requestID, hole, now)
	if err != nil {
		return nil, 0, false, err
	}
	return next, version, true, nil
}
