package service

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"pokerhall/internal/engine"
	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
)

// CreateTableInput describes a new table. Zero MaxPlayers takes the
// configured cap.
type CreateTableInput struct {
	CreatedBy  string
	SmallBlind int64
	BigBlind   int64
	MaxPlayers int
}

// CreateTableResult is returned to the creator.
type CreateTableResult struct {
	TableID    string `json:"tableId"`
	Status     string `json:"status"`
	SmallBlind int64  `json:"smallBlind"`
	BigBlind   int64  `json:"bigBlind"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    int64  `json:"version"`
}

// CreateTable opens a fresh table with an INIT state row at version 0.
func (s *Service) CreateTable(ctx context.Context, in CreateTableInput) (*CreateTableResult, error) {
	if in.SmallBlind < 0 || in.BigBlind <= 0 || in.SmallBlind > in.BigBlind {
		return nil, errCode(CodeStateInvalid, "invalid stakes")
	}
	if in.MaxPlayers <= 0 || in.MaxPlayers > s.cfg.MaxPlayersCap {
		in.MaxPlayers = s.cfg.MaxPlayersCap
	}
	if in.MaxPlayers < 2 {
		return nil, errCode(CodeStateInvalid, "table must seat at least two")
	}

	now := s.now()
	tableID := uuid.NewString()
	initial, err := encodeState(engine.NewTableState())
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTable(ctx, &store.Table{
			ID:             tableID,
			Status:         store.TableOpen,
			SmallBlind:     in.SmallBlind,
			BigBlind:       in.BigBlind,
			MaxPlayers:     in.MaxPlayers,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastActivityAt: now,
		}); err != nil {
			return err
		}
		return tx.CreateState(ctx, tableID, initial)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Service %s] Table created (blinds=%d/%d max=%d by=%s)", tableID, in.SmallBlind, in.BigBlind, in.MaxPlayers, in.CreatedBy)
	return &CreateTableResult{
		TableID:    tableID,
		Status:     store.TableOpen,
		SmallBlind: in.SmallBlind,
		BigBlind:   in.BigBlind,
		MaxPlayers: in.MaxPlayers,
		Version:    0,
	}, nil
}

// JoinInput seats a user. SeatNo -1 picks the lowest free seat.
type JoinInput struct {
	TableID    string
	UserID     string
	RequestID  string
	BuyIn      int64
	SeatNo     int
	IsBot      bool
	BotProfile string
}

type joinResult struct {
	Status  string `json:"status"`
	TableID string `json:"tableId"`
	UserID  string `json:"userId"`
	SeatNo  int    `json:"seatNo"`
	Stack   int64  `json:"stack"`
	Version int64  `json:"version"`
}

// Join seats the user, moves the buy-in into the table's escrow and
// adds them to the state document. Idempotent under kind JOIN.
func (s *Service) Join(ctx context.Context, in JoinInput) (*Outcome, error) {
	if in.BuyIn < s.cfg.MinBuyIn || in.BuyIn > s.cfg.MaxBuyIn {
		return nil, errCode(CodeInvalidBuyIn, "buy-in outside allowed range")
	}
	now := s.now()
	key := store.RequestKey{TableID: in.TableID, UserID: in.UserID, RequestID: in.RequestID, Kind: KindJoin}

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
			return errCode(CodeRequestPending, "join in flight")
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

		seats, err := tx.ListSeats(ctx, in.TableID)
		if err != nil {
			return err
		}
		for _, seat := range seats {
			if seat.UserID == in.UserID {
				return errCode(CodeAlreadySeated, "already seated here")
			}
		}
		if len(seats) >= table.MaxPlayers {
			return errCode(CodeTableFull, "table is full")
		}
		seatNo := in.SeatNo
		if seatNo < 0 {
			seatNo = lowestFreeSeat(seats, table.MaxPlayers)
		}
		if seatNo < 0 || seatNo >= table.MaxPlayers || seatOccupied(seats, seatNo) {
			return errCode(CodeTableFull, "seat unavailable")
		}

		if err := tx.InsertSeat(ctx, &store.Seat{
			TableID:    in.TableID,
			SeatNo:     seatNo,
			UserID:     in.UserID,
			Status:     store.SeatActive,
			Stack:      in.BuyIn,
			IsBot:      in.IsBot,
			BotProfile: in.BotProfile,
			LastSeenAt: now,
			JoinedAt:   now,
		}); err != nil {
			if errors.Is(err, store.ErrSeatTaken) {
				return errCode(CodeTableFull, "seat unavailable")
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
		st.Seats = append(st.Seats, engine.SeatRef{SeatNo: seatNo, UserID: in.UserID, IsBot: in.IsBot})
		st.Stacks[in.UserID] = in.BuyIn
		delete(st.LeftTable, in.UserID)
		next, err := encodeState(st)
		if err != nil {
			return err
		}
		newVersion, err := writeState(tx.UpdateState(ctx, in.TableID, version, next))
		if err != nil {
			return err
		}
		if err := tx.TouchTable(ctx, in.TableID, now); err != nil {
			return err
		}

		// The escrow posting happens after the authoritative state
		// write; its idempotency key makes a retry a no-op. Bot chips
		// come from the system bankroll, never a user account.
		debit := ledger.Entry{AccountType: ledger.AccountUser, UserID: in.UserID, Amount: -in.BuyIn}
		if in.IsBot {
			debit = ledger.Entry{AccountType: ledger.AccountSystem, SystemKey: ledger.SystemBankroll, Amount: -in.BuyIn}
		}
		if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
			UserID:         in.UserID,
			TxType:         ledger.TxBuyIn,
			IdempotencyKey: "join:" + in.TableID + ":" + in.UserID + ":" + in.RequestID,
			Entries: []ledger.Entry{
				debit,
				{AccountType: ledger.AccountEscrow, SystemKey: ledger.EscrowKeyForTable(in.TableID), Amount: in.BuyIn},
			},
			Metadata: map[string]any{"tableId": in.TableID, "seatNo": seatNo},
		}); err != nil {
			return err
		}

		res := joinResult{
			Status: "joined", TableID: in.TableID, UserID: in.UserID,
			SeatNo: seatNo, Stack: in.BuyIn, Version: newVersion,
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
	if !out.Replayed {
		log.Printf("[Service %s] %s joined (bot=%v buyIn=%d)", in.TableID, in.UserID, in.IsBot, in.BuyIn)
	}
	return out, nil
}

func lowestFreeSeat(seats []*store.Seat, max int) int {
	taken := map[int]bool{}
	for _, st := range seats {
		taken[st.SeatNo] = true
	}
	for i := 0; i < max; i++ {
		if !taken[i] {
			return i
		}
	}
	return -1
}

func seatOccupied(seats []*store.Seat, seatNo int) bool {
	for _, st := range seats {
		if st.SeatNo == seatNo {
			return true
		}
	}
	return false
}
