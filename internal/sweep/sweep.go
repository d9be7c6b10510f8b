package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"pokerhall/internal/engine"
	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
)

// Config carries the sweep tunables. SystemActorID names the operator
// identity that escrow remediation and quarantine postings run as;
// when empty those steps only log.
type Config struct {
	PresenceTTL    time.Duration
	RequestTTL     time.Duration
	IdleCloseAfter time.Duration
	SystemActorID  string
}

func DefaultConfig() Config {
	return Config{
		PresenceTTL:    90 * time.Second,
		RequestTTL:     24 * time.Hour,
		IdleCloseAfter: 10 * time.Minute,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("POKER_SWEEP_PRESENCE_TTL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.PresenceTTL = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("POKER_SWEEP_REQUEST_TTL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.RequestTTL = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("POKER_SWEEP_IDLE_CLOSE")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.IdleCloseAfter = d
		}
	}
	cfg.SystemActorID = strings.TrimSpace(os.Getenv("POKER_SYSTEM_ACTOR_USER_ID"))
	return cfg
}

// Report summarizes one sweep run.
type Report struct {
	Skipped         string
	ExpiredRequests int64
	EvictedSeats    int
	ClosedTables    int
	CashedOutSeats  int
	PurgedTables    int
	Remediated      int
	Quarantined     int
	Orphans         int
}

// Sweeper runs the periodic reconciliation job under a global lock.
type Sweeper struct {
	store  store.Store
	ledger ledger.Poster
	locker Locker
	cfg    Config
	now    func() time.Time
}

func New(st store.Store, poster ledger.Poster, locker Locker, cfg Config) *Sweeper {
	d := DefaultConfig()
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = d.PresenceTTL
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = d.RequestTTL
	}
	if cfg.IdleCloseAfter <= 0 {
		cfg.IdleCloseAfter = d.IdleCloseAfter
	}
	return &Sweeper{store: st, ledger: poster, locker: locker, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source. Test hook.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run executes one full sweep. Overlapping invocations are no-ops.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	release, ok, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Report{Skipped: "locked"}, nil
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.Printf("[Sweep] lock release failed: %v", err)
		}
	}()

	rep := &Report{}
	now := s.now()

	if err := s.expireRequests(ctx, rep, now); err != nil {
		return rep, err
	}
	if err := s.evictStaleSeats(ctx, rep, now); err != nil {
		return rep, err
	}
	closed, err := s.closeIdleTables(ctx, rep, now)
	if err != nil {
		return rep, err
	}
	if err := s.cashOutClosedTables(ctx, rep, closed, now); err != nil {
		return rep, err
	}
	if err := s.purgeHoleCards(ctx, rep, closed); err != nil {
		return rep, err
	}
	if err := s.reconcileEscrow(ctx, rep, now); err != nil {
		return rep, err
	}

	log.Printf("[Sweep] done: requests=%d evicted=%d closed=%d cashouts=%d remediated=%d quarantined=%d orphans=%d",
		rep.ExpiredRequests, rep.EvictedSeats, rep.ClosedTables, rep.CashedOutSeats, rep.Remediated, rep.Quarantined, rep.Orphans)
	return rep, nil
}

func (s *Sweeper) expireRequests(ctx context.Context, rep *Report, now time.Time) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.DeleteRequestsBefore(ctx, now.Add(-s.cfg.RequestTTL))
		if err != nil {
			return err
		}
		rep.ExpiredRequests = n
		return nil
	})
}

// evictStaleSeats cashes out humans whose heartbeat stopped. Bots are
// skipped: they have no heartbeat of their own, and bot-only tables
// are handled by the idle-close step.
func (s *Sweeper) evictStaleSeats(ctx context.Context, rep *Report, now time.Time) error {
	cutoff := now.Add(-s.cfg.PresenceTTL)
	var stale []*store.Seat
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		stale, err = tx.ListStaleActiveSeats(ctx, cutoff)
		return err
	})
	if err != nil {
		return err
	}

	for _, cand := range stale {
		if cand.IsBot {
			continue
		}
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return s.evictSeat(ctx, tx, cand.TableID, cand.UserID, cutoff, rep)
		})
		if err != nil {
			// One stuck seat must not starve the rest of the run.
			log.Printf("[Sweep] evict %s@%s failed: %v", cand.UserID, cand.TableID, err)
		}
	}
	return nil
}

func (s *Sweeper) evictSeat(ctx context.Context, tx store.Tx, tableID, userID string, cutoff time.Time, rep *Report) error {
	seat, err := tx.GetSeat(ctx, tableID, userID, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// Re-validate under the row lock; a heartbeat may have landed.
	if seat.Status != store.SeatActive || !seat.LastSeenAt.Before(cutoff) {
		return nil
	}

	version, raw, err := tx.GetState(ctx, tableID, true)
	if errors.Is(err, store.ErrStateMissing) {
		// No state document; the seat-row cache is all there is.
		return s.finishEviction(ctx, tx, nil, 0, seat, seat.Stack, "", rep)
	}
	if err != nil {
		return err
	}
	st := &engine.TableState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return err
	}
	if st.HandActive() {
		for _, hs := range st.HandSeats {
			if hs.UserID == userID {
				// Mid-hand seats are driven out by the turn-timeout
				// machinery, not presence eviction.
				return nil
			}
		}
	}
	amount := seat.Stack
	if v, ok := st.Stacks[userID]; ok {
		amount = v
	}
	handID := ""
	if st.HandSettlement != nil {
		handID = st.HandSettlement.HandID
	}
	return s.finishEviction(ctx, tx, st, version, seat, amount, handID, rep)
}

// finishEviction posts the cash-out first; a failed posting rolls the
// transaction back so the seat stays ACTIVE and the next run retries.
// The idempotency key is derived from the last-seen instant the
// eviction re-validated, so a retry on any later run dedupes against
// the same posting.
func (s *Sweeper) finishEviction(ctx context.Context, tx store.Tx, st *engine.TableState, version int64, seat *store.Seat, amount int64, settledHandID string, rep *Report) error {
	if amount > 0 {
		txType := ledger.TxCashOut
		key := "sweep-cashout:" + seat.TableID + ":" + seat.UserID + ":" + strconv.FormatInt(seat.LastSeenAt.Unix(), 10)
		if settledHandID != "" {
			txType = ledger.TxSettlement
			key = "sweep-settle:" + seat.TableID + ":" + settledHandID + ":" + seat.UserID
		}
		if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
			UserID:         seat.UserID,
			TxType:         txType,
			IdempotencyKey: key,
			Entries: []ledger.Entry{
				{AccountType: ledger.AccountEscrow, SystemKey: ledger.EscrowKeyForTable(seat.TableID), Amount: -amount},
				{AccountType: ledger.AccountUser, UserID: seat.UserID, Amount: amount},
			},
			Metadata: map[string]any{"tableId": seat.TableID, "reason": "presence_eviction"},
		}); err != nil {
			return err
		}
	}

	if st != nil {
		next := st.Clone()
		next.Seats = stripSeatRef(next.Seats, seat.UserID)
		delete(next.Stacks, seat.UserID)
		delete(next.SitOut, seat.UserID)
		delete(next.PendingSitOut, seat.UserID)
		nextRaw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		res, err := tx.UpdateState(ctx, seat.TableID, version, nextRaw)
		if err != nil {
			return err
		}
		if !res.OK && !res.AlreadyApplied {
			return errors.New("sweep: state write rejected: " + res.Reason)
		}
	}
	if err := tx.SetSeatStatus(ctx, seat.TableID, seat.UserID, store.SeatInactive, 0); err != nil {
		return err
	}
	rep.EvictedSeats++
	log.Printf("[Sweep] evicted %s@%s (cashedOut=%d)", seat.UserID, seat.TableID, amount)
	return nil
}

// closeIdleTables closes tables that are empty, hold a single human
// seat, or have sat idle past the threshold with nobody active. A
// table with any ACTIVE human seat is never closed.
func (s *Sweeper) closeIdleTables(ctx context.Context, rep *Report, now time.Time) ([]string, error) {
	var closed []string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tables, err := tx.ListTablesByStatus(ctx, store.TableOpen)
		if err != nil {
			return err
		}
		for _, table := range tables {
			seats, err := tx.ListSeats(ctx, table.ID)
			if err != nil {
				return err
			}
			activeHuman := false
			humans, bots := 0, 0
			for _, seat := range seats {
				if seat.IsBot {
					bots++
					continue
				}
				humans++
				if seat.Status == store.SeatActive {
					activeHuman = true
				}
			}
			if activeHuman {
				continue
			}
			if handInProgress(ctx, tx, table.ID) {
				continue
			}

			// Past the active-human guard, a single human seat closes
			// the table immediately regardless of bot seats, and any
			// composition closes once idle, so an evicted human plus
			// lingering bots cannot strand the table open.
			idle := table.LastActivityAt.Before(now.Add(-s.cfg.IdleCloseAfter))
			shouldClose := len(seats) == 0 || humans == 1 || idle
			if !shouldClose {
				continue
			}
			if err := tx.CloseTable(ctx, table.ID, now); err != nil {
				return err
			}
			closed = append(closed, table.ID)
			rep.ClosedTables++
			log.Printf("[Sweep] closed table %s (seats=%d humans=%d bots=%d)", table.ID, len(seats), humans, bots)
		}
		return nil
	})
	return closed, err
}

func handInProgress(ctx context.Context, tx store.Tx, tableID string) bool {
	_, raw, err := tx.GetState(ctx, tableID, false)
	if err != nil {
		return false
	}
	st := &engine.TableState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return true // unreadable state, do not touch the table
	}
	return st.HandActive()
}

// cashOutClosedTables drains every remaining positive stack from the
// tables closed this run. Bot seats are forced INACTIVE before their
// stack is zeroed so a reconnecting bot cannot race the payout.
func (s *Sweeper) cashOutClosedTables(ctx context.Context, rep *Report, closed []string, now time.Time) error {
	for _, tableID := range closed {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			seats, err := tx.ListSeats(ctx, tableID)
			if err != nil {
				return err
			}
			version, raw, stErr := tx.GetState(ctx, tableID, true)
			var st *engine.TableState
			if stErr == nil {
				st = &engine.TableState{}
				if err := json.Unmarshal(raw, st); err != nil {
					return err
				}
			} else if !errors.Is(stErr, store.ErrStateMissing) {
				return stErr
			}

			for _, seat := range seats {
				amount := seat.Stack
				if st != nil {
					if v, ok := st.Stacks[seat.UserID]; ok {
						amount = v
					}
				}
				if amount <= 0 {
					if err := tx.SetSeatStatus(ctx, tableID, seat.UserID, store.SeatInactive, 0); err != nil {
						return err
					}
					continue
				}
				credit := ledger.Entry{AccountType: ledger.AccountUser, UserID: seat.UserID, Amount: amount}
				if seat.IsBot {
					if err := tx.SetSeatStatus(ctx, tableID, seat.UserID, store.SeatInactive, amount); err != nil {
						return err
					}
					credit = ledger.Entry{AccountType: ledger.AccountSystem, SystemKey: ledger.SystemBankroll, Amount: amount}
				}
				if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
					UserID:         seat.UserID,
					TxType:         ledger.TxCashOut,
					IdempotencyKey: "sweep-cashout:" + tableID + ":" + seat.UserID + ":" + strconv.FormatInt(seat.JoinedAt.Unix(), 10),
					Entries: []ledger.Entry{
						{AccountType: ledger.AccountEscrow, SystemKey: ledger.EscrowKeyForTable(tableID), Amount: -amount},
						credit,
					},
					Metadata: map[string]any{"tableId": tableID, "reason": "table_closed"},
				}); err != nil {
					return err
				}
				if err := tx.SetSeatStatus(ctx, tableID, seat.UserID, store.SeatInactive, 0); err != nil {
					return err
				}
				rep.CashedOutSeats++
			}

			if st != nil {
				next := st.Clone()
				next.Seats = []engine.SeatRef{}
				next.Stacks = map[string]int64{}
				nextRaw, err := json.Marshal(next)
				if err != nil {
					return err
				}
				res, err := tx.UpdateState(ctx, tableID, version, nextRaw)
				if err != nil {
					return err
				}
				if !res.OK && !res.AlreadyApplied {
					return errors.New("sweep: state write rejected: " + res.Reason)
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("[Sweep] cash-out for closed table %s failed: %v", tableID, err)
		}
	}
	return nil
}

func (s *Sweeper) purgeHoleCards(ctx context.Context, rep *Report, closed []string) error {
	for _, tableID := range closed {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.DeleteHoleCards(ctx, tableID)
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rep.PurgedTables++
	}
	return nil
}

// reconcileEscrow finds escrow accounts holding chips with no open
// table obligating them. A reconcilable balance is returned to the
// recorded stack holders; anything else is quarantined. Both paths
// require a configured system actor.
func (s *Sweeper) reconcileEscrow(ctx context.Context, rep *Report, now time.Time) error {
	keys, err := s.ledger.NonZeroEscrowKeys(ctx)
	if err != nil {
		return err
	}
	day := now.Format("2006-01-02")

	for _, key := range keys {
		tableID := strings.TrimPrefix(key, "POKER_TABLE:")
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			table, err := tx.GetTable(ctx, tableID, false)
			if err == nil && table.Status == store.TableOpen {
				return nil // still obligated
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			balance, err := s.ledger.AccountBalance(ctx, ledger.AccountEscrow, key)
			if err != nil {
				return err
			}
			if balance <= 0 {
				return nil
			}
			rep.Orphans++
			if s.cfg.SystemActorID == "" {
				log.Printf("[Sweep] escrow orphan table=%s balance=%d (no system actor, audit only)", tableID, balance)
				return nil
			}

			holdings, err := escrowHoldings(ctx, tx, tableID)
			if err != nil {
				return err
			}
			var owed int64
			for _, h := range holdings {
				owed += h.amount
			}
			if owed == balance && owed > 0 {
				entries := []ledger.Entry{
					{AccountType: ledger.AccountEscrow, SystemKey: key, Amount: -balance},
				}
				for _, h := range holdings {
					e := ledger.Entry{AccountType: ledger.AccountUser, UserID: h.userID, Amount: h.amount}
					if h.isBot {
						e = ledger.Entry{AccountType: ledger.AccountSystem, SystemKey: ledger.SystemBankroll, Amount: h.amount}
					}
					entries = append(entries, e)
				}
				if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
					UserID:         s.cfg.SystemActorID,
					TxType:         ledger.TxRemediation,
					IdempotencyKey: "sweep-remediate:" + tableID + ":" + day,
					Entries:        entries,
					Metadata:       map[string]any{"tableId": tableID},
				}); err != nil {
					return err
				}
				rep.Remediated++
				log.Printf("[Sweep] escrow orphan table=%s balance=%d remediated to %d holder(s)", tableID, balance, len(holdings))
				return nil
			}

			if _, err := s.ledger.PostTransaction(ctx, ledger.PostInput{
				UserID:         s.cfg.SystemActorID,
				TxType:         ledger.TxQuarantine,
				IdempotencyKey: "sweep-quarantine:" + tableID + ":" + day,
				Entries: []ledger.Entry{
					{AccountType: ledger.AccountEscrow, SystemKey: key, Amount: -balance},
					{AccountType: ledger.AccountSystem, SystemKey: ledger.SystemQuarantine, Amount: balance},
				},
				Metadata: map[string]any{"tableId": tableID, "owed": owed},
			}); err != nil {
				return err
			}
			rep.Quarantined++
			log.Printf("[Sweep] escrow orphan table=%s balance=%d quarantined (owed=%d)", tableID, balance, owed)
			return nil
		})
		if err != nil {
			log.Printf("[Sweep] escrow reconcile for %s failed: %v", tableID, err)
		}
	}
	return nil
}

type escrowHolding struct {
	userID string
	amount int64
	isBot  bool
}

// escrowHoldings lists who a stranded escrow balance is owed to. The
// state document's stacks win whenever a state row survives; the
// seat-row cache is consulted only when no state row exists, and for
// resolving whether a holder is a bot.
func escrowHoldings(ctx context.Context, tx store.Tx, tableID string) ([]escrowHolding, error) {
	seats, err := tx.ListSeats(ctx, tableID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	botByUser := map[string]bool{}
	for _, seat := range seats {
		botByUser[seat.UserID] = seat.IsBot
	}

	_, raw, err := tx.GetState(ctx, tableID, false)
	if errors.Is(err, store.ErrStateMissing) || errors.Is(err, store.ErrNotFound) {
		var out []escrowHolding
		for _, seat := range seats {
			if seat.Stack > 0 {
				out = append(out, escrowHolding{userID: seat.UserID, amount: seat.Stack, isBot: seat.IsBot})
			}
		}
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	st := &engine.TableState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	for _, sr := range st.Seats {
		if sr.IsBot {
			botByUser[sr.UserID] = true
		}
	}
	users := make([]string, 0, len(st.Stacks))
	for u := range st.Stacks {
		users = append(users, u)
	}
	sort.Strings(users)
	var out []escrowHolding
	for _, u := range users {
		if st.Stacks[u] > 0 {
			out = append(out, escrowHolding{userID: u, amount: st.Stacks[u], isBot: botByUser[u]})
		}
	}
	return out, nil
}

func stripSeatRef(seats []engine.SeatRef, userID string) []engine.SeatRef {
	out := seats[:0]
	for _, sr := range seats {
		if sr.UserID != userID {
			out = append(out, sr)
		}
	}
	return out
}
