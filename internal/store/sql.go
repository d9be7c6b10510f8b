package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// sqlStore runs the shared SQL over either backend. Timestamps always
// come from Go so the two dialects agree; queries use ? placeholders
// and are rebound to $N for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	t := &sqlTx{store: s, tx: dbtx}
	if err := fn(ctx, t); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	return dbtx.Commit()
}

// rebind converts ? placeholders to $1..$N for postgres. SQLite takes
// the query as written.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate appends a row lock on postgres. SQLite transactions are
// single-writer, so the plain read is already safe there.
func (s *sqlStore) forUpdate(query string, lock bool) string {
	if lock && s.dialect == dialectPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

type sqlTx struct {
	store *sqlStore
	tx    *sql.Tx
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.store.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.store.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.store.rebind(query), args...)
}

// --- tables ---

func (t *sqlTx) CreateTable(ctx context.Context, tb *Table) error {
	_, err := t.exec(ctx, `
INSERT INTO poker_tables (id, status, small_blind, big_blind, max_players, created_by, created_at, updated_at, last_activity_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, tb.ID, tb.Status, tb.SmallBlind, tb.BigBlind, tb.MaxPlayers, tb.CreatedBy,
		tb.CreatedAt, tb.UpdatedAt, tb.LastActivityAt)
	return err
}

const tableColumns = `id, status, small_blind, big_blind, max_players, created_by, created_at, updated_at, last_activity_at`

func scanTable(row interface{ Scan(...any) error }) (*Table, error) {
	tb := &Table{}
	err := row.Scan(&tb.ID, &tb.Status, &tb.SmallBlind, &tb.BigBlind, &tb.MaxPlayers,
		&tb.CreatedBy, &tb.CreatedAt, &tb.UpdatedAt, &tb.LastActivityAt)
	if err != nil {
		return nil, err
	}
	return tb, nil
}

func (t *sqlTx) GetTable(ctx context.Context, tableID string, forUpdate bool) (*Table, error) {
	q := t.store.forUpdate(`SELECT `+tableColumns+` FROM poker_tables WHERE id = ?`, forUpdate)
	tb, err := scanTable(t.queryRow(ctx, q, tableID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tb, err
}

func (t *sqlTx) TouchTable(ctx context.Context, tableID string, now time.Time) error {
	_, err := t.exec(ctx, `
UPDATE poker_tables SET last_activity_at = ?, updated_at = ? WHERE id = ?
`, now, now, tableID)
	return err
}

func (t *sqlTx) CloseTable(ctx context.Context, tableID string, now time.Time) error {
	// Closing is idempotent; an already-closed or missing table is a
	// no-op.
	_, err := t.exec(ctx, `
UPDATE poker_tables SET status = ?, updated_at = ? WHERE id = ? AND status <> ?
`, TableClosed, now, tableID, TableClosed)
	return err
}

func (t *sqlTx) ListTablesByStatus(ctx context.Context, status string) ([]*Table, error) {
	rows, err := t.query(ctx, `SELECT `+tableColumns+` FROM poker_tables WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Table
	for rows.Next() {
		tb, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

// --- seats ---

const seatColumns = `table_id, seat_no, user_id, status, stack, is_bot, bot_profile, leave_after_hand, last_seen_at, joined_at`

func scanSeat(row interface{ Scan(...any) error }) (*Seat, error) {
	st := &Seat{}
	err := row.Scan(&st.TableID, &st.SeatNo, &st.UserID, &st.Status, &st.Stack,
		&st.IsBot, &st.BotProfile, &st.LeaveAfterHand, &st.LastSeenAt, &st.JoinedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (t *sqlTx) InsertSeat(ctx context.Context, s *Seat) error {
	res, err := t.exec(ctx, `
INSERT INTO poker_seats (`+seatColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (table_id, seat_no) DO NOTHING
`, s.TableID, s.SeatNo, s.UserID, s.Status, s.Stack, s.IsBot, s.BotProfile,
		s.LeaveAfterHand, s.LastSeenAt, s.JoinedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSeatTaken
	}
	return nil
}

func (t *sqlTx) GetSeat(ctx context.Context, tableID, userID string, forUpdate bool) (*Seat, error) {
	q := t.store.forUpdate(`SELECT `+seatColumns+` FROM poker_seats WHERE table_id = ? AND user_id = ?`, forUpdate)
	st, err := scanSeat(t.queryRow(ctx, q, tableID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

func (t *sqlTx) ListSeats(ctx context.Context, tableID string) ([]*Seat, error) {
	rows, err := t.query(ctx, `SELECT `+seatColumns+` FROM poker_seats WHERE table_id = ? ORDER BY seat_no`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Seat
	for rows.Next() {
		st, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteSeat(ctx context.Context, tableID, userID string) error {
	_, err := t.exec(ctx, `DELETE FROM poker_seats WHERE table_id = ? AND user_id = ?`, tableID, userID)
	return err
}

func (t *sqlTx) UpdateSeatPresence(ctx context.Context, tableID, userID string, seenAt time.Time) error {
	res, err := t.exec(ctx, `
UPDATE poker_seats SET last_seen_at = ? WHERE table_id = ? AND user_id = ?
`, seenAt, tableID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) SetSeatStatus(ctx context.Context, tableID, userID, status string, stack int64) error {
	res, err := t.exec(ctx, `
UPDATE poker_seats SET status = ?, stack = ? WHERE table_id = ? AND user_id = ?
`, status, stack, tableID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) SetLeaveAfterHand(ctx context.Context, tableID, userID string, v bool) error {
	_, err := t.exec(ctx, `
UPDATE poker_seats SET leave_after_hand = ? WHERE table_id = ? AND user_id = ?
`, v, tableID, userID)
	return err
}

func (t *sqlTx) ListStaleActiveSeats(ctx context.Context, cutoff time.Time) ([]*Seat, error) {
	rows, err := t.query(ctx, `
SELECT `+seatColumns+` FROM poker_seats
WHERE status = ? AND last_seen_at < ?
ORDER BY table_id, seat_no
`, SeatActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Seat
	for rows.Next() {
		st, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- versioned state ---

func (t *sqlTx) CreateState(ctx context.Context, tableID string, initial json.RawMessage) error {
	if _, ok := stateObject(initial); !ok {
		return fmt.Errorf("store: initial state for %s is not a JSON object", tableID)
	}
	_, err := t.exec(ctx, `
INSERT INTO poker_state (table_id, version, state) VALUES (?, 0, ?)
`, tableID, string(initial))
	return err
}

func (t *sqlTx) GetState(ctx context.Context, tableID string, forUpdate bool) (int64, json.RawMessage, error) {
	q := t.store.forUpdate(`SELECT version, state FROM poker_state WHERE table_id = ?`, forUpdate)
	var version int64
	var raw string
	if err := t.queryRow(ctx, q, tableID).Scan(&version, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, ErrStateMissing
		}
		return 0, nil, err
	}
	return version, json.RawMessage(raw), nil
}

// UpdateState is the optimistic compare-and-swap. A lost race where the
// row already holds a structurally identical document reports
// alreadyApplied rather than conflict.
func (t *sqlTx) UpdateState(ctx context.Context, tableID string, expectedVersion int64, next json.RawMessage) (UpdateResult, error) {
	if expectedVersion < 0 {
		return UpdateResult{Reason: "invalid"}, nil
	}
	if _, ok := stateObject(next); !ok {
		return UpdateResult{Reason: "invalid"}, nil
	}

	var newVersion int64
	err := t.queryRow(ctx, `
UPDATE poker_state
SET version = version + 1, state = ?
WHERE table_id = ? AND version = ?
RETURNING version
`, string(next), tableID, expectedVersion).Scan(&newVersion)
	if err == nil {
		return UpdateResult{OK: true, NewVersion: newVersion}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return UpdateResult{}, err
	}

	curVersion, cur, err := t.GetState(ctx, tableID, false)
	if errors.Is(err, ErrStateMissing) {
		return UpdateResult{Reason: "not_found"}, nil
	}
	if err != nil {
		return UpdateResult{}, err
	}
	if statesEquivalent(cur, next) {
		return UpdateResult{OK: true, NewVersion: curVersion, AlreadyApplied: true}, nil
	}
	return UpdateResult{Reason: "conflict"}, nil
}

func (t *sqlTx) DeleteState(ctx context.Context, tableID string) error {
	_, err := t.exec(ctx, `DELETE FROM poker_state WHERE table_id = ?`, tableID)
	return err
}

// --- request ledger ---

func (t *sqlTx) EnsureRequest(ctx context.Context, key RequestKey, now time.Time) (EnsureResult, error) {
	res, err := t.exec(ctx, `
INSERT INTO poker_requests (table_id, user_id, request_id, kind, result_json, created_at)
VALUES (?, ?, ?, ?, NULL, ?)
ON CONFLICT (table_id, user_id, request_id, kind) DO NOTHING
`, key.TableID, key.UserID, key.RequestID, key.Kind, now)
	if err != nil {
		return EnsureResult{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return EnsureResult{Status: RequestProceed}, nil
	}

	var result sql.NullString
	err = t.queryRow(ctx, `
SELECT result_json FROM poker_requests
WHERE table_id = ? AND user_id = ? AND request_id = ? AND kind = ?
`, key.TableID, key.UserID, key.RequestID, key.Kind).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted between our insert attempt and the read; the caller
		// retries from the top.
		return EnsureResult{Status: RequestPending}, nil
	}
	if err != nil {
		return EnsureResult{}, err
	}
	if !result.Valid {
		return EnsureResult{Status: RequestPending}, nil
	}
	return EnsureResult{Status: RequestStored, Result: json.RawMessage(result.String)}, nil
}

func (t *sqlTx) StoreRequestResult(ctx context.Context, key RequestKey, result json.RawMessage) error {
	res, err := t.exec(ctx, `
UPDATE poker_requests SET result_json = ?
WHERE table_id = ? AND user_id = ? AND request_id = ? AND kind = ?
`, string(result), key.TableID, key.UserID, key.RequestID, key.Kind)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) DeleteRequest(ctx context.Context, key RequestKey) error {
	_, err := t.exec(ctx, `
DELETE FROM poker_requests
WHERE table_id = ? AND user_id = ? AND request_id = ? AND kind = ?
`, key.TableID, key.UserID, key.RequestID, key.Kind)
	return err
}

func (t *sqlTx) DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.exec(ctx, `DELETE FROM poker_requests WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- action audit ---

func (t *sqlTx) InsertAction(ctx context.Context, a *ActionRecord) error {
	meta := "{}"
	if len(a.Meta) > 0 {
		meta = string(a.Meta)
	}
	_, err := t.exec(ctx, `
INSERT INTO poker_actions (table_id, version, user_id, action_type, amount, hand_id, request_id, phase_from, phase_to, meta)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, a.TableID, a.Version, a.UserID, a.ActionType, a.Amount, a.HandID, a.RequestID, a.PhaseFrom, a.PhaseTo, meta)
	return err
}

func (t *sqlTx) InsertActionOnce(ctx context.Context, a *ActionRecord) (bool, error) {
	meta := "{}"
	if len(a.Meta) > 0 {
		meta = string(a.Meta)
	}
	res, err := t.exec(ctx, `
INSERT INTO poker_actions (table_id, version, user_id, action_type, amount, hand_id, request_id, phase_from, phase_to, meta)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM poker_actions
    WHERE table_id = ? AND hand_id = ? AND request_id = ? AND action_type = ?
)
`, a.TableID, a.Version, a.UserID, a.ActionType, a.Amount, a.HandID, a.RequestID, a.PhaseFrom, a.PhaseTo, meta,
		a.TableID, a.HandID, a.RequestID, a.ActionType)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- hole cards ---

func (t *sqlTx) PutHoleCards(ctx context.Context, tableID, handID string, byUser map[string][]string) error {
	for userID, cards := range byUser {
		raw, err := json.Marshal(cards)
		if err != nil {
			return err
		}
		if _, err := t.exec(ctx, `
INSERT INTO poker_hole_cards (table_id, hand_id, user_id, cards)
VALUES (?, ?, ?, ?)
ON CONFLICT (table_id, hand_id, user_id) DO NOTHING
`, tableID, handID, userID, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) GetHoleCards(ctx context.Context, tableID, handID string, userIDs []string, strict bool) (map[string][]string, []HoleCardStatus, error) {
	rows, err := t.query(ctx, `
SELECT user_id, cards FROM poker_hole_cards WHERE table_id = ? AND hand_id = ?
`, tableID, handID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	stored := map[string]string{}
	for rows.Next() {
		var userID, raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, nil, err
		}
		stored[userID] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return assembleHoleCards(tableID, handID, stored, userIDs, strict)
}

// assembleHoleCards applies the strict/soft read contract to the raw
// rows. Shared with the memory store.
func assembleHoleCards(tableID, handID string, stored map[string]string, userIDs []string, strict bool) (map[string][]string, []HoleCardStatus, error) {
	out := map[string][]string{}
	statuses := make([]HoleCardStatus, 0, len(userIDs))
	for _, uid := range userIDs {
		raw, ok := stored[uid]
		if !ok {
			if strict {
				return nil, nil, fmt.Errorf("store: no hole cards for %s in hand %s of table %s", uid, handID, tableID)
			}
			statuses = append(statuses, HoleCardStatus{UserID: uid, Reason: "missing"})
			continue
		}
		var cards []string
		if err := json.Unmarshal([]byte(raw), &cards); err != nil || len(cards) != 2 {
			if strict {
				return nil, nil, fmt.Errorf("store: malformed hole cards for %s in hand %s of table %s", uid, handID, tableID)
			}
			statuses = append(statuses, HoleCardStatus{UserID: uid, Reason: "malformed"})
			continue
		}
		out[uid] = cards
		statuses = append(statuses, HoleCardStatus{UserID: uid, Cards: cards, OK: true})
	}
	return out, statuses, nil
}

func (t *sqlTx) DeleteHoleCards(ctx context.Context, tableID string) error {
	_, err := t.exec(ctx, `DELETE FROM poker_hole_cards WHERE table_id = ?`, tableID)
	return err
}
