package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process backend used by tests and POKER_STORE_MODE=
// memory. A transaction holds the store lock for its whole duration
// and restores a snapshot on error, matching the rollback semantics of
// the SQL backends.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	tables   map[string]*Table
	seats    map[string]map[string]*Seat // tableID -> userID
	states   map[string]*memState
	requests map[RequestKey]*memRequest
	actions  []*ActionRecord
	holes    map[string]map[string]map[string]string // table -> hand -> user
}

type memState struct {
	version int64
	state   string
}

type memRequest struct {
	result    *string
	createdAt time.Time
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		tables:   map[string]*Table{},
		seats:    map[string]map[string]*Seat{},
		states:   map[string]*memState{},
		requests: map[RequestKey]*memRequest{},
		holes:    map[string]map[string]map[string]string{},
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for id, t := range d.tables {
		cp := *t
		out.tables[id] = &cp
	}
	for id, seats := range d.seats {
		m := map[string]*Seat{}
		for uid, s := range seats {
			cp := *s
			m[uid] = &cp
		}
		out.seats[id] = m
	}
	for id, st := range d.states {
		cp := *st
		out.states[id] = &cp
	}
	for k, r := range d.requests {
		cp := memRequest{createdAt: r.createdAt}
		if r.result != nil {
			v := *r.result
			cp.result = &v
		}
		out.requests[k] = &cp
	}
	out.actions = make([]*ActionRecord, len(d.actions))
	for i, a := range d.actions {
		cp := *a
		cp.Meta = append(json.RawMessage(nil), a.Meta...)
		out.actions[i] = &cp
	}
	for id, hands := range d.holes {
		hm := map[string]map[string]string{}
		for hand, users := range hands {
			um := map[string]string{}
			for uid, raw := range users {
				um[uid] = raw
			}
			hm[hand] = um
		}
		out.holes[id] = hm
	}
	return out
}

func (m *Memory) Close() error { return nil }

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	if err := fn(ctx, &memTx{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

type memTx struct {
	d *memData
}

// --- tables ---

func (t *memTx) CreateTable(_ context.Context, tb *Table) error {
	cp := *tb
	t.d.tables[tb.ID] = &cp
	return nil
}

func (t *memTx) GetTable(_ context.Context, tableID string, _ bool) (*Table, error) {
	tb, ok := t.d.tables[tableID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tb
	return &cp, nil
}

func (t *memTx) TouchTable(_ context.Context, tableID string, now time.Time) error {
	if tb, ok := t.d.tables[tableID]; ok {
		tb.LastActivityAt = now
		tb.UpdatedAt = now
	}
	return nil
}

func (t *memTx) CloseTable(_ context.Context, tableID string, now time.Time) error {
	if tb, ok := t.d.tables[tableID]; ok && tb.Status != TableClosed {
		tb.Status = TableClosed
		tb.UpdatedAt = now
	}
	return nil
}

func (t *memTx) ListTablesByStatus(_ context.Context, status string) ([]*Table, error) {
	var out []*Table
	for _, tb := range t.d.tables {
		if tb.Status == status {
			cp := *tb
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- seats ---

func (t *memTx) InsertSeat(_ context.Context, s *Seat) error {
	seats := t.d.seats[s.TableID]
	if seats == nil {
		seats = map[string]*Seat{}
		t.d.seats[s.TableID] = seats
	}
	for _, existing := range seats {
		if existing.SeatNo == s.SeatNo || existing.UserID == s.UserID {
			return ErrSeatTaken
		}
	}
	cp := *s
	seats[s.UserID] = &cp
	return nil
}

func (t *memTx) GetSeat(_ context.Context, tableID, userID string, _ bool) (*Seat, error) {
	s, ok := t.d.seats[tableID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) ListSeats(_ context.Context, tableID string) ([]*Seat, error) {
	var out []*Seat
	for _, s := range t.d.seats[tableID] {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNo < out[j].SeatNo })
	return out, nil
}

func (t *memTx) DeleteSeat(_ context.Context, tableID, userID string) error {
	delete(t.d.seats[tableID], userID)
	return nil
}

func (t *memTx) UpdateSeatPresence(_ context.Context, tableID, userID string, seenAt time.Time) error {
	s, ok := t.d.seats[tableID][userID]
	if !ok {
		return ErrNotFound
	}
	s.LastSeenAt = seenAt
	return nil
}

func (t *memTx) SetSeatStatus(_ context.Context, tableID, userID, status string, stack int64) error {
	s, ok := t.d.seats[tableID][userID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.Stack = stack
	return nil
}

func (t *memTx) SetLeaveAfterHand(_ context.Context, tableID, userID string, v bool) error {
	if s, ok := t.d.seats[tableID][userID]; ok {
		s.LeaveAfterHand = v
	}
	return nil
}

func (t *memTx) ListStaleActiveSeats(_ context.Context, cutoff time.Time) ([]*Seat, error) {
	var out []*Seat
	for _, seats := range t.d.seats {
		for _, s := range seats {
			if s.Status == SeatActive && s.LastSeenAt.Before(cutoff) {
				cp := *s
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TableID != out[j].TableID {
			return out[i].TableID < out[j].TableID
		}
		return out[i].SeatNo < out[j].SeatNo
	})
	return out, nil
}

// --- versioned state ---

func (t *memTx) CreateState(_ context.Context, tableID string, initial json.RawMessage) error {
	if _, ok := stateObject(initial); !ok {
		return fmt.Errorf("store: initial state for %s is not a JSON object", tableID)
	}
	t.d.states[tableID] = &memState{version: 0, state: string(initial)}
	return nil
}

func (t *memTx) GetState(_ context.Context, tableID string, _ bool) (int64, json.RawMessage, error) {
	st, ok := t.d.states[tableID]
	if !ok {
		return 0, nil, ErrStateMissing
	}
	return st.version, json.RawMessage(st.state), nil
}

func (t *memTx) UpdateState(_ context.Context, tableID string, expectedVersion int64, next json.RawMessage) (UpdateResult, error) {
	if expectedVersion < 0 {
		return UpdateResult{Reason: "invalid"}, nil
	}
	if _, ok := stateObject(next); !ok {
		return UpdateResult{Reason: "invalid"}, nil
	}
	st, ok := t.d.states[tableID]
	if !ok {
		return UpdateResult{Reason: "not_found"}, nil
	}
	if st.version == expectedVersion {
		st.version++
		st.state = string(next)
		return UpdateResult{OK: true, NewVersion: st.version}, nil
	}
	if statesEquivalent(json.RawMessage(st.state), next) {
		return UpdateResult{OK: true, NewVersion: st.version, AlreadyApplied: true}, nil
	}
	return UpdateResult{Reason: "conflict"}, nil
}

func (t *memTx) DeleteState(_ context.Context, tableID string) error {
	delete(t.d.states, tableID)
	return nil
}

// --- request ledger ---

func (t *memTx) EnsureRequest(_ context.Context, key RequestKey, now time.Time) (EnsureResult, error) {
	r, ok := t.d.requests[key]
	if !ok {
		t.d.requests[key] = &memRequest{createdAt: now}
		return EnsureResult{Status: RequestProceed}, nil
	}
	if r.result == nil {
		return EnsureResult{Status: RequestPending}, nil
	}
	return EnsureResult{Status: RequestStored, Result: json.RawMessage(*r.result)}, nil
}

func (t *memTx) StoreRequestResult(_ context.Context, key RequestKey, result json.RawMessage) error {
	r, ok := t.d.requests[key]
	if !ok {
		return ErrNotFound
	}
	v := string(result)
	r.result = &v
	return nil
}

func (t *memTx) DeleteRequest(_ context.Context, key RequestKey) error {
	delete(t.d.requests, key)
	return nil
}

func (t *memTx) DeleteRequestsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for k, r := range t.d.requests {
		if r.createdAt.Before(cutoff) {
			delete(t.d.requests, k)
			n++
		}
	}
	return n, nil
}

// --- action audit ---

func (t *memTx) InsertAction(_ context.Context, a *ActionRecord) error {
	cp := *a
	cp.Meta = append(json.RawMessage(nil), a.Meta...)
	t.d.actions = append(t.d.actions, &cp)
	return nil
}

func (t *memTx) InsertActionOnce(ctx context.Context, a *ActionRecord) (bool, error) {
	for _, existing := range t.d.actions {
		if existing.TableID == a.TableID && existing.HandID == a.HandID &&
			existing.RequestID == a.RequestID && existing.ActionType == a.ActionType {
			return false, nil
		}
	}
	return true, t.InsertAction(ctx, a)
}

// Actions lists the audit rows for a table, oldest first. Test helper;
// the SQL backends expose this through plain queries instead.
func (m *Memory) Actions(tableID string) []*ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ActionRecord
	for _, a := range m.data.actions {
		if a.TableID == tableID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// --- hole cards ---

func (t *memTx) PutHoleCards(_ context.Context, tableID, handID string, byUser map[string][]string) error {
	hands := t.d.holes[tableID]
	if hands == nil {
		hands = map[string]map[string]string{}
		t.d.holes[tableID] = hands
	}
	users := hands[handID]
	if users == nil {
		users = map[string]string{}
		hands[handID] = users
	}
	for uid, cards := range byUser {
		if _, exists := users[uid]; exists {
			continue
		}
		raw, err := json.Marshal(cards)
		if err != nil {
			return err
		}
		users[uid] = string(raw)
	}
	return nil
}

func (t *memTx) GetHoleCards(_ context.Context, tableID, handID string, userIDs []string, strict bool) (map[string][]string, []HoleCardStatus, error) {
	stored := map[string]string{}
	for uid, raw := range t.d.holes[tableID][handID] {
		stored[uid] = raw
	}
	return assembleHoleCards(tableID, handID, stored, userIDs, strict)
}

func (t *memTx) DeleteHoleCards(_ context.Context, tableID string) error {
	delete(t.d.holes, tableID)
	return nil
}
