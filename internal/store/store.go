package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Table/seat status values as persisted.
const (
	TableOpen   = "OPEN"
	TableClosed = "CLOSED"

	SeatActive   = "ACTIVE"
	SeatInactive = "INACTIVE"
)

// Request ledger outcomes. proceed means this caller claimed the
// request and must do the work; pending means another invocation holds
// it unresolved; stored means a final result exists and must be
// replayed verbatim.
const (
	RequestProceed = "proceed"
	RequestPending = "pending"
	RequestStored  = "stored"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrStateMissing = errors.New("store: no state row for table")
	ErrSeatTaken    = errors.New("store: seat already occupied")
)

// Table is one poker table row.
type Table struct {
	ID             string
	Status         string
	SmallBlind     int64
	BigBlind       int64
	MaxPlayers     int
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// Seat is the durable record of table membership. Stack is a cache
// that is authoritative only while no hand is active; the state
// document wins whenever both exist.
type Seat struct {
	TableID        string
	SeatNo         int
	UserID         string
	Status         string
	Stack          int64
	IsBot          bool
	BotProfile     string
	LeaveAfterHand bool
	LastSeenAt     time.Time
	JoinedAt       time.Time
}

// UpdateResult is the outcome of a compare-and-swap state write.
type UpdateResult struct {
	OK             bool
	NewVersion     int64
	AlreadyApplied bool
	// conflict, not_found or invalid when OK is false.
	Reason string
}

// RequestKey identifies one idempotent request attempt.
type RequestKey struct {
	TableID   string
	UserID    string
	RequestID string
	Kind      string
}

// EnsureResult reports how a request key was claimed. Result is only
// set for stored.
type EnsureResult struct {
	Status string
	Result json.RawMessage
}

// ActionRecord is one append-only gameplay audit row.
type ActionRecord struct {
	TableID    string
	Version    int64
	UserID     string
	ActionType string
	Amount     int64
	HandID     string
	RequestID  string
	PhaseFrom  string
	PhaseTo    string
	Meta       json.RawMessage
}

// HoleCardStatus is the per-user outcome of a soft hole-card read.
type HoleCardStatus struct {
	UserID string
	Cards  []string
	OK     bool
	Reason string
}

// Tx is the per-transaction persistence surface. Every player-facing
// operation runs against exactly one Tx so a failure rolls the whole
// request back.
type Tx interface {
	CreateTable(ctx context.Context, t *Table) error
	GetTable(ctx context.Context, tableID string, forUpdate bool) (*Table, error)
	TouchTable(ctx context.Context, tableID string, now time.Time) error
	CloseTable(ctx context.Context, tableID string, now time.Time) error
	ListTablesByStatus(ctx context.Context, status string) ([]*Table, error)

	InsertSeat(ctx context.Context, s *Seat) error
	GetSeat(ctx context.Context, tableID, userID string, forUpdate bool) (*Seat, error)
	ListSeats(ctx context.Context, tableID string) ([]*Seat, error)
	DeleteSeat(ctx context.Context, tableID, userID string) error
	UpdateSeatPresence(ctx context.Context, tableID, userID string, seenAt time.Time) error
	SetSeatStatus(ctx context.Context, tableID, userID, status string, stack int64) error
	SetLeaveAfterHand(ctx context.Context, tableID, userID string, v bool) error
	ListStaleActiveSeats(ctx context.Context, cutoff time.Time) ([]*Seat, error)

	CreateState(ctx context.Context, tableID string, initial json.RawMessage) error
	GetState(ctx context.Context, tableID string, forUpdate bool) (int64, json.RawMessage, error)
	UpdateState(ctx context.Context, tableID string, expectedVersion int64, next json.RawMessage) (UpdateResult, error)
	DeleteState(ctx context.Context, tableID string) error

	EnsureRequest(ctx context.Context, key RequestKey, now time.Time) (EnsureResult, error)
	StoreRequestResult(ctx context.Context, key RequestKey, result json.RawMessage) error
	DeleteRequest(ctx context.Context, key RequestKey) error
	DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertAction(ctx context.Context, a *ActionRecord) error
	// InsertActionOnce inserts unless a row with the same table, hand,
	// request id and action type already exists. Reports whether a row
	// was written.
	InsertActionOnce(ctx context.Context, a *ActionRecord) (bool, error)

	PutHoleCards(ctx context.Context, tableID, handID string, byUser map[string][]string) error
	// GetHoleCards reads hands for the listed users. In strict mode a
	// missing or malformed hand is an error; in soft mode it is
	// reported per user instead.
	GetHoleCards(ctx context.Context, tableID, handID string, userIDs []string, strict bool) (map[string][]string, []HoleCardStatus, error)
	DeleteHoleCards(ctx context.Context, tableID string) error
}

// Store opens transactions over the backing database.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
