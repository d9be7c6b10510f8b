package service

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"pokerhall/internal/engine"
	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
)

// Request ledger kinds.
const (
	KindJoin      = "JOIN"
	KindStartHand = "START_HAND"
	KindAct       = "ACT"
	KindLeave     = "LEAVE"
	KindHeartbeat = "HEARTBEAT"
)

// Config carries the tunables of the table service.
type Config struct {
	TurnTimeout   time.Duration
	MaxBotActions int
	MinBuyIn      int64
	MaxBuyIn      int64
	MaxPlayersCap int
}

func DefaultConfig() Config {
	return Config{
		TurnTimeout:   30 * time.Second,
		MaxBotActions: 32,
		MinBuyIn:      1,
		MaxBuyIn:      1_000_000,
		MaxPlayersCap: 9,
	}
}

// ConfigFromEnv overlays environment overrides on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("POKER_TURN_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.TurnTimeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("POKER_MAX_BOT_ACTIONS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxBotActions = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("POKER_MAX_BUY_IN")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			cfg.MaxBuyIn = n
		}
	}
	return cfg
}

// Service executes every player-facing table operation as one store
// transaction with idempotent request handling.
type Service struct {
	store  store.Store
	ledger ledger.Poster
	cfg    Config
	now    func() time.Time
}

func NewService(st store.Store, poster ledger.Poster, cfg Config) *Service {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultConfig().TurnTimeout
	}
	if cfg.MaxBotActions <= 0 {
		cfg.MaxBotActions = DefaultConfig().MaxBotActions
	}
	return &Service{store: st, ledger: poster, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Outcome is what an idempotent operation hands back: the result
// document, replayed verbatim when the request was already processed.
type Outcome struct {
	Result   json.RawMessage
	Replayed bool
}

func outcomeOf(v any) (*Outcome, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: raw}, nil
}

// Stable service error codes, aligned with the transport contract.
const (
	CodeStateInvalid   = "state_invalid"
	CodeStateConflict  = "state_conflict"
	CodeStateMissing   = "state_missing"
	CodeRequestPending = "request_pending"
	CodePlayerLeft     = "player_left"
	CodeOutOfTurn      = "out_of_turn"
	CodeInvalidAction  = "invalid_action"
	CodeNoHand         = "no_active_hand"
	CodeHandInProgress = "hand_in_progress"
	CodeTableNotFound  = "table_not_found"
	CodeTableClosed    = "table_closed"
	CodeTableFull      = "table_full"
	CodeAlreadySeated  = "already_seated"
	CodeNotSeated      = "not_seated"
	CodeInvalidBuyIn   = "invalid_buy_in"
)

// Error is a typed rejection. The transaction that produced it is
// rolled back, so no partial writes escape.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func errCode(code, msg string) *Error { return &Error{Code: code, Msg: msg} }

// CodeOf maps any error to its stable code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, store.ErrStateMissing) {
		return CodeStateMissing
	}
	if errors.Is(err, store.ErrNotFound) {
		return CodeTableNotFound
	}
	return CodeStateInvalid
}

// mapEngineErr lifts reducer errors to the service taxonomy unchanged;
// the codes already line up.
func mapEngineErr(err error) error {
	if err == nil {
		return nil
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return errCode(ee.Code, ee.Msg)
	}
	return errCode(CodeStateInvalid, err.Error())
}

// writeState runs the optimistic CAS and maps the failure reasons.
func writeState(res store.UpdateResult, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if res.OK {
		return res.NewVersion, nil
	}
	switch res.Reason {
	case "conflict":
		return 0, errCode(CodeStateConflict, "state version conflict")
	case "not_found":
		return 0, errCode(CodeStateMissing, "no state row")
	default:
		return 0, errCode(CodeStateInvalid, "state write rejected: "+res.Reason)
	}
}
