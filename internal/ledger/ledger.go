package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Account types in the double-entry chip ledger.
const (
	AccountUser   = "USER"
	AccountEscrow = "ESCROW"
	AccountSystem = "SYSTEM"
)

// System account keys.
const (
	SystemBankroll   = "BANKROLL"
	SystemQuarantine = "QUARANTINE"
)

// Transaction types.
const (
	TxBuyIn       = "TABLE_BUY_IN"
	TxCashOut     = "TABLE_CASH_OUT"
	TxSettlement  = "TABLE_SETTLEMENT"
	TxRemediation = "ESCROW_REMEDIATION"
	TxQuarantine  = "ESCROW_QUARANTINE"
)

var (
	ErrUnbalanced   = errors.New("ledger: entries do not balance")
	ErrEmptyEntries = errors.New("ledger: no entries")
	ErrNoIdemKey    = errors.New("ledger: missing idempotency key")
)

// EscrowKeyForTable names the per-table escrow account holding chips
// in play.
func EscrowKeyForTable(tableID string) string {
	return "POKER_TABLE:" + tableID
}

// Entry is one leg of a transaction. USER entries name a user, ESCROW
// and SYSTEM entries name an account key.
type Entry struct {
	AccountType string `json:"accountType"`
	UserID      string `json:"userId,omitempty"`
	SystemKey   string `json:"systemKey,omitempty"`
	Amount      int64  `json:"amount"`
}

// PostInput is one atomic double-entry posting. The poster is
// idempotent on IdempotencyKey: a replay returns the original
// transaction without moving chips again.
type PostInput struct {
	UserID         string
	TxType         string
	IdempotencyKey string
	Entries        []Entry
	Metadata       map[string]any
}

// Transaction is the durable record of a posting.
type Transaction struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	TxType         string         `json:"txType"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Entries        []Entry        `json:"entries"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Replayed       bool           `json:"replayed,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Poster is the chip-movement contract consumed by the table service
// and the sweep job.
type Poster interface {
	PostTransaction(ctx context.Context, in PostInput) (*Transaction, error)
	// AccountBalance reads the current balance of a non-user account.
	AccountBalance(ctx context.Context, accountType, key string) (int64, error)
	// NonZeroEscrowKeys lists escrow account keys holding chips. Used
	// by orphan-escrow detection.
	NonZeroEscrowKeys(ctx context.Context) ([]string, error)
	Close() error
}

func validatePost(in PostInput) error {
	if in.IdempotencyKey == "" {
		return ErrNoIdemKey
	}
	if len(in.Entries) == 0 {
		return ErrEmptyEntries
	}
	var sum int64
	for _, e := range in.Entries {
		switch e.AccountType {
		case AccountUser:
			if e.UserID == "" {
				return fmt.Errorf("ledger: USER entry without userId")
			}
		case AccountEscrow, AccountSystem:
			if e.SystemKey == "" {
				return fmt.Errorf("ledger: %s entry without account key", e.AccountType)
			}
		default:
			return fmt.Errorf("ledger: unknown account type %q", e.AccountType)
		}
		sum += e.Amount
	}
	if sum != 0 {
		return ErrUnbalanced
	}
	return nil
}

func accountKey(e Entry) (string, string) {
	if e.AccountType == AccountUser {
		return AccountUser, e.UserID
	}
	return e.AccountType, e.SystemKey
}
