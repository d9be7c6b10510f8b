package store

import (
	"fmt"
	"os"
	"strings"
)

const (
	ModeDB     = "db"
	ModeSQLite = "sqlite"
	ModeMemory = "memory"
)

func storeModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("POKER_STORE_MODE")))
	switch raw {
	case "", ModeDB, "postgres", "postgresql":
		return ModeDB
	case ModeSQLite, "local":
		return ModeSQLite
	case ModeMemory, "mem":
		return ModeMemory
	default:
		return raw
	}
}

// NewFromEnv selects the store backend via POKER_STORE_MODE: db
// (postgres, the default), sqlite, or memory.
func NewFromEnv() (Store, string, error) {
	mode := storeModeFromEnv()
	switch mode {
	case ModeDB:
		s, err := NewPostgresFromEnv()
		return s, mode, err
	case ModeSQLite:
		s, err := NewSQLiteFromEnv()
		return s, mode, err
	case ModeMemory:
		return NewMemory(), mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid POKER_STORE_MODE %q (supported: %s, %s, %s)", mode, ModeDB, ModeSQLite, ModeMemory)
	}
}
