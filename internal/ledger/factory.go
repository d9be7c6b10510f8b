package ledger

import (
	"fmt"
	"os"
	"strings"
)

func ledgerModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_MODE")))
	switch raw {
	case "", "db", "postgres", "postgresql":
		return "db"
	case "memory", "mem":
		return "memory"
	default:
		return raw
	}
}

// NewPosterFromEnv selects the ledger backend via LEDGER_MODE.
func NewPosterFromEnv() (Poster, string, error) {
	mode := ledgerModeFromEnv()
	switch mode {
	case "db":
		p, err := NewPostgresPosterFromEnv()
		return p, mode, err
	case "memory":
		return NewMemoryPoster(), mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid LEDGER_MODE %q (supported: db, memory)", mode)
	}
}
