package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "pokerhall_local.db"

func pokerLocalDatabasePathFromEnv() (string, error) {
	if v := strings.TrimSpace(os.Getenv("POKER_SQLITE_PATH")); v != "" {
		return v, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pokerhall", defaultLocalDBName), nil
}

func NewSQLiteFromEnv() (Store, error) {
	dbPath, err := pokerLocalDatabasePathFromEnv()
	if err != nil {
		return nil, err
	}
	return NewSQLite(dbPath)
}

func NewSQLite(dbPath string) (Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqlStore{db: db, dialect: dialectSQLite}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS poker_tables (
    id               TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    small_blind      INTEGER NOT NULL,
    big_blind        INTEGER NOT NULL,
    max_players      INTEGER NOT NULL,
    created_by       TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL,
    last_activity_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS poker_seats (
    table_id         TEXT NOT NULL REFERENCES poker_tables (id),
    seat_no          INTEGER NOT NULL,
    user_id          TEXT NOT NULL,
    status           TEXT NOT NULL,
    stack            INTEGER NOT NULL DEFAULT 0,
    is_bot           BOOLEAN NOT NULL DEFAULT FALSE,
    bot_profile      TEXT NOT NULL DEFAULT '',
    leave_after_hand BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen_at     TIMESTAMP NOT NULL,
    joined_at        TIMESTAMP NOT NULL,
    PRIMARY KEY (table_id, seat_no),
    UNIQUE (table_id, user_id)
)`,
		`CREATE TABLE IF NOT EXISTS poker_state (
    table_id TEXT PRIMARY KEY REFERENCES poker_tables (id),
    version  INTEGER NOT NULL DEFAULT 0,
    state    TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS poker_requests (
    table_id    TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    request_id  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    result_json TEXT,
    created_at  TIMESTAMP NOT NULL,
    PRIMARY KEY (table_id, user_id, request_id, kind)
)`,
		`CREATE TABLE IF NOT EXISTS poker_actions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id    TEXT NOT NULL,
    version     INTEGER NOT NULL,
    user_id     TEXT NOT NULL,
    action_type TEXT NOT NULL,
    amount      INTEGER NOT NULL DEFAULT 0,
    hand_id     TEXT NOT NULL DEFAULT '',
    request_id  TEXT NOT NULL DEFAULT '',
    phase_from  TEXT NOT NULL DEFAULT '',
    phase_to    TEXT NOT NULL DEFAULT '',
    meta        TEXT NOT NULL DEFAULT '{}'
)`,
		`CREATE INDEX IF NOT EXISTS idx_poker_actions_guard
    ON poker_actions (table_id, hand_id, request_id, action_type)`,
		`CREATE TABLE IF NOT EXISTS poker_hole_cards (
    table_id TEXT NOT NULL,
    hand_id  TEXT NOT NULL,
    user_id  TEXT NOT NULL,
    cards    TEXT NOT NULL,
    PRIMARY KEY (table_id, hand_id, user_id)
)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
