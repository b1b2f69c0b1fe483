package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/auraplan/aura/internal/config"
)

// DB is the local store. Every row that belongs to a person is keyed by
// user id so several users can share one database.
type DB struct {
	*sql.DB
}

// Open opens the database in the config directory.
func Open() (*DB, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(dir, "aura.db"))
}

func OpenPath(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := &DB{db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS commitments (
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			title TEXT NOT NULL,
			days TEXT NOT NULL,
			start_time TEXT,
			end_time TEXT,
			PRIMARY KEY (user_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			planned_minutes INTEGER NOT NULL,
			scheduled_minutes INTEGER NOT NULL,
			dropped TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS plans_user ON plans (user_id, id)`,
		`CREATE TABLE IF NOT EXISTS plan_events (
			plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			title TEXT NOT NULL,
			assignment TEXT NOT NULL,
			phase TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			synced_id TEXT,
			PRIMARY KEY (plan_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}

func (db *DB) GetState(userID, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM state WHERE user_id = ? AND key = ?", userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (db *DB) SetState(userID, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO state (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value,
	)
	return err
}
