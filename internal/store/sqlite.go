// Package store provides storage backends for PortalAssist.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/PortalAssist/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the containing
// directory is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSettings() (*models.AssistantSettings, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM assistant_settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSettings failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	var settings models.AssistantSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

func (s *SQLiteStore) SaveSettings(settings models.AssistantSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO assistant_settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveSettings failed", "error", err)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSecret(name string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSecret failed", "error", err, "name", name)
		return "", fmt.Errorf("failed to query secret %s: %w", name, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSecret(name, value string) error {
	_, err := s.db.Exec(`INSERT INTO secrets (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SetSecret failed", "error", err, "name", name)
		return fmt.Errorf("failed to save secret %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSecret(name string) error {
	if _, err := s.db.Exec(`DELETE FROM secrets WHERE name = ?`, name); err != nil {
		slog.Error("SQLiteStore DeleteSecret failed", "error", err, "name", name)
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetRateLimitWindow(requesterID string) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	err := s.db.QueryRow(`SELECT requester_id, window_start, count FROM rate_limit_windows WHERE requester_id = ?`,
		requesterID).Scan(&w.RequesterID, &w.WindowStart, &w.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRateLimitWindow failed", "error", err, "requesterID", requesterID)
		return nil, fmt.Errorf("failed to query rate limit window: %w", err)
	}
	return &w, nil
}

func (s *SQLiteStore) SaveRateLimitWindow(w models.RateLimitWindow) error {
	_, err := s.db.Exec(`INSERT INTO rate_limit_windows (requester_id, window_start, count) VALUES (?, ?, ?)
		ON CONFLICT(requester_id) DO UPDATE SET window_start = excluded.window_start, count = excluded.count`,
		w.RequesterID, w.WindowStart, w.Count)
	if err != nil {
		slog.Error("SQLiteStore SaveRateLimitWindow failed", "error", err, "requesterID", w.RequesterID)
		return fmt.Errorf("failed to save rate limit window: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIntakeState(conversationID string) (*models.IntakeState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state_json FROM intake_states WHERE conversation_id = ?`,
		conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetIntakeState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query intake state: %w", err)
	}
	var st models.IntakeState
	if err := st.FromJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode intake state: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveIntakeState(st models.IntakeState) error {
	data, err := st.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode intake state: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO intake_states (conversation_id, state_json, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		st.ConversationID, data, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveIntakeState failed", "error", err, "conversationID", st.ConversationID)
		return fmt.Errorf("failed to save intake state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIntakeState(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM intake_states WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteIntakeState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete intake state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
