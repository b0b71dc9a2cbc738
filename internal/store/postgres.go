// Package store provides storage backends for PortalAssist.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PortalAssist/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN
// (a postgres:// connection URL).
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSettings() (*models.AssistantSettings, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM assistant_settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSettings failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	var settings models.AssistantSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

func (s *PostgresStore) SaveSettings(settings models.AssistantSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO assistant_settings (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		string(data), time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveSettings failed", "error", err)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSecret(name string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE name = $1`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSecret failed", "error", err, "name", name)
		return "", fmt.Errorf("failed to query secret %s: %w", name, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSecret(name, value string) error {
	_, err := s.db.Exec(`INSERT INTO secrets (name, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		name, value, time.Now())
	if err != nil {
		slog.Error("PostgresStore SetSecret failed", "error", err, "name", name)
		return fmt.Errorf("failed to save secret %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSecret(name string) error {
	if _, err := s.db.Exec(`DELETE FROM secrets WHERE name = $1`, name); err != nil {
		slog.Error("PostgresStore DeleteSecret failed", "error", err, "name", name)
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) GetRateLimitWindow(requesterID string) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	err := s.db.QueryRow(`SELECT requester_id, window_start, count FROM rate_limit_windows WHERE requester_id = $1`,
		requesterID).Scan(&w.RequesterID, &w.WindowStart, &w.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRateLimitWindow failed", "error", err, "requesterID", requesterID)
		return nil, fmt.Errorf("failed to query rate limit window: %w", err)
	}
	return &w, nil
}

func (s *PostgresStore) SaveRateLimitWindow(w models.RateLimitWindow) error {
	_, err := s.db.Exec(`INSERT INTO rate_limit_windows (requester_id, window_start, count) VALUES ($1, $2, $3)
		ON CONFLICT (requester_id) DO UPDATE SET window_start = EXCLUDED.window_start, count = EXCLUDED.count`,
		w.RequesterID, w.WindowStart, w.Count)
	if err != nil {
		slog.Error("PostgresStore SaveRateLimitWindow failed", "error", err, "requesterID", w.RequesterID)
		return fmt.Errorf("failed to save rate limit window: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIntakeState(conversationID string) (*models.IntakeState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state_json FROM intake_states WHERE conversation_id = $1`,
		conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetIntakeState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query intake state: %w", err)
	}
	var st models.IntakeState
	if err := st.FromJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode intake state: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) SaveIntakeState(st models.IntakeState) error {
	data, err := st.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode intake state: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO intake_states (conversation_id, state_json, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		st.ConversationID, data, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveIntakeState failed", "error", err, "conversationID", st.ConversationID)
		return fmt.Errorf("failed to save intake state: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteIntakeState(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM intake_states WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteIntakeState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete intake state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
