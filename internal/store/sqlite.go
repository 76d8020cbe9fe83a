package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME,
			updated_at DATETIME,
			engine TEXT,
			model TEXT,
			metadata TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			role TEXT,
			text TEXT,
			images INTEGER,
			audio INTEGER,
			created_at DATETIME,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS media (
			key TEXT PRIMARY KEY,
			modality TEXT,
			owner_id TEXT,
			transcript TEXT,
			confidence REAL,
			vector BLOB,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Sessions

func (s *SQLiteStore) CreateSession(rec *SessionRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO sessions (id, created_at, updated_at, engine, model, metadata) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.Engine, rec.Model, string(metaJSON))
	return err
}

func (s *SQLiteStore) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT id, created_at, updated_at, engine, model, metadata FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	var metaJSON string
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &rec.Engine, &rec.Model, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found")
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) UpdateSession(rec *SessionRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `UPDATE sessions SET updated_at = ?, engine = ?, model = ?, metadata = ? WHERE id = ?`
	_, err = s.db.Exec(query, time.Now(), rec.Engine, rec.Model, string(metaJSON), rec.ID)
	return err
}

func (s *SQLiteStore) ListSessions() ([]*SessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, created_at, updated_at, engine, model, metadata FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var metaJSON string
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &rec.Engine, &rec.Model, &metaJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Turns

func (s *SQLiteStore) AppendTurn(rec *TurnRecord) error {
	query := `INSERT INTO turns (session_id, role, text, images, audio, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.Exec(query, rec.SessionID, rec.Role, rec.Text, rec.Images, rec.Audio, rec.CreatedAt)
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListTurns(sessionID string) ([]*TurnRecord, error) {
	query := `SELECT id, session_id, role, text, images, audio, created_at FROM turns WHERE session_id = ? ORDER BY id`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Text, &rec.Images, &rec.Audio, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearTurns(sessionID string, keepSystem bool) error {
	query := `DELETE FROM turns WHERE session_id = ?`
	if keepSystem {
		query += ` AND role != 'system'`
	}
	_, err := s.db.Exec(query, sessionID)
	return err
}
