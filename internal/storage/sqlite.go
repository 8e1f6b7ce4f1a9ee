// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists agent sessions and run history in a local
// SQLite database.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/steward-project/steward/pkg/agent"
	"github.com/steward-project/steward/pkg/errors"
)

// EnvDBPath overrides the default database location.
const EnvDBPath = "STEWARD_DB_PATH"

// Session groups agent runs that share conversational context.
type Session struct {
	ID        string
	AgentID   string
	Name      string
	CreatedAt time.Time
}

// Store is a SQLite-backed session and run store. It implements
// agent.HistoryStore.
//
// Database location: ~/.steward/steward.db (override with STEWARD_DB_PATH).
// WAL mode is enabled for concurrent readers.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the database path, honoring STEWARD_DB_PATH.
func DefaultPath() (string, error) {
	if path := os.Getenv(EnvDBPath); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".steward", "steward.db"), nil
}

// Open opens (and migrates) the database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, &errors.ValidationError{
			Field:   "path",
			Message: "database path is required",
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return store, nil
}

// OpenDefault opens the database at the default path.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			name TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			agent_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates a session for an agent.
func (s *Store) CreateSession(ctx context.Context, agentID, name string) (Session, error) {
	session := Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, name, created_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.AgentID, session.Name, session.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	return session, nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, created_at FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, &errors.NotFoundError{Resource: "session", ID: id}
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "fetching session")
	}
	return session, nil
}

// EnsureSession returns the session with the given ID, creating it if it
// does not exist. This lets callers pass stable session names on the CLI.
func (s *Store) EnsureSession(ctx context.Context, agentID, id string) (Session, error) {
	session, err := s.GetSession(ctx, id)
	if err == nil {
		return session, nil
	}
	var nfErr *errors.NotFoundError
	if !errors.As(err, &nfErr) {
		return Session{}, err
	}

	session = Session{ID: id, AgentID: agentID, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, name, created_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.AgentID, session.Name, session.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	return session, nil
}

// ListSessions returns an agent's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, agentID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, name, created_at FROM sessions
		 WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning session")
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// AppendRun persists one agent exchange. A session row is created on the
// fly for unknown session IDs. Implements agent.HistoryStore.
func (s *Store) AppendRun(ctx context.Context, record agent.RunRecord) error {
	if record.SessionID == "" {
		return &errors.ValidationError{
			Field:   "session_id",
			Message: "run must belong to a session",
		}
	}
	if _, err := s.EnsureSession(ctx, record.AgentID, record.SessionID); err != nil {
		return err
	}

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, agent_id, prompt, response, input_tokens, output_tokens, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.SessionID, record.AgentID, record.Prompt, record.Response,
		record.Usage.InputTokens, record.Usage.OutputTokens, record.Usage.TotalTokens,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "appending run")
	}
	return nil
}

// RecentRuns returns the last runs per session, drawn from the current
// session plus the agent's most recently active other sessions, oldest
// first so they replay chronologically. Implements agent.HistoryStore.
func (s *Store) RecentRuns(ctx context.Context, agentID, sessionID string, runs, sessions int) ([]agent.RunRecord, error) {
	if runs <= 0 || sessions <= 0 {
		return nil, nil
	}

	sessionIDs, err := s.recentSessionIDs(ctx, agentID, sessionID, sessions)
	if err != nil {
		return nil, err
	}

	var records []agent.RunRecord
	for _, sid := range sessionIDs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, session_id, agent_id, prompt, response, input_tokens, output_tokens, total_tokens, created_at
			 FROM (SELECT * FROM runs WHERE session_id = ? ORDER BY created_at DESC LIMIT ?)
			 ORDER BY created_at ASC`,
			sid, runs)
		if err != nil {
			return nil, errors.Wrap(err, "fetching recent runs")
		}
		sessionRecords, err := scanRuns(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		records = append(records, sessionRecords...)
	}
	return records, nil
}

// recentSessionIDs picks up to limit session IDs, with the active session
// last so its runs replay closest to the new prompt.
func (s *Store) recentSessionIDs(ctx context.Context, agentID, sessionID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT s.id FROM sessions s
		 JOIN runs r ON r.session_id = s.id
		 WHERE s.agent_id = ? AND s.id != ?
		 ORDER BY (SELECT MAX(created_at) FROM runs WHERE session_id = s.id) DESC
		 LIMIT ?`,
		agentID, sessionID, limit-1)
	if err != nil {
		return nil, errors.Wrap(err, "listing recent sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning session id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Older sessions first, active session last.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if sessionID != "" {
		ids = append(ids, sessionID)
	}
	return ids, nil
}

// SearchRuns finds runs whose prompt or response contains the query.
func (s *Store) SearchRuns(ctx context.Context, agentID, query string) ([]agent.RunRecord, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, agent_id, prompt, response, input_tokens, output_tokens, total_tokens, created_at
		 FROM runs
		 WHERE agent_id = ? AND (prompt LIKE ? OR response LIKE ?)
		 ORDER BY created_at DESC`,
		agentID, pattern, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "searching runs")
	}
	defer rows.Close()
	return scanRuns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var session Session
	var name sql.NullString
	var createdAt string
	if err := row.Scan(&session.ID, &session.AgentID, &name, &createdAt); err != nil {
		return Session{}, err
	}
	session.Name = name.String
	session.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return session, nil
}

func scanRuns(rows *sql.Rows) ([]agent.RunRecord, error) {
	var records []agent.RunRecord
	for rows.Next() {
		var record agent.RunRecord
		var createdAt string
		if err := rows.Scan(
			&record.ID, &record.SessionID, &record.AgentID,
			&record.Prompt, &record.Response,
			&record.Usage.InputTokens, &record.Usage.OutputTokens, &record.Usage.TotalTokens,
			&createdAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, record)
	}
	return records, rows.Err()
}
