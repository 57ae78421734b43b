package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/saaga0h/jeeves-presence/pkg/postgres"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS presence_sessions (
	id          UUID PRIMARY KEY,
	camera_id   TEXT        NOT NULL,
	entry_time  TIMESTAMPTZ NOT NULL,
	exit_time   TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	forced      BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS presence_sessions_camera_entry_idx
	ON presence_sessions (camera_id, entry_time DESC);`

const insertSession = `
INSERT INTO presence_sessions (id, camera_id, entry_time, exit_time, duration_ms, forced)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

const selectRecentSessions = `
SELECT id, camera_id, entry_time, exit_time, duration_ms, forced
FROM presence_sessions
WHERE camera_id = $1
ORDER BY entry_time DESC
LIMIT $2`

// Session is a completed presence interval
type Session struct {
	ID        uuid.UUID
	CameraID  string
	EntryTime time.Time
	ExitTime  time.Time
	Duration  time.Duration
	Forced    bool
}

// SessionStore persists completed sessions to Postgres
type SessionStore struct {
	db     postgres.Client
	logger *slog.Logger
}

// NewSessionStore creates a session store on a connected client
func NewSessionStore(db postgres.Client, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the sessions table if it does not exist
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("failed to create presence_sessions: %w", err)
	}
	return nil
}

// Save inserts a completed session; saving the same ID twice is a no-op
func (s *SessionStore) Save(ctx context.Context, session Session) error {
	_, err := s.db.Exec(ctx, insertSession,
		session.ID,
		session.CameraID,
		session.EntryTime.UTC(),
		session.ExitTime.UTC(),
		session.Duration.Milliseconds(),
		session.Forced,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}

	s.logger.Debug("Stored presence session",
		"session_id", session.ID,
		"camera", session.CameraID,
		"duration", session.Duration)

	return nil
}

// Recent returns up to limit sessions for a camera, newest first
func (s *SessionStore) Recent(ctx context.Context, camera string, limit int) ([]Session, error) {
	rows, err := s.db.Query(ctx, selectRecentSessions, camera, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// sessionRows is the part of *sql.Rows that scanSessions reads
type sessionRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSessions(rows sessionRows) ([]Session, error) {
	sessions := []Session{}
	for rows.Next() {
		var session Session
		var durationMs int64
		if err := rows.Scan(&session.ID, &session.CameraID, &session.EntryTime, &session.ExitTime, &durationMs, &session.Forced); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.Duration = time.Duration(durationMs) * time.Millisecond
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}
