package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"speechbridge/internal/domain"
)

// Store keeps the session lifecycle audit log. Transcripts are never written.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS speech_session_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT,
			provider TEXT,
			chunks BIGINT NOT NULL DEFAULT 0,
			bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_speech_session_events_session ON speech_session_events(session_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS speech_sessions (
			session_id TEXT PRIMARY KEY,
			provider TEXT,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			last_event TEXT NOT NULL,
			chunks BIGINT NOT NULL DEFAULT 0,
			bytes BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// RecordSessionEvent appends ev to the audit log and folds it into the
// per-session summary row.
func (s *Store) RecordSessionEvent(ctx context.Context, ev domain.SessionEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	args := pgx.NamedArgs{
		"session_id": ev.SessionID,
		"kind":       ev.Kind,
		"reason":     nullIfEmpty(ev.Reason),
		"provider":   nullIfEmpty(ev.Provider),
		"chunks":     ev.Chunks,
		"bytes":      ev.Bytes,
		"at":         ev.At,
		"started_at": nil,
		"ended_at":   nil,
	}
	if ev.Kind == domain.EventStarted {
		args["started_at"] = ev.At
	} else {
		args["ended_at"] = ev.At
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO speech_session_events(session_id, kind, reason, provider, chunks, bytes, created_at)
			VALUES (@session_id, @kind, @reason, @provider, @chunks, @bytes, @at)
		`, args); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO speech_sessions(session_id, provider, started_at, ended_at, last_event, chunks, bytes, updated_at)
			VALUES (@session_id, @provider, @started_at::timestamptz, @ended_at::timestamptz, @kind, @chunks, @bytes, NOW())
			ON CONFLICT (session_id) DO UPDATE SET
				provider = COALESCE(EXCLUDED.provider, speech_sessions.provider),
				started_at = COALESCE(EXCLUDED.started_at, speech_sessions.started_at),
				ended_at = EXCLUDED.ended_at,
				last_event = EXCLUDED.last_event,
				chunks = EXCLUDED.chunks,
				bytes = EXCLUDED.bytes,
				updated_at = NOW()
		`, args)
		return err
	})
}

func (s *Store) RecentSessionEvents(ctx context.Context, sessionID string, limit int) ([]domain.SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, kind, COALESCE(reason, ''), COALESCE(provider, ''), chunks, bytes, created_at
		FROM speech_session_events
		WHERE session_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SessionEvent, 0, limit)
	for rows.Next() {
		var ev domain.SessionEvent
		if err := rows.Scan(&ev.SessionID, &ev.Kind, &ev.Reason, &ev.Provider, &ev.Chunks, &ev.Bytes, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
