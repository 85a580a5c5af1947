// Package store keeps the history of published posts in PostgreSQL so the
// duplicate check survives restarts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS posted_history (
            id          UUID PRIMARY KEY,
            profile     TEXT NOT NULL,
            source_time TEXT NOT NULL,
            text        TEXT NOT NULL,
            posted_at   TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS posted_history_posted_at_idx ON posted_history (posted_at DESC);
    `
	sqlInsertEntry = `
        INSERT INTO posted_history (id, profile, source_time, text, posted_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlRecentTexts = `
        SELECT text FROM posted_history
        ORDER BY posted_at DESC
        LIMIT $1;
    `
)

// Entry is one published post.
type Entry struct {
	ID         string
	Profile    string
	SourceTime string
	Text       string
	PostedAt   time.Time
}

// Store is the PostgreSQL-backed history.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record appends e to the history, filling in the ID and time when unset.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PostedAt.IsZero() {
		e.PostedAt = time.Now()
	}
	// Stored in UTC to avoid ambiguity across hosts.
	e.PostedAt = e.PostedAt.UTC()

	tag, err := s.pool.Exec(ctx, sqlInsertEntry, e.ID, e.Profile, e.SourceTime, e.Text, e.PostedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to record post: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return Entry{}, fmt.Errorf("unexpected rows affected recording post: %d", tag.RowsAffected())
	}
	s.log.Debug("Post recorded.", zap.String("id", e.ID), zap.String("profile", e.Profile))
	return e, nil
}

// Recent returns the texts of the last limit published posts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, sqlRecentTexts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return texts, nil
}
