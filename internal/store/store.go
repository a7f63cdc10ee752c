// Package store persists accepted renewal submissions for downstream
// clinician review. Optional: the engine works without a database, the
// record is simply not handed off.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/renewvoice/pkg/live"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Submission is one stored renewal request.
type Submission struct {
	ID        uuid.UUID
	SessionID string
	Record    live.CollectedRecord
	CreatedAt time.Time
}

// Store is a Postgres-backed submission store.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to databaseURL and applies pending migrations.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool, log: logger.With("component", "store")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate runs the embedded goose migrations over a database/sql handle
// borrowed from the pool's config.
func (s *Store) migrate(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// SaveSubmission stores one finalized record and returns its id.
func (s *Store) SaveSubmission(ctx context.Context, sessionID string, rec live.CollectedRecord) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO renewal_submissions (id, session_id, record)
		VALUES ($1, $2, $3)`,
		id, sessionID, rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting submission: %w", err)
	}
	s.log.Info("submission stored", "submission_id", id, "session_id", sessionID)
	return id, nil
}

// RecentSubmissions returns the newest submissions, newest first.
func (s *Store) RecentSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, record, created_at
		FROM renewal_submissions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.Record, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
