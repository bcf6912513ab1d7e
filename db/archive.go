// Package db archives transcript fragments in Postgres.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxBeginner is the part of a pgx pool or connection the archive uses.
type TxBeginner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Record struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

type SessionRecord struct {
	ID        string
	ServerURL string
	Language  string
	StartedAt time.Time
}

type Archive struct {
	db     TxBeginner
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects to databaseURL and brings the schema up to date.
func Open(ctx context.Context, databaseURL string, logger *log.Logger, confirm Confirm) (*Archive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	if err := Migrate(ctx, pool, logger, confirm); err != nil {
		pool.Close()
		return nil, err
	}

	a := New(pool, logger)
	a.pool = pool
	return a, nil
}

func New(db TxBeginner, logger *log.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *Archive) StartSession(ctx context.Context, s SessionRecord) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO transcript_sessions (id, server_url, language, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.ServerURL, s.Language, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (a *Archive) Insert(ctx context.Context, r Record) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO transcript_fragments (session_id, text, received_at)
		VALUES ($1, $2, $3)
	`, r.SessionID, r.Text, r.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fragment: %w", err)
	}
	return nil
}

// Recent returns up to limit fragments, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id, session_id, text, received_at
		FROM transcript_fragments
		ORDER BY received_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
	if err != nil {
		return nil, fmt.Errorf("failed to scan fragments: %w", err)
	}
	return records, nil
}
