package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
)

//go:embed sql/*.sql
var sqlFS embed.FS

type Migration struct {
	ID          string
	Description string
	File        string
}

var migrations = []Migration{
	{
		ID:          "001_transcript_fragments",
		Description: "Create transcript session and fragment tables",
		File:        "sql/001_transcript_fragments.sql",
	},
}

// Confirm decides whether a pending migration is applied. A nil Confirm
// applies everything.
type Confirm func(m Migration) (bool, error)

// Migrate applies pending migrations, each in its own transaction.
func Migrate(ctx context.Context, conn TxBeginner, logger *log.Logger, confirm Confirm) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating migration_history table: %w", err)
	}

	for _, migration := range migrations {
		var applied int
		err := conn.QueryRow(ctx, "SELECT 1 FROM migration_history WHERE id = $1", migration.ID).Scan(&applied)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("error checking migration status: %w", err)
		}
		if applied == 1 {
			logger.Debug("Skipping migration (already applied)", "id", migration.ID)
			continue
		}

		if confirm != nil {
			ok, err := confirm(migration)
			if err != nil {
				return fmt.Errorf("error getting user confirmation: %w", err)
			}
			if !ok {
				logger.Info("Migration skipped", "id", migration.ID)
				continue
			}
		}

		if err := apply(ctx, conn, migration); err != nil {
			return err
		}
		logger.Info("Successfully applied migration", "id", migration.ID)
	}
	return nil
}

func apply(ctx context.Context, conn TxBeginner, migration Migration) error {
	body, err := sqlFS.ReadFile(migration.File)
	if err != nil {
		return fmt.Errorf("failed to read embedded %s: %w", migration.File, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return fmt.Errorf("error applying migration %s: %w", migration.ID, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO migration_history (id) VALUES ($1)", migration.ID); err != nil {
		return fmt.Errorf("error recording migration %s: %w", migration.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing migration %s: %w", migration.ID, err)
	}
	return nil
}
