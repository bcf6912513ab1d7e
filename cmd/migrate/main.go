// Command migrate brings the transcript archive schema up to date without
// starting a listener.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"

	"node.town/scribe/db"
)

func main() {
	logger := log.New(os.Stdout)
	sqlLogger := logger.With("component", "sql")

	url := os.Getenv("SCRIBE_DATABASE_URL")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if url == "" {
		logger.Fatal("usage: migrate <database-url> (or set SCRIBE_DATABASE_URL)")
	}

	logger.Info("Starting database migration process...")
	archive, err := db.Open(context.Background(), url, sqlLogger, nil)
	if err != nil {
		logger.Fatal("apply migrations", "error", err.Error())
	}
	defer archive.Close()

	logger.Info("Migrations applied successfully")
}
