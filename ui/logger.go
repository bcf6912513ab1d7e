package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// OpenFileLogger returns a logger writing to path, for use while the
// terminal belongs to the UI.
func OpenFileLogger(path string, level log.Level) (*log.Logger, func(), error) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := log.NewWithOptions(logFile, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           level,
	})

	return logger, func() { logFile.Close() }, nil
}
