// Package util provides utility functions used throughout rconsole.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console
// output.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("rconsole_%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// File gets JSON, console gets the human-readable writer.
	var writers []io.Writer
	writers = append(writers, logFile)

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)

	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Str("app", "rconsole").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// cleanOldLogs removes log files older than the retention limit.
func cleanOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var logFiles []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry)
		}
	}

	if len(logFiles) > maxBackups {
		for i := 0; i < len(logFiles)-maxBackups; i++ {
			path := filepath.Join(directory, logFiles[i].Name())
			os.Remove(path)
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
