// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors config.LoggingConfig to avoid a circular import.
type Config struct {
	Level     string
	Output    string // stdout (default) or file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

// New creates a zerolog.Logger with the specified level and JSON output to
// stdout. If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	return build(level, os.Stdout)
}

// NewFromConfig creates a zerolog.Logger from a Config, selecting the output
// writer: "file" uses a size-rotated file, anything else writes to stdout.
func NewFromConfig(cfg Config) zerolog.Logger {
	var writer io.Writer
	switch cfg.Output {
	case "file":
		writer = newFileWriter(cfg)
	default:
		writer = os.Stdout
	}
	return build(cfg.Level, writer)
}

func build(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// newFileWriter returns a size-rotated log file writer.
func newFileWriter(cfg Config) io.Writer {
	path := cfg.FilePath
	if path == "" {
		path = "pn-ec.log"
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
	}
}
