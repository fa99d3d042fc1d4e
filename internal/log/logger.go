package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 5
)

type Options struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
	// JSON switches stderr output from text to JSON. File output is always JSON.
	JSON   bool
	Stderr io.Writer
}

// New builds the process logger. The returned close func releases the rotating
// file when one is configured and is always safe to call.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.File != "" {
		writer, err := rotatingFile(opts)
		if err != nil {
			return nil, nil, err
		}
		logger := slog.New(newScrubHandler(slog.NewJSONHandler(writer, handlerOpts)))
		return logger, writer.Close, nil
	}

	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	var inner slog.Handler
	if opts.JSON {
		inner = slog.NewJSONHandler(out, handlerOpts)
	} else {
		inner = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(newScrubHandler(inner)), func() error { return nil }, nil
}

// rotatingFile keeps MaxFiles gzipped backups next to the live log.
func rotatingFile(opts Options) (*lumberjack.Logger, error) {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		LocalTime:  true,
		Compress:   true,
	}, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}
