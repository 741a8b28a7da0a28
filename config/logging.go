package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// InitLogging installs the default slog logger. Debug mode is switched on by
// RECEIPTLY_DEBUG or log.level = "debug"; in debug mode records are also
// appended to <data_dir>/debug.log. The returned closer releases that file.
func InitLogging(cfg *Config, stderr io.Writer) (io.Closer, error) {
	if CheckDebug() || strings.EqualFold(cfg.Log.Level, "debug") {
		Debug = true
	}

	level := parseLevel(cfg.Log.Level)
	if Debug {
		level = slog.LevelDebug
	}

	var closer io.Closer = nopCloser{}
	out := stderr
	if Debug {
		dataDir := cfg.DataDir()
		if err := EnsureDir(dataDir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		logPath := filepath.Join(dataDir, "debug.log")
		// 0600: debug output may contain request payloads
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		} else {
			out = io.MultiWriter(stderr, f)
			closer = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))

	if Debug {
		slog.Debug("=== Debug logging started ===", "RECEIPTLY_DEBUG", os.Getenv("RECEIPTLY_DEBUG"))
	}
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
