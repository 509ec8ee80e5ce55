package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"casefs/internal/casefs"
	"casefs/internal/config"
)

// LogFileName is the log file written under log_dir.
const LogFileName = "casefs.log"

// zerologAdapter wraps zerolog.Logger to satisfy the casefs.Logger interface.
// Arguments are alternating key/value pairs.
type zerologAdapter struct {
	l zerolog.Logger
}

func newZerologAdapter(w io.Writer, level zerolog.Level, opID string) *zerologAdapter {
	l := zerolog.New(w).Level(level).With().Timestamp().Str("op", opID).Logger()
	return &zerologAdapter{l: l}
}

func (a *zerologAdapter) Debug(msg string, args ...any) { a.l.Debug().Fields(args).Msg(msg) }
func (a *zerologAdapter) Info(msg string, args ...any)  { a.l.Info().Fields(args).Msg(msg) }
func (a *zerologAdapter) Warn(msg string, args ...any)  { a.l.Warn().Fields(args).Msg(msg) }
func (a *zerologAdapter) Error(msg string, args ...any) { a.l.Error().Fields(args).Msg(msg) }

// newLogger creates a logger that writes JSON lines to logDir/casefs.log and,
// when cfg.Console is set, human-readable lines to stderr.
// It returns the logger, the open log file (for cleanup), and any error.
func newLogger(cfg config.LoggingConfig, logDir, opID string) (*zerologAdapter, *os.File, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var w io.Writer = f
	if cfg.Console {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return newZerologAdapter(w, level, opID), f, nil
}

var _ casefs.Logger = (*zerologAdapter)(nil)
