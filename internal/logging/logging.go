// Package logging builds the zap loggers used by the command line tool.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelNone disables logging.
	LevelNone = "none"

	// LevelDebug logs hits, misses and materializations.
	LevelDebug = "debug"

	// LevelInfo logs publications and cleanups.
	LevelInfo = "info"

	// LevelWarn logs only failures.
	LevelWarn = "warn"
)

// ParseLevel validates a level name. "none" is accepted and returned as is.
func ParseLevel(level string) (string, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == LevelNone {
		return level, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return "", fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return level, nil
}

// New returns a logger at level writing human-readable lines to w, in the
// manner of a production logger with a console encoder.
func New(level string, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	lvl, _ := zapcore.ParseLevel(level)

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}
