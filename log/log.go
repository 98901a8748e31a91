// Package log builds the zap loggers used across netsync components.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ConsoleEncoder renders human readable lines.
	ConsoleEncoder = "console"
	// JSONEncoder renders one JSON object per line.
	JSONEncoder = "json"
)

// where logs go by default.
var logWriter io.Writer = os.Stderr

// NewNop creates silent logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// NewWithLevel creates a logger with a fixed level and with a set of (optional) hooks.
func NewWithLevel(module string,
	level zap.AtomicLevel,
	encoder zapcore.Encoder,
	hooks ...func(zapcore.Entry) error,
) *zap.Logger {
	syncer := zapcore.AddSync(logWriter)
	core := zapcore.NewCore(encoder, syncer, level)
	return zap.New(zapcore.RegisterHooks(core, hooks...)).Named(module)
}

// NewEncoder returns the encoder registered under name.
func NewEncoder(name string) (zapcore.Encoder, error) {
	switch name {
	case "", ConsoleEncoder:
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	case JSONEncoder:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	}
	return nil, fmt.Errorf("unknown log encoder %q", name)
}

// ParseLevel parses a textual level, empty text means info.
func ParseLevel(text string) (zap.AtomicLevel, error) {
	if text == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	lvl, err := zap.ParseAtomicLevel(text)
	if err != nil {
		return lvl, fmt.Errorf("parse log level %q: %w", text, err)
	}
	return lvl, nil
}
