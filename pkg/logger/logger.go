// Package logger holds the process-wide zap logger. Subsystems tag their
// entries through WithModule; cmd/server sets the level from configuration.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// Init builds the global JSON logger at the given level. An unknown level
// string falls back to info rather than failing startup.
func Init(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	global = built
	mu.Unlock()
	return nil
}

// Logger returns the process-wide logger. Before Init it is a no-op, so
// packages may grab module loggers at construction time in any order.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered entries, for deferral at shutdown.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the owning subsystem,
// e.g. "cards" or "sync".
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
