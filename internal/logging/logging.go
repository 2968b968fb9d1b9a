// Package logging builds the process-wide zap logger, grounded on the
// cobra+zap CLI pattern used for production output (one logger field
// built once in a command's PersistentPreRunE and threaded down).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger, or a debug-level one when verbose is
// true. Callers own the returned logger's lifetime and must Sync it
// before exit.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and for any
// package that takes an optional logger.
func Nop() *zap.Logger { return zap.NewNop() }
