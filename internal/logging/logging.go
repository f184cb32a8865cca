// Package logging provides category-tagged structured logging for promptbatch.
// Every subsystem logs through a named child of one shared zap logger so a
// single config switch controls verbosity for the whole pipeline.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names used across the pipeline.
const (
	CategoryPlan    = "plan"    // Execution planning, token estimation
	CategoryEngine  = "engine"  // Call dispatch, retries, fallback
	CategoryAPI     = "api"     // Provider adapter calls
	CategoryExtract = "extract" // Result extraction chain
	CategoryCache   = "cache"   // Upload/cache registries
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init installs the process-wide root logger. Verbose enables debug level.
func Init(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetRoot(logger)
	return logger, nil
}

// SetRoot replaces the root logger. Tests install zaptest or Nop loggers here.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	root = logger
}

// For returns the logger for a category.
func For(category string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(category)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
