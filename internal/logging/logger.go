// Package logging provides categorized zap loggers for inlay.
// Each subsystem logs under its own named category so a noisy tap can be
// told apart from the matcher or the render surface in one stream.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inlay/internal/config"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, attach/launch
	CategoryIntercept Category = "intercept" // network tap, auth capture
	CategoryPayload   Category = "payload"   // listing normalization
	CategoryExtract   Category = "extract"   // candidate extraction
	CategoryResolve   Category = "resolve"   // file-reference lookups
	CategoryReconcile Category = "reconcile" // anchor matching
	CategoryRender    Category = "render"    // artifact mounting
	CategoryEngine    Category = "engine"    // scheduler, scan passes
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	byName  = map[Category]*zap.Logger{}
	inited  bool
	verbose bool
)

// Init builds the root logger from config. Safe to call more than once; the
// last call wins. Before Init, Get returns nop loggers.
func Init(cfg config.LoggingConfig) error {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	byName = map[Category]*zap.Logger{}
	inited = true
	verbose = cfg.Debug
	return nil
}

// Get returns the named logger for a category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := byName[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := byName[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	byName[cat] = l
	return l
}

// Verbose reports whether debug-level tap logging was requested.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if inited {
		_ = root.Sync()
	}
}
