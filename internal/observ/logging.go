package observ

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu  sync.RWMutex
	logger = mustBuild("info")
)

func mustBuild(level string) *zap.Logger {
	l, err := build(level)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func build(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.MessageKey = "event"
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Init replaces the process logger. Level is a zap level name ("debug", "info", ...).
func Init(level string) error {
	l, err := build(level)
	if err != nil {
		return err
	}
	logMu.Lock()
	old := logger
	logger = l
	logMu.Unlock()
	_ = old.Sync()
	return nil
}

// SetLogger swaps the backing logger, e.g. zap.NewNop() or an observer core in tests.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.Sync()
}

// Log emits one structured line: the event name plus the key/values.
// A "level" key ("warn", "error", ...) sets the entry level and is not emitted.
func Log(event string, kv map[string]any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()

	fields := make([]zap.Field, 0, len(kv))
	level := zapcore.InfoLevel
	for k, v := range kv {
		if k == "level" {
			if s, ok := v.(string); ok {
				_ = level.UnmarshalText([]byte(s))
			}
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	if ce := l.Check(level, event); ce != nil {
		ce.Write(fields...)
	}
}
