package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Process-wide logger. Components grab it through GetLogger rather than
// threading it through every constructor.
var logger *zap.Logger

// InitLogger builds the shared logger: JSON output in production, a colored
// console encoder everywhere else.
func InitLogger(env string) error {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	logger = l
	zap.ReplaceGlobals(l)
	return nil
}

// GetLogger returns the shared logger, lazily building a development one so
// tests work without InitLogger.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes buffered entries, called on shutdown.
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
