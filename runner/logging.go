package runner

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the run logger: debug when verbose, errors only when
// warnings are suppressed, info otherwise.
func NewLogger(c Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Verbose {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(logLevel(c))
	return zc.Build()
}

func logLevel(c Config) zapcore.Level {
	switch {
	case c.Verbose:
		return zapcore.DebugLevel
	case c.SuppressWarnings:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}
