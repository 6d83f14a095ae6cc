package system

import (
	"go.uber.org/zap"
)

// NewTestLogger returns the development logger as a sugared logger, for tests
// that want readable output without a *testing.T.
func NewTestLogger() *zap.SugaredLogger {
	return NewTestZapLogger().Sugar()
}

// NewTestZapLogger returns the development logger as a plain *zap.Logger.
func NewTestZapLogger() *zap.Logger {
	logger, err := loggerConfig(true).Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
