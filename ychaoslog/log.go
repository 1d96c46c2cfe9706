// Package ychaoslog provides zap logger constructors for a
// development/production split. The engine's packages take a
// *zap.Logger from their callers and do not import this package.
package ychaoslog

import "go.uber.org/zap"

// NewDevelopment returns a human-readable, debug-level logger suitable
// for local runs and tests.
func NewDevelopment() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewProduction returns a JSON, info-level logger suitable for a running
// attack/verification process.
func NewProduction() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, used as a safe default
// when callers don't provide one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
