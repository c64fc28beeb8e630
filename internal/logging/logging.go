// Package logging builds the structured logger shared across the gateway.
//
// The teacher gateway logs with the standard library's log.Printf. As the
// pipeline grew stateful, per-stream processors (loop detector, JSON
// repair, tool-call tracker) needed leveled, structured fields — stream_id,
// session_id, pattern length — that log.Printf can't attach cheaply. zap is
// the logger the rest of the retrieval pack reaches for, so it replaces
// log.Printf here too.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger. In development mode (dev=true) it uses
// zap's human-readable console encoder instead of JSON.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Nop returns a logger that discards everything. Used as the zero-value
// default so core packages never need a nil check before logging.
func Nop() *zap.Logger {
	return zap.NewNop()
}
