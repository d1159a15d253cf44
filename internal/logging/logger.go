// Package logging builds a structured zap logger with run_id/call_id
// helpers. The orchestrators and CLI commands do not call it and write no
// log output. Grounded on
// theRebelliousNerd-codenerd's cmd/nerd/main.go, which builds a
// zap.NewProductionConfig() logger gated by a --verbose flag and syncs it
// on exit.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger. verbose
// drops the level to Debug; otherwise it logs at Info and above.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building logger: %w", err)
	}
	return logger, nil
}

// ForRun returns a child logger with run_id bound as a structured field,
// so every line logged through it is attributable to that run.
func ForRun(base *zap.Logger, runID string) *zap.Logger {
	return base.With(zap.String("run_id", runID))
}

// ForCall returns a child logger with both run_id and call_id bound.
func ForCall(base *zap.Logger, runID, callID string) *zap.Logger {
	return base.With(zap.String("run_id", runID), zap.String("call_id", callID))
}
