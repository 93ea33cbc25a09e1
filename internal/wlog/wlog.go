// SPDX-License-Identifier: Apache-2.0

// Package wlog is the worker's logging seam: a small interface wrapping
// pterm, with a real implementation and a no-op one for tests, gated by the
// DEBUG_SQL_CHECKER environment variable (§6).
package wlog

import (
	"os"

	"github.com/pterm/pterm"
)

// Logger is the logging interface the rest of the worker depends on.
type Logger interface {
	Debugf(msg string, args ...any)
	Infof(msg string, args ...any)
	Warnf(msg string, args ...any)
	Errorf(msg string, args ...any)
	// PGStatement logs a statement about to be sent to the shadow
	// database, only when debug verbosity is enabled.
	PGStatement(stmt string)
}

// EnvDebugVar is the environment variable that enables verbose logging.
const EnvDebugVar = "DEBUG_SQL_CHECKER"

// DebugEnabled reports whether EnvDebugVar is set to a truthy value.
func DebugEnabled() bool {
	v := os.Getenv(EnvDebugVar)
	return v == "1" || v == "true" || v == "TRUE"
}

type ptermLogger struct {
	logger pterm.Logger
	debug  bool
}

// New builds a pterm-backed Logger. Debug-level output (Debugf,
// PGStatement) is only emitted when DEBUG_SQL_CHECKER is enabled.
func New() Logger {
	l := pterm.DefaultLogger
	if DebugEnabled() {
		l.Level = pterm.LogLevelDebug
	} else {
		l.Level = pterm.LogLevelInfo
	}
	return &ptermLogger{logger: l, debug: DebugEnabled()}
}

func (l *ptermLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(msg, l.logger.Args(args...))
}

func (l *ptermLogger) Infof(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

func (l *ptermLogger) Warnf(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(args...))
}

func (l *ptermLogger) Errorf(msg string, args ...any) {
	l.logger.Error(msg, l.logger.Args(args...))
}

func (l *ptermLogger) PGStatement(stmt string) {
	if !l.debug {
		return
	}
	l.logger.Debug("executing statement", l.logger.Args("sql", stmt))
}

type noopLogger struct{}

// NewNoop builds a Logger that discards everything, for tests.
func NewNoop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debugf(msg string, args ...any) {}
func (l *noopLogger) Infof(msg string, args ...any)  {}
func (l *noopLogger) Warnf(msg string, args ...any)  {}
func (l *noopLogger) Errorf(msg string, args ...any) {}
func (l *noopLogger) PGStatement(stmt string)        {}
