// Package collaborators defines the interfaces the VFD layer consumes for
// logging, error reporting, and fault injection (spec §1's "out of scope,
// specified only via the interfaces the core consumes"), plus default
// implementations so the module is usable standalone.
package collaborators

import (
	"log/slog"
	"os"
)

// Logger is the logging collaborator. The core never formats a log line
// itself beyond choosing a level and a message; it is the caller's
// responsibility to route these into their own observability stack.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FaultInjector lets tests and operators arm synthetic failures at named
// points in the VFD layer (e.g. "vfdcache.open", "local.open") without
// the core depending on any particular fault-injection framework.
type FaultInjector interface {
	// ShouldFail returns a non-nil error if the named fault point is
	// currently armed to fail.
	ShouldFail(point string) error
}

// slogLogger adapts *slog.Logger to the Logger interface, grounded in the
// teacher's own use of log/slog directly in internal/storage/s3/backend.go
// and client.go.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns the module's default Logger, writing structured
// text logs to stderr at INFO level.
func NewSlogLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// noopFaultInjector never arms a fault; it is the default when the caller
// supplies no FaultInjector.
type noopFaultInjector struct{}

// NewNoopFaultInjector returns a FaultInjector that never fails.
func NewNoopFaultInjector() FaultInjector { return noopFaultInjector{} }

func (noopFaultInjector) ShouldFail(point string) error { return nil }

// MapFaultInjector is a simple test double: points named in Armed fail
// with the paired error every time ShouldFail is called for that point.
type MapFaultInjector struct {
	Armed map[string]error
}

func (m *MapFaultInjector) ShouldFail(point string) error {
	if m.Armed == nil {
		return nil
	}
	return m.Armed[point]
}
