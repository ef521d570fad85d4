// Package logger provides the logging interface shared by the queue engine,
// the journal, the control-plane server and the CLI.
package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"
)

// Logger is the printf-style logging interface used across quickq.
type Logger interface {
	// Info logs routine state changes (e.g. "queue paused").
	Info(format string, args ...any)

	// Warning logs recoverable problems (e.g. "journal entry skipped").
	Warning(format string, args ...any)

	// Error logs failures (e.g. "runner loop panicked").
	Error(format string, args ...any)

	// Close releases resources held by the logger. Safe to call multiple times.
	Close() error
}

// StandardLogger writes level-prefixed lines to a *log.Logger.
type StandardLogger struct {
	logger *log.Logger
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// Info logs with an [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...any) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs with a [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...any) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs with an [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...any) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op.
func (s *StandardLogger) Close() error {
	return nil
}

// SlogLogger forwards formatted messages to a *slog.Logger so they pick up
// the handler's structure (JSON or text) and any attributes bound with With.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

// With returns a logger that adds args as attributes to every record.
func (s *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: s.logger.With(args...)}
}

func (s *SlogLogger) Info(format string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Warning(format string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Error(format string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
}

// Close is a no-op.
func (s *SlogLogger) Close() error {
	return nil
}

// NopLogger discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Info(format string, args ...any)    {}
func (n *NopLogger) Warning(format string, args ...any) {}
func (n *NopLogger) Error(format string, args ...any)   {}
func (n *NopLogger) Close() error                       { return nil }

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*SlogLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger records every message for assertions in tests. Runner loops log
// from their own goroutines, so it is safe for concurrent use.
type MockLogger struct {
	mu           sync.Mutex
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Info(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Warning(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarningCalls = append(m.WarningCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Error(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Infos returns a copy of the recorded info messages.
func (m *MockLogger) Infos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.InfoCalls...)
}

var _ Logger = (*MockLogger)(nil)
