package logger

import "errors"

// MultiLogger fans every message out to a fixed set of backends, such as
// the daemon's console logger and its log file.
type MultiLogger struct {
	backends []Logger
}

var _ Logger = (*MultiLogger)(nil)

// Tee combines loggers, skipping nil entries. It returns a NopLogger when
// nothing is left and the logger itself when only one is.
func Tee(loggers ...Logger) Logger {
	var backends []Logger
	for _, l := range loggers {
		if l != nil {
			backends = append(backends, l)
		}
	}
	switch len(backends) {
	case 0:
		return NewNopLogger()
	case 1:
		return backends[0]
	}
	return &MultiLogger{backends: backends}
}

// NewMultiLogger returns a MultiLogger over loggers, in order.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{backends: loggers}
}

func (m *MultiLogger) Info(format string, args ...any) {
	for _, l := range m.backends {
		l.Info(format, args...)
	}
}

func (m *MultiLogger) Warning(format string, args ...any) {
	for _, l := range m.backends {
		l.Warning(format, args...)
	}
}

func (m *MultiLogger) Error(format string, args ...any) {
	for _, l := range m.backends {
		l.Error(format, args...)
	}
}

// Close closes every backend, even after a failure, and joins the errors.
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.backends {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
