package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger provides leveled logging. The abstraction allows swapping
// implementations without touching call sites.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// leveledLogger implements Logger on the standard log package with one
// prefixed logger per level.
type leveledLogger struct {
	err   *log.Logger
	warn  *log.Logger
	info  *log.Logger
	debug *log.Logger
}

// NewLogger creates the default logger: errors and warnings to stderr,
// info and debug to stdout.
func NewLogger() Logger {
	return &leveledLogger{
		err:   log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
		warn:  log.New(os.Stderr, "[WARN] ", log.LstdFlags),
		info:  log.New(os.Stdout, "[INFO] ", log.LstdFlags),
		debug: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags),
	}
}

// NewWriterLogger creates a logger that sends every level to w.
func NewWriterLogger(w io.Writer) Logger {
	return &leveledLogger{
		err:   log.New(w, "[ERROR] ", log.LstdFlags),
		warn:  log.New(w, "[WARN] ", log.LstdFlags),
		info:  log.New(w, "[INFO] ", log.LstdFlags),
		debug: log.New(w, "[DEBUG] ", log.LstdFlags),
	}
}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() Logger {
	return NewWriterLogger(io.Discard)
}

func (l *leveledLogger) Error(args ...interface{}) { l.err.Output(2, fmt.Sprint(args...)) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.err.Output(2, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Warn(args ...interface{}) { l.warn.Output(2, fmt.Sprint(args...)) }
func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.warn.Output(2, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Info(args ...interface{}) { l.info.Output(2, fmt.Sprint(args...)) }
func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.info.Output(2, fmt.Sprintf(format, args...))
}
func (l *leveledLogger) Debug(args ...interface{}) { l.debug.Output(2, fmt.Sprint(args...)) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.debug.Output(2, fmt.Sprintf(format, args...))
}
