// Package logger provides structured logging for nca-go.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level.
type Level int

const (
	// DEBUG level for detailed debugging.
	DEBUG Level = iota
	// INFO level for general information.
	INFO
	// WARN level for recoverable problems such as dropped frames.
	WARN
	// ERROR level for failed requests.
	ERROR
	// FATAL level for fatal errors.
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string ("debug", "warn", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Fields represents structured log fields.
type Fields map[string]interface{}

// sortedKeys keeps formatter output stable between runs.
func (f Fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Formatter formats log entries.
type Formatter interface {
	Format(level Level, msg string, fields Fields, timestamp time.Time) ([]byte, error)
}

// TextFormatter formats logs as text.
type TextFormatter struct {
	FullTimestamp bool
}

// Format implements Formatter.
func (f *TextFormatter) Format(level Level, msg string, fields Fields, timestamp time.Time) ([]byte, error) {
	var buf []byte

	if f.FullTimestamp {
		buf = append(buf, timestamp.Format("2006-01-02 15:04:05.000")...)
		buf = append(buf, ' ')
	}

	buf = append(buf, '[')
	buf = append(buf, level.String()...)
	buf = append(buf, "] "...)

	if c, ok := fields["component"]; ok {
		buf = append(buf, fmt.Sprintf("%v: ", c)...)
	}
	buf = append(buf, msg...)

	first := true
	for _, k := range fields.sortedKeys() {
		if k == "component" {
			continue
		}
		if first {
			buf = append(buf, " | "...)
			first = false
		} else {
			buf = append(buf, ", "...)
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, fmt.Sprintf("%v", fields[k])...)
	}

	buf = append(buf, '\n')
	return buf, nil
}

// JSONFormatter formats logs as one JSON object per line.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(level Level, msg string, fields Fields, timestamp time.Time) ([]byte, error) {
	data := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	data["timestamp"] = timestamp.Format(time.RFC3339Nano)
	data["level"] = level.String()
	data["msg"] = msg

	out, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// sink is shared by a logger and every child derived from it, so that
// SetOutput/SetLevel on the root also reach component loggers.
type sink struct {
	mu        sync.RWMutex
	level     Level
	output    io.Writer
	formatter Formatter
}

// Logger represents a logger instance.
type Logger struct {
	sink   *sink
	fields Fields
}

var (
	defaultLogger *Logger
	initOnce      sync.Once
)

func initDefaultLogger() {
	defaultLogger = NewLogger()
	defaultLogger.SetOutput(os.Stderr)
}

// GetLogger returns the default logger instance.
func GetLogger() *Logger {
	initOnce.Do(initDefaultLogger)
	return defaultLogger
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}

// NewLogger creates a new logger instance.
func NewLogger() *Logger {
	return &Logger{
		sink: &sink{
			level:     INFO,
			output:    os.Stdout,
			formatter: &TextFormatter{FullTimestamp: true},
		},
		fields: make(Fields),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := NewLogger()
	l.SetOutput(io.Discard)
	l.SetLevel(FATAL + 1)
	return l
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel gets the log level.
func (l *Logger) GetLevel() Level {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// SetFormatter sets the formatter.
func (l *Logger) SetFormatter(f Formatter) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.formatter = f
}

// WithFields creates a child logger with additional fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged}
}

// WithField creates a child logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithComponent tags every entry with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

func (l *Logger) log(level Level, msg string, fields Fields) {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()

	if level < l.sink.level {
		return
	}

	all := l.fields
	if len(fields) > 0 {
		all = make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields {
			all[k] = v
		}
	}

	data, err := l.sink.formatter.Format(level, msg, all, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log: %v\n", err)
		return
	}

	l.sink.output.Write(data)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.log(DEBUG, msg, nil)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.log(INFO, msg, nil)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.log(WARN, msg, nil)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// WarnFields logs a warning with one-off fields.
func (l *Logger) WarnFields(msg string, fields Fields) {
	l.log(WARN, msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.log(ERROR, msg, nil)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string) {
	l.log(FATAL, msg, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Convenience functions for the default logger.

// Debugf logs a formatted debug message to the default logger.
func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }

// Infof logs a formatted info message to the default logger.
func Infof(format string, args ...interface{}) { GetLogger().Infof(format, args...) }

// Warnf logs a formatted warning message to the default logger.
func Warnf(format string, args ...interface{}) { GetLogger().Warnf(format, args...) }

// Errorf logs a formatted error message to the default logger.
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }

// Fatalf logs a formatted fatal message to the default logger and exits.
func Fatalf(format string, args ...interface{}) { GetLogger().Fatalf(format, args...) }

// SetLevel sets the log level for the default logger.
func SetLevel(level Level) { GetLogger().SetLevel(level) }

// SetupLogging points the default logger at a timestamped file under logDir.
// The TUI owns the terminal, so unlike a plain CLI nothing is mirrored to stdout.
func SetupLogging(logDir string, level Level, json bool) (string, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFile := filepath.Join(logDir, fmt.Sprintf("nca_%s.log", timestamp))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}

	l := GetLogger()
	l.SetOutput(file)
	l.SetLevel(level)
	if json {
		l.SetFormatter(&JSONFormatter{})
	}

	l.Infof("Logging initialized. Log file: %s", logFile)
	return logFile, nil
}
