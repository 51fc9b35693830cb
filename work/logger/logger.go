package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Level represents a logging severity threshold.
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// current holds the process-wide log level. Messages below this
// threshold are discarded before formatting.
var current atomic.Int32

func init() {
	current.Store(int32(INFO))
}

// ParseLevel converts a level name to a Level, defaulting to INFO
// for unrecognized input.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the process-wide log level from a level name.
func SetLevel(name string) {
	current.Store(int32(ParseLevel(name)))
}

// GetLevel returns the current log level as its canonical name.
func GetLevel() string {
	switch Level(current.Load()) {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// enabled reports whether a message at the given level should be emitted.
func enabled(level Level) bool {
	return level >= Level(current.Load())
}

// emit formats and writes a single log line through the stdlib logger.
func emit(tag string, format string, v ...interface{}) {
	log.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs a debug level message.
func Debug(format string, v ...interface{}) {
	if enabled(DEBUG) {
		emit("DEBUG", format, v...)
	}
}

// Info logs an info level message.
func Info(format string, v ...interface{}) {
	if enabled(INFO) {
		emit("INFO", format, v...)
	}
}

// Warn logs a warning level message.
func Warn(format string, v ...interface{}) {
	if enabled(WARN) {
		emit("WARN", format, v...)
	}
}

// Error logs an error level message.
func Error(format string, v ...interface{}) {
	if enabled(ERROR) {
		emit("ERROR", format, v...)
	}
}
