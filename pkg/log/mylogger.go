package log

import (
	"io"
	"log"
	"os"
	"strings"
)

// Log level constants
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// currentLevel holds the configured log level
var currentLevel = LevelInfo

type MyLoggerOptions struct {
	// if we output to  stdout
	Stdout bool
	// Path of the file , if present log to it
	Path string
	// What level to log
	Level string
}

// ConfigureMyLogger sets the output and level of the application logger.
// Without Stdout or Path the output is discarded.
func ConfigureMyLogger(options *MyLoggerOptions) error {
	var writer io.Writer

	if options.Path != "" {
		logfile, err := os.OpenFile(options.Path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
		if err != nil {
			return err
		}
		if options.Stdout {
			writer = io.MultiWriter(logfile, os.Stdout)
		} else {
			writer = logfile
		}
	} else if options.Stdout {
		writer = os.Stdout
	} else {
		writer = io.Discard
	}

	log.SetOutput(writer)
	currentLevel = ParseLevel(options.Level)
	return nil
}

// ParseLevel maps a level name to its constant, INFO when unknown.
func ParseLevel(level string) int {
	switch strings.ToUpper(level) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func logAt(level int, prefix, format string, v ...interface{}) {
	if currentLevel <= level {
		log.Printf(prefix+format, v...)
	}
}

// Trace logs a message at TRACE level
func Trace(format string, v ...interface{}) {
	logAt(LevelTrace, "[TRACE] ", format, v...)
}

// Debug logs a message at DEBUG level
func Debug(format string, v ...interface{}) {
	logAt(LevelDebug, "[DEBUG] ", format, v...)
}

// Info logs a message at INFO level
func Info(format string, v ...interface{}) {
	logAt(LevelInfo, "[INFO] ", format, v...)
}

// Warn logs a message at WARN level
func Warn(format string, v ...interface{}) {
	logAt(LevelWarn, "[WARN] ", format, v...)
}

// Error logs a message at ERROR level
func Error(format string, v ...interface{}) {
	logAt(LevelError, "[ERROR] ", format, v...)
}
