package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus instance configured for the client: stderr by
// default, plus a per-run debug file under ~/.lexchat/logs when debug
// mode is on.
type Logger struct {
	log     *logrus.Logger
	file    *os.File
	enabled bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Get returns the default logger instance.
func Get() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{log: logrus.New()}
		defaultLogger.init()
	})
	return defaultLogger
}

func (l *Logger) init() {
	l.log.SetOutput(os.Stderr)
	l.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.log.SetLevel(logrus.InfoLevel)

	// Debug mode is enabled via env var or a marker file, whichever is present.
	debugEnv := os.Getenv("LEXCHAT_DEBUG")

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexchat log: failed to get home dir: %v\n", err)
		return
	}

	debugFile := filepath.Join(home, ".lexchat", "debug")
	_, debugFileErr := os.Stat(debugFile)
	debugFileExists := debugFileErr == nil

	if debugEnv != "1" && !debugFileExists {
		return
	}

	l.enabled = true
	l.log.SetLevel(logrus.DebugLevel)

	logsDir := filepath.Join(home, ".lexchat", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "lexchat log: failed to create logs dir %s: %v\n", logsDir, err)
		return
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logsDir, fmt.Sprintf("lexchat-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexchat log: failed to open log file %s: %v\n", logPath, err)
		return
	}

	l.file = file
	l.log.SetOutput(io.MultiWriter(os.Stderr, file))

	if debugEnv == "1" {
		l.log.Info("Logging started (LEXCHAT_DEBUG=1)")
	} else {
		l.log.Info("Logging started (~/.lexchat/debug exists)")
	}
	l.log.Infof("Log file: %s", logPath)
}

// Enabled returns whether debug logging is enabled.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// SetLevel adjusts the log level from a config value ("debug", "info",
// "warn", "error"). Unknown values keep the current level.
func (l *Logger) SetLevel(level string) {
	if lv, err := logrus.ParseLevel(level); err == nil {
		l.log.SetLevel(lv)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log.Debugf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.log.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log.Errorf(format, args...)
}

// Stream logs a streaming event with its (truncated) payload.
func (l *Logger) Stream(eventType string, content string) {
	if !l.enabled {
		return
	}
	l.log.WithField("event", eventType).Debug(truncate(content, 200))
}

// Request logs an outgoing API request.
func (l *Logger) Request(method, url string) {
	if !l.enabled {
		return
	}
	l.log.Debugf("HTTP %s %s", method, url)
}

// Close closes the debug log file.
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
