package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps the process-wide logrus logger and the optional log file behind it.
type Logger struct {
	*logrus.Logger
	mu   sync.Mutex
	file *os.File
}

var (
	globalLogger *Logger
	logOnce      sync.Once
)

// InitLogger creates the singleton logger. Call once at startup.
// level is one of logrus' level names (debug, info, warn, error).
func InitLogger(level string, logFilePath string) (*Logger, error) {
	var initErr error
	logOnce.Do(func() {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			initErr = fmt.Errorf("parse log level: %w", err)
			lvl = logrus.InfoLevel
		}

		writers := []io.Writer{os.Stdout}

		var f *os.File
		if logFilePath != "" {
			f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				initErr = fmt.Errorf("open log file %s: %w", logFilePath, err)
			} else {
				writers = append(writers, f)
			}
		}

		l := logrus.New()
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		l.SetOutput(io.MultiWriter(writers...))
		l.SetLevel(lvl)

		globalLogger = &Logger{Logger: l, file: f}
	})
	return globalLogger, initErr
}

// L returns the global logger, initialising a stdout-only one at debug level
// if InitLogger has not been called.
func L() *Logger {
	if globalLogger == nil {
		l, _ := InitLogger("debug", "")
		return l
	}
	return globalLogger
}

// Close closes the log file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
