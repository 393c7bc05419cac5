package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

type Logger interface {
	Log(level LogLevel, format string, args ...interface{})
}

type DefaultLogger struct {
	logMode LogLevel
	logger  *log.Logger
	mu      sync.Mutex
}

func NewDefaultLogger(mode LogLevel, logFile string) (*DefaultLogger, error) {
	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	logger := log.New(multiWriter, "", log.LstdFlags)

	return &DefaultLogger{
		logMode: mode,
		logger:  logger,
	}, nil
}

// EntryLevel is the per-request trace level, distinct from the
// DEBUG/INFO/WARN/ERROR filtering mode above: it tags one composite log
// line rather than gating whether the line is emitted at all.
type EntryLevel string

const (
	EntryError EntryLevel = "ERROR"
	EntryNote  EntryLevel = "NOTE"
	EntryNone  EntryLevel = ""
)

// Entry writes one composite, id-prefixed trace line: "<id-or-(no-id)>:
// <LEVEL?> <text>". The mutex scope covers the whole formatted line so
// concurrent connection tasks never interleave partial lines.
func (l *DefaultLogger) Entry(id uint64, level EntryLevel, format string, args ...interface{}) {
	idStr := "(no-id)"
	if id != 0 {
		idStr = fmt.Sprintf("%d", id)
	}
	text := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if level == EntryNone {
		l.logger.Printf("%s: %s", idStr, text)
	} else {
		l.logger.Printf("%s: %s %s", idStr, level, text)
	}
}

func (l *DefaultLogger) Log(level LogLevel, format string, args ...interface{}) {
	logLevels := map[LogLevel]int{
		LogLevelDebug: 1,
		LogLevelInfo:  2,
		LogLevelWarn:  3,
		LogLevelError: 4,
	}

	currentLevel := logLevels[l.logMode]
	messageLevel := logLevels[level]

	if messageLevel >= currentLevel {
		l.logger.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
	}
}
