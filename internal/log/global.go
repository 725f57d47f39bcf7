package log

import (
	"sync"
)

var (
	defaultLogger *Logger
	loggerMu      sync.RWMutex
)

// SetDefaultLogger sets the process-wide default logger.
func SetDefaultLogger(logger *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// DefaultLogger returns the process-wide default logger, creating one with
// DefaultConfig on first use.
func DefaultLogger() *Logger {
	loggerMu.RLock()
	logger := defaultLogger
	loggerMu.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = Default()
	}
	return defaultLogger
}
