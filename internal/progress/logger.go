package progress

import (
	"context"

	"github.com/felixgeelhaar/goalrun/internal/log"
)

// LoggerLog emits every line written to it through the process logger at
// info. Wrap it in a DelimitedLog when writers emit partial lines.
type LoggerLog struct {
	logger *log.Logger
}

// NewLoggerLog creates a sink writing through logger. A nil logger uses the
// process default.
func NewLoggerLog(logger *log.Logger) *LoggerLog {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &LoggerLog{logger: logger.With("component", "progress")}
}

func (l *LoggerLog) Write(p []byte) (int, error) {
	for _, line := range SplitLines(p) {
		l.logger.Info(line)
	}
	return len(p), nil
}

func (l *LoggerLog) Name() string { return "logger" }

func (l *LoggerLog) URL() string { return "" }

func (l *LoggerLog) Contents() string { return "" }

func (l *LoggerLog) Flush(context.Context) error { return nil }

func (l *LoggerLog) Close(context.Context) error { return nil }

func (l *LoggerLog) IsAvailable(context.Context) bool { return true }
