package generic

import (
	"encoding/json"
	"time"
)

// Logger is the logging surface services depend on. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// LogEvent writes one JSON line with an event name and timestamp.
func LogEvent(logger Logger, event string, fields map[string]any) {
	logger = orNop(logger)
	payload := map[string]any{
		"event": event,
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("log_marshal_error: %v", err)
		return
	}
	logger.Printf("%s", data)
}
