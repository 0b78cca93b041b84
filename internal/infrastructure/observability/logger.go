package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger. service is attached to every line.
func InitLogger(level, service string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}

	return zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
}

// parseLogLevel accepts zerolog level names plus "warning"; anything else,
// including an empty string, means info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithEvent scopes a logger to one invoice and, when known, one gateway event.
func WithEvent(logger zerolog.Logger, invoiceID, eventID string) zerolog.Logger {
	l := logger.With().Str("invoice_id", invoiceID)
	if eventID != "" {
		l = l.Str("event_id", eventID)
	}
	return l.Logger()
}
