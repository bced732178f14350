// Package logging builds the apex log.Interface instances injected into
// adapters and commands from the logging section of the configuration.
package logging

import (
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/json"
)

func ParseLevel(input string) log.Level {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New builds a logger writing to output in the given format ("cli" or
// "json"). A nil output yields a discarding logger.
func New(level log.Level, format string, output io.Writer) log.Interface {
	logger := &log.Logger{Level: level}
	switch {
	case output == nil:
		logger.Handler = discard.New()
	case strings.EqualFold(format, "json"):
		logger.Handler = json.New(output)
	default:
		logger.Handler = cli.New(output)
	}
	return logger
}

// Discard is the default logger for adapters constructed without one.
func Discard() log.Interface {
	return &log.Logger{Level: log.ErrorLevel, Handler: discard.New()}
}
