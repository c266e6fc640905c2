package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// TraceLevel indicates a log message's level of criticality
	TraceLevel = iota
	// DebugLevel indicates a log message's level of criticality
	DebugLevel
	// InfoLevel indicates a log message's level of criticality
	InfoLevel
	// WarnLevel indicates a log message's level of criticality
	WarnLevel
	// ErrorLevel indicates a log message's level of criticality
	ErrorLevel
	// FatalLevel indicates a log message's level of criticality
	FatalLevel
)

// LogLevelToString translates a log level enum to a string representation
func LogLevelToString(level int) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "TRACE"
	}
}

// ParseLogLevel translates a textual log level to its enum, defaulting to InfoLevel
func ParseLogLevel(s string) int {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// filterOption translates a log level enum to a go-kit level filter.
// go-kit has no trace or fatal levels, so they collapse onto debug and error.
func filterOption(lvl int) level.Option {
	switch {
	case lvl <= DebugLevel:
		return level.AllowDebug()
	case lvl == InfoLevel:
		return level.AllowInfo()
	case lvl == WarnLevel:
		return level.AllowWarn()
	default:
		return level.AllowError()
	}
}

// New creates a logfmt logger writing to w, filtered at lvl.
// A nil w writes to stderr.
func New(w io.Writer, lvl int) log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, filterOption(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// Nop returns a logger which discards everything
func Nop() log.Logger {
	return log.NewNopLogger()
}

// WithRank attaches a rank to every message of logger
func WithRank(logger log.Logger, rank int) log.Logger {
	return log.With(logger, "rank", rank)
}
