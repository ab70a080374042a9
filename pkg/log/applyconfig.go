package log

import (
	stdlog "log"
	"strings"
)

// ParseLevel converts a level name ("debug", "info", "warn", "error",
// "fatal") into a Level, defaulting to InfoLevel for unknown input.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Config declares the minimal knobs needed to build a Logger: the level
// name and output format. Callers typically populate this from
// internal/config.Config's LogLevel/LogFormat fields.
type Config struct {
	Level  string
	Format string // "json" or "text"
}

// ApplyConfig builds a Logger from a declarative Config, writing to the
// console. JSON is the default format for unrecognized values.
func ApplyConfig(cfg Config) Logger {
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "text":
		formatter = &TextFormatter{}
	default:
		formatter = &JSONFormatter{}
	}
	return NewLogger(
		WithLevel(ParseLevel(cfg.Level)),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput()),
	)
}

// RedirectStdLog routes the standard library's log package through l at
// the given level, so third-party code that only knows about *log.Logger
// still ends up in structured output.
func RedirectStdLog(l Logger, level Level) *stdlog.Logger {
	w := stdWriter{l: l, level: level}
	stdlog.SetOutput(w)
	stdlog.SetFlags(0)
	return stdlog.New(w, "", 0)
}

type stdWriter struct {
	l     Logger
	level Level
}

func (w stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSuffix(string(p), "\n")
	switch w.level {
	case DebugLevel:
		w.l.Debug(msg)
	case WarnLevel:
		w.l.Warn(msg)
	case ErrorLevel, FatalLevel:
		w.l.Error(msg)
	default:
		w.l.Info(msg)
	}
	return len(p), nil
}
