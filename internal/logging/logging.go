// Package logging provides the tagged log.Printf wrapper used across the
// pipeline, in the style of the dashboard's "[TAG] message" log lines
// (internal/server/handlers.go, internal/server/cleanup.go), gated by a
// LOG_LEVEL environment variable.
package logging

import (
	"log"
	"os"
	"strings"
)

// Level is a logging verbosity tier.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a tagged logger for one component (e.g. "orchestrator", "store").
type Logger struct {
	tag   string
	level Level
}

var processLevel = parseLevel(os.Getenv("LOG_LEVEL"))

// New returns a Logger tagged with component, e.g. New("ORCHESTRATOR").
func New(component string) *Logger {
	return &Logger{tag: strings.ToUpper(component), level: processLevel}
}

func (l *Logger) log(lvl Level, format string, args ...interface{}) {
	if lvl < l.level {
		return
	}
	log.Printf("["+l.tag+"] "+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }
