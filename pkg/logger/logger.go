// Package logger provides component-tagged structured logging for Teleclerk.
// Every log line carries a short component name so output from the pipeline,
// the delivery manager, and the API server can be filtered independently.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var level atomic.Pointer[slog.LevelVar]

func init() {
	lv := &slog.LevelVar{}
	lv.Set(slog.LevelInfo)
	level.Store(lv)
	root.Store(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv})))
}

var root atomic.Pointer[slog.Logger]

// SetLevel adjusts the global log level: "debug", "info", "warn", "error".
func SetLevel(name string) {
	lv := level.Load()
	switch strings.ToLower(name) {
	case "debug":
		lv.Set(slog.LevelDebug)
	case "warn", "warning":
		lv.Set(slog.LevelWarn)
	case "error":
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
}

// SetOutput replaces the root logger (used by tests to silence output).
func SetOutput(l *slog.Logger) { root.Store(l) }

func log(lvl slog.Level, component, msg string, fields map[string]interface{}) {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	root.Load().Log(context.Background(), lvl, msg, attrs...)
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { log(slog.LevelDebug, component, msg, nil) }

// InfoC logs an info message for a component.
func InfoC(component, msg string) { log(slog.LevelInfo, component, msg, nil) }

// WarnC logs a warning for a component.
func WarnC(component, msg string) { log(slog.LevelWarn, component, msg, nil) }

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { log(slog.LevelError, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelDebug, component, msg, fields)
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelInfo, component, msg, fields)
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelWarn, component, msg, fields)
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelError, component, msg, fields)
}
