// Package logging provides the orchestrator's structured logging
// interface: a small Logger contract, a safe no-op default, and a
// concrete logger rendering JSON or human-readable lines.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Fields is the structured-field payload attached to a log record.
type Fields map[string]interface{}

// Logger is the structured logging contract used across the
// orchestrator. Context-aware variants exist so call sites that have a
// request/run context can attach correlation data without every
// implementation needing to understand tracing.
type Logger interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)

	InfoWithContext(ctx context.Context, msg string, fields Fields)
	WarnWithContext(ctx context.Context, msg string, fields Fields)
	ErrorWithContext(ctx context.Context, msg string, fields Fields)
	DebugWithContext(ctx context.Context, msg string, fields Fields)
}

// ComponentLogger is a Logger scoped to a named component, e.g.
// "orchestrator/runner" or "orchestrator/launcher".
type ComponentLogger interface {
	Logger
	WithComponent(component string) ComponentLogger
}

// NoOpLogger discards everything. Safe zero value; used as the default
// when no logger is configured.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, Fields)  {}
func (NoOpLogger) Warn(string, Fields)  {}
func (NoOpLogger) Error(string, Fields) {}
func (NoOpLogger) Debug(string, Fields) {}

func (NoOpLogger) InfoWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) WarnWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, Fields) {}
func (NoOpLogger) DebugWithContext(context.Context, string, Fields) {}

func (l NoOpLogger) WithComponent(string) ComponentLogger { return l }

// Format selects how TextLogger renders a record.
type Format string

const (
	FormatJSON  Format = "json"
	FormatHuman Format = "human"
)

// TextLogger is the concrete Logger used outside of tests. It writes
// either JSON lines or a human-readable line per record.
type TextLogger struct {
	component string
	format    Format
	debug     bool
	output    io.Writer
}

// NewTextLogger builds a logger writing to output in the given format.
// If debug is false, Debug-level records are suppressed.
func NewTextLogger(output io.Writer, format Format, debug bool) *TextLogger {
	if output == nil {
		output = os.Stdout
	}
	return &TextLogger{format: format, debug: debug, output: output}
}

// WithComponent returns a logger tagging every record with component.
func (l *TextLogger) WithComponent(component string) ComponentLogger {
	return &TextLogger{component: component, format: l.format, debug: l.debug, output: l.output}
}

func (l *TextLogger) Info(msg string, fields Fields)  { l.logEvent(context.Background(), "INFO", msg, fields) }
func (l *TextLogger) Warn(msg string, fields Fields)  { l.logEvent(context.Background(), "WARN", msg, fields) }
func (l *TextLogger) Error(msg string, fields Fields) { l.logEvent(context.Background(), "ERROR", msg, fields) }
func (l *TextLogger) Debug(msg string, fields Fields) {
	if l.debug {
		l.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}

func (l *TextLogger) InfoWithContext(ctx context.Context, msg string, fields Fields) {
	l.logEvent(ctx, "INFO", msg, fields)
}
func (l *TextLogger) WarnWithContext(ctx context.Context, msg string, fields Fields) {
	l.logEvent(ctx, "WARN", msg, fields)
}
func (l *TextLogger) ErrorWithContext(ctx context.Context, msg string, fields Fields) {
	l.logEvent(ctx, "ERROR", msg, fields)
}
func (l *TextLogger) DebugWithContext(ctx context.Context, msg string, fields Fields) {
	if l.debug {
		l.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (l *TextLogger) logEvent(_ context.Context, level, msg string, fields Fields) {
	ts := time.Now().Format(time.RFC3339)
	if l.format == FormatJSON {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", ts, level)
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}
	fmt.Fprintf(&b, " %s", msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(l.output, b.String())
}
