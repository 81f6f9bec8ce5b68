// Package audit records every gate decision twice: a bounded in-memory
// ring that serves the history endpoints, and a structured JSON decision
// log for operators.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/luckyPipewrench/promptgate/internal/normalize"
)

// sanitizeString strips control characters, ANSI escape sequences, and
// invisible Unicode from a string before logging. Prompts are hostile
// input: a crafted prompt could otherwise clear the terminal of anyone
// tailing the decision log (\x1b[2J) or hide text between zero-width
// characters in the log file.
func sanitizeString(s string) string {
	// Fast path: most strings have nothing to strip.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b' || unicode.Is(normalize.InvisibleRanges, r)) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars and
		// invisible Unicode.
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || unicode.Is(normalize.InvisibleRanges, r)) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// previewLimit caps how much prompt text enters the log stream. Full
// prompts live in the ring store; a log line carries enough to triage.
const previewLimit = 120

func preview(s string) string {
	n := 0
	for i := range s {
		if n == previewLimit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// EventType describes the kind of decision log entry.
type EventType string

// Event type constants for structured decision log entries.
const (
	EventAllowed       EventType = "allowed"
	EventRedacted      EventType = "redacted"
	EventBlocked       EventType = "blocked"
	EventError         EventType = "error"
	EventConfigReload  EventType = "config_reload"
	EventOracleDegrade EventType = "oracle_degraded"
)

// Logger handles structured decision logging using zerolog.
type Logger struct {
	zl             zerolog.Logger
	includeAllowed bool
	includeBlocked bool
	fileHandle     *os.File // non-nil if logging to file
}

// New creates a decision logger. The caller should call Close when done.
func New(format, output, filePath string, includeAllowed, includeBlocked bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "promptgate").
		Logger()

	return &Logger{
		zl:             zl,
		includeAllowed: includeAllowed,
		includeBlocked: includeBlocked,
		fileHandle:     fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// LogAllowed logs a prompt that passed every stage untouched.
func (l *Logger) LogAllowed(source, userID, requestID string, promptChars int, duration time.Duration) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventAllowed)).
		Str("source", source).
		Str("user_id", sanitizeString(userID)).
		Str("request_id", requestID).
		Int("prompt_chars", promptChars).
		Dur("duration_ms", duration).
		Msg("prompt allowed")
}

// LogRedacted logs a prompt that proceeds with sensitive spans replaced.
// The preview shows post-redaction text, so it is safe to keep in logs.
func (l *Logger) LogRedacted(source, userID, requestID, promptOut string, redactors []string, spans int, duration time.Duration) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventRedacted)).
		Str("source", source).
		Str("user_id", sanitizeString(userID)).
		Str("request_id", requestID).
		Strs("redactors", redactors).
		Int("spans", spans).
		Str("preview", sanitizeString(preview(promptOut))).
		Dur("duration_ms", duration).
		Msg("prompt redacted")
}

// LogBlocked logs a refused prompt with the stage that refused it.
func (l *Logger) LogBlocked(source, userID, requestID, stage, reason, promptIn string, duration time.Duration) {
	if !l.includeBlocked {
		return
	}
	ev := l.zl.Warn().
		Str("event", string(EventBlocked)).
		Str("source", source).
		Str("user_id", sanitizeString(userID)).
		Str("request_id", requestID).
		Str("stage", stage).
		Str("reason", sanitizeString(reason)).
		Str("preview", sanitizeString(preview(promptIn))).
		Dur("duration_ms", duration)
	if technique := TechniqueForStage(stage); technique != "" {
		ev = ev.Str("technique", technique)
	}
	ev.Msg("prompt blocked")
}

// LogError logs a transport or serialization failure.
func (l *Logger) LogError(source, requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventError)).
		Str("source", source).
		Str("request_id", requestID).
		Err(err).
		Msg("request error")
}

// LogOracleDegraded logs that the semantic stage is running without
// answers from its embedding oracle.
func (l *Logger) LogOracleDegraded(oracle string, err error) {
	l.zl.Warn().
		Str("event", string(EventOracleDegrade)).
		Str("oracle", oracle).
		Err(err).
		Msg("semantic stage degraded")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// LogStartup logs that the gate has started.
func (l *Logger) LogStartup(listen, tcpListen string) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listen).
		Str("tcp_listen", tcpListen).
		Msg("promptgate started")
}

// LogShutdown logs that the gate is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("promptgate stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file; only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:             l.zl.With().Str(key, value).Logger(),
		includeAllowed: l.includeAllowed,
		includeBlocked: l.includeBlocked,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
