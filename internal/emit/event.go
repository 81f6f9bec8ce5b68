// Package emit fans out gate decisions and operational events to external
// sinks (webhook, syslog) so that a SIEM or on-call pipeline can consume
// them without scraping the decision log.
package emit

import (
	"os"
	"strings"
	"time"
)

// Severity represents the importance level of an emitted event.
type Severity int

const (
	SeverityInfo     Severity = iota // Normal operations
	SeverityWarn                     // Suspicious activity, worth investigating
	SeverityCritical                 // Needs immediate attention
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity level.
// The comparison is case-insensitive. Returns SeverityInfo for unrecognized values.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event represents a structured gate event for external emission.
type Event struct {
	Severity   Severity
	Type       string // Event type ("blocked", "config_reload", etc.)
	Timestamp  time.Time
	InstanceID string         // Gateway instance identifier
	Fields     map[string]any // All structured fields from the decision
}

// DefaultInstanceID returns the hostname or "promptgate" as fallback.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "promptgate"
}

// EventSeverity maps event type strings to their severity level.
// Severity is hardcoded; users control the emission threshold per sink,
// not the severity of individual event types.
var EventSeverity = map[string]Severity{
	// Warn: suspicious or degraded, worth investigating
	"blocked":         SeverityWarn,
	"oracle_degraded": SeverityWarn,
	"error":           SeverityWarn, // errors are suspicious

	// Info: normal operations
	"allowed":       SeverityInfo,
	"redacted":      SeverityInfo,
	"config_reload": SeverityInfo, // default; rejected reloads escalate via ReloadSeverity
}

// ReloadSeverity returns the severity for a config_reload event based on
// the outcome. A rejected reload leaves the gate running on stale policy,
// which needs immediate operator attention.
func ReloadSeverity(ok bool) Severity {
	if ok {
		return SeverityInfo
	}
	return SeverityCritical
}
