// Package config handles loading, validating, and defaulting promptgate
// policy configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Oracle kind constants for semantic_blocking.oracle.kind.
const (
	OracleHash = "hash"
	OracleHTTP = "http"
)

// Severity constants for events.min_severity.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8000"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// DefaultMaxPromptChars bounds prompt length when max_prompt_chars is unset.
const DefaultMaxPromptChars = 1000

// DefaultThreshold is the semantic similarity cutoff when threshold is unset.
const DefaultThreshold = 0.6

// Config is the top-level promptgate policy configuration.
type Config struct {
	Version          int              `yaml:"version"`
	BannedKeywords   []string         `yaml:"banned_keywords"`
	MaxPromptChars   int              `yaml:"max_prompt_chars"` // counted in runes, not bytes
	UnicodeHardening *bool            `yaml:"unicode_hardening"` // nil = true; fold homoglyphs/zero-width before keyword matching
	RedactionRules   RedactionRules   `yaml:"redaction_rules"`
	SemanticBlocking SemanticBlocking `yaml:"semantic_blocking"`
	Server           Server           `yaml:"server"`
	Logging          LoggingConfig    `yaml:"logging"`
	Events           EventsConfig     `yaml:"events"`
}

// RedactionRules toggles the individual redactor kinds. A kind that is not
// listed in the config stays disabled, matching the closed set of kinds the
// redaction pipeline knows about.
type RedactionRules struct {
	RedactEmails       bool `yaml:"redact_emails"`
	RedactPhoneNumbers bool `yaml:"redact_phone_numbers"`
	RedactSecrets      bool `yaml:"redact_secrets"`
	RedactCreditCards  bool `yaml:"redact_credit_cards"`
}

// SemanticBlocking configures similarity matching against banned concept
// phrases. When disabled, or when the embedding oracle is unavailable, the
// engine degrades to keyword + redaction coverage only.
type SemanticBlocking struct {
	Enabled       bool     `yaml:"enabled"`
	Threshold     float64  `yaml:"threshold"` // cosine similarity in [0,1]; 0 selects the default 0.6
	BannedPhrases []string `yaml:"banned_phrases"`
	Oracle        Oracle   `yaml:"oracle"`
}

// Oracle configures the embedding backend for semantic blocking.
type Oracle struct {
	Kind      string `yaml:"kind"`        // hash, http
	URL       string `yaml:"url"`         // http kind: embeddings endpoint
	Model     string `yaml:"model"`       // model name sent to http oracles
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the bearer token (http kind)
	TimeoutMS int    `yaml:"timeout_ms"`  // per-call budget; on timeout the capability degrades
	MaxRPS    int    `yaml:"max_rps"`     // client-side cap on oracle calls per second
}

// Server configures the transport listeners.
type Server struct {
	Listen         string `yaml:"listen"`          // HTTP JSON surface
	TCPListen      string `yaml:"tcp_listen"`      // PGATE/1.0 line protocol; empty disables
	MaxConnections int    `yaml:"max_connections"` // concurrent TCP connection cap
	AdminToken     string `yaml:"admin_token"`     // bearer token for /-/reload; empty = unauthenticated
}

// LoggingConfig configures decision logging.
type LoggingConfig struct {
	Format         string `yaml:"format"` // json, text
	Output         string `yaml:"output"` // stdout, file, both
	File           string `yaml:"file"`
	IncludeAllowed bool   `yaml:"include_allowed"`
	IncludeBlocked bool   `yaml:"include_blocked"`
}

// EventsConfig configures security event emission (webhook and syslog sinks).
type EventsConfig struct {
	WebhookURL       string `yaml:"webhook_url"`
	WebhookTimeoutMS int    `yaml:"webhook_timeout_ms"`
	Syslog           bool   `yaml:"syslog"`
	SyslogTag        string `yaml:"syslog_tag"`
	MinSeverity      string `yaml:"min_severity"` // info, warn, critical
}

// HardeningEnabled returns whether Unicode hardening applies to the
// keyword-matching view of prompts. Defaults to true when unicode_hardening
// is not set in the config.
func (c *Config) HardeningEnabled() bool {
	return c.UnicodeHardening == nil || *c.UnicodeHardening
}

// Load reads, parses, defaults, and validates a promptgate policy file.
// A failure here at startup must be treated as fatal: the gateway never
// serves traffic without a validated policy.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = DefaultMaxPromptChars
	}
	if c.UnicodeHardening == nil {
		c.UnicodeHardening = ptrBool(true)
	}
	if c.SemanticBlocking.Threshold == 0 {
		c.SemanticBlocking.Threshold = DefaultThreshold
	}
	if c.SemanticBlocking.Oracle.Kind == "" {
		c.SemanticBlocking.Oracle.Kind = OracleHash
	}
	if c.SemanticBlocking.Oracle.Model == "" {
		c.SemanticBlocking.Oracle.Model = "all-MiniLM-L6-v2"
	}
	if c.SemanticBlocking.Oracle.APIKeyEnv == "" {
		c.SemanticBlocking.Oracle.APIKeyEnv = "PROMPTGATE_ORACLE_API_KEY"
	}
	if c.SemanticBlocking.Oracle.TimeoutMS <= 0 {
		c.SemanticBlocking.Oracle.TimeoutMS = 2000
	}
	if c.SemanticBlocking.Oracle.MaxRPS <= 0 {
		c.SemanticBlocking.Oracle.MaxRPS = 8
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = 256
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Events.WebhookTimeoutMS <= 0 {
		c.Events.WebhookTimeoutMS = 5000
	}
	if c.Events.SyslogTag == "" {
		c.Events.SyslogTag = "promptgate"
	}
	if c.Events.MinSeverity == "" {
		c.Events.MinSeverity = SeverityWarn
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	if c.MaxPromptChars <= 0 {
		return fmt.Errorf("max_prompt_chars must be positive, got %d", c.MaxPromptChars)
	}

	// An empty keyword is a substring of every prompt and would block all
	// traffic; reject it as a config mistake rather than honoring it.
	for i, k := range c.BannedKeywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("banned_keywords entry %d is empty: an empty keyword matches every prompt", i)
		}
	}

	t := c.SemanticBlocking.Threshold
	if t < 0 || t > 1 {
		return fmt.Errorf("semantic_blocking.threshold %v out of range: must be within [0, 1]", t)
	}

	if c.SemanticBlocking.Enabled && len(c.SemanticBlocking.BannedPhrases) == 0 {
		return fmt.Errorf("semantic_blocking is enabled but has no banned_phrases; add phrases or set enabled: false")
	}
	for i, p := range c.SemanticBlocking.BannedPhrases {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("semantic_blocking.banned_phrases entry %d is empty", i)
		}
	}

	switch c.SemanticBlocking.Oracle.Kind {
	case OracleHash:
		// self-contained, nothing to check
	case OracleHTTP:
		if c.SemanticBlocking.Oracle.URL == "" {
			return fmt.Errorf("semantic_blocking.oracle.url is required for kind %q", OracleHTTP)
		}
		u, err := url.Parse(c.SemanticBlocking.Oracle.URL)
		if err != nil {
			return fmt.Errorf("invalid semantic_blocking.oracle.url %q: %w", c.SemanticBlocking.Oracle.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("semantic_blocking.oracle.url %q: scheme must be http or https", c.SemanticBlocking.Oracle.URL)
		}
	default:
		return fmt.Errorf("invalid semantic_blocking.oracle.kind %q: must be hash or http", c.SemanticBlocking.Oracle.Kind)
	}
	if c.SemanticBlocking.Oracle.TimeoutMS <= 0 {
		return fmt.Errorf("semantic_blocking.oracle.timeout_ms must be positive")
	}
	if c.SemanticBlocking.Oracle.MaxRPS <= 0 {
		return fmt.Errorf("semantic_blocking.oracle.max_rps must be positive")
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen %q: %w", c.Server.Listen, err)
	}
	if c.Server.TCPListen != "" {
		if _, _, err := net.SplitHostPort(c.Server.TCPListen); err != nil {
			return fmt.Errorf("invalid server.tcp_listen %q: %w", c.Server.TCPListen, err)
		}
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be positive")
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	if c.Events.WebhookURL != "" {
		u, err := url.Parse(c.Events.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid events.webhook_url %q: %w", c.Events.WebhookURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("events.webhook_url %q: scheme must be http or https", c.Events.WebhookURL)
		}
	}

	switch c.Events.MinSeverity {
	case SeverityInfo, SeverityWarn, SeverityCritical:
		// valid
	default:
		return fmt.Errorf("invalid events.min_severity %q: must be info, warn, or critical", c.Events.MinSeverity)
	}

	// Warn if listen addresses are not loopback (exposed to network).
	warnNonLoopback(c.Server.Listen, "server.listen")
	if c.Server.TCPListen != "" {
		warnNonLoopback(c.Server.TCPListen, "server.tcp_listen")
	}

	return nil
}

func warnNonLoopback(addr, field string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	ip := net.ParseIP(host)
	if ip != nil && !ip.IsLoopback() {
		fmt.Fprintf(os.Stderr, "WARNING: %s %s is not loopback - /history, /stats, and /metrics will be exposed to the network\n", field, addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		fmt.Fprintf(os.Stderr, "WARNING: %s %s binds to all interfaces - consider using 127.0.0.1 for local-only access\n", field, addr)
	}
}

// ReloadWarning describes a potential security downgrade from a config reload.
type ReloadWarning struct {
	Field   string
	Message string
}

// ValidateReload compares old and new configs and returns warnings for
// potential security downgrades. Warnings don't block the reload.
func ValidateReload(old, updated *Config) []ReloadWarning {
	var warnings []ReloadWarning

	// Keyword coverage reduced
	if len(updated.BannedKeywords) < len(old.BannedKeywords) {
		warnings = append(warnings, ReloadWarning{
			Field:   "banned_keywords",
			Message: fmt.Sprintf("banned keywords reduced from %d to %d", len(old.BannedKeywords), len(updated.BannedKeywords)),
		})
	}

	// Length limit loosened
	if updated.MaxPromptChars > old.MaxPromptChars {
		warnings = append(warnings, ReloadWarning{
			Field:   "max_prompt_chars",
			Message: fmt.Sprintf("max prompt length raised from %d to %d", old.MaxPromptChars, updated.MaxPromptChars),
		})
	}

	// Unicode hardening disabled
	if old.HardeningEnabled() && !updated.HardeningEnabled() {
		warnings = append(warnings, ReloadWarning{
			Field:   "unicode_hardening",
			Message: "unicode hardening disabled: homoglyph and zero-width evasion of the keyword list becomes possible",
		})
	}

	// Redactor kinds disabled
	if old.RedactionRules.RedactEmails && !updated.RedactionRules.RedactEmails {
		warnings = append(warnings, ReloadWarning{
			Field:   "redaction_rules.redact_emails",
			Message: "email redaction disabled",
		})
	}
	if old.RedactionRules.RedactPhoneNumbers && !updated.RedactionRules.RedactPhoneNumbers {
		warnings = append(warnings, ReloadWarning{
			Field:   "redaction_rules.redact_phone_numbers",
			Message: "phone number redaction disabled",
		})
	}
	if old.RedactionRules.RedactSecrets && !updated.RedactionRules.RedactSecrets {
		warnings = append(warnings, ReloadWarning{
			Field:   "redaction_rules.redact_secrets",
			Message: "secret token redaction disabled",
		})
	}
	if old.RedactionRules.RedactCreditCards && !updated.RedactionRules.RedactCreditCards {
		warnings = append(warnings, ReloadWarning{
			Field:   "redaction_rules.redact_credit_cards",
			Message: "credit card redaction disabled",
		})
	}

	// Semantic blocking disabled
	if old.SemanticBlocking.Enabled && !updated.SemanticBlocking.Enabled {
		warnings = append(warnings, ReloadWarning{
			Field:   "semantic_blocking.enabled",
			Message: "semantic blocking disabled",
		})
	}

	// Semantic threshold loosened
	if old.SemanticBlocking.Enabled && updated.SemanticBlocking.Enabled &&
		updated.SemanticBlocking.Threshold > old.SemanticBlocking.Threshold {
		warnings = append(warnings, ReloadWarning{
			Field: "semantic_blocking.threshold",
			Message: fmt.Sprintf("semantic threshold raised from %.2f to %.2f, fewer prompts will be blocked",
				old.SemanticBlocking.Threshold, updated.SemanticBlocking.Threshold),
		})
	}

	// Banned phrases reduced
	if len(updated.SemanticBlocking.BannedPhrases) < len(old.SemanticBlocking.BannedPhrases) {
		warnings = append(warnings, ReloadWarning{
			Field: "semantic_blocking.banned_phrases",
			Message: fmt.Sprintf("banned phrases reduced from %d to %d",
				len(old.SemanticBlocking.BannedPhrases), len(updated.SemanticBlocking.BannedPhrases)),
		})
	}

	// Admin endpoint left unauthenticated
	if old.Server.AdminToken != "" && updated.Server.AdminToken == "" {
		warnings = append(warnings, ReloadWarning{
			Field:   "server.admin_token",
			Message: "admin_token removed: /-/reload is unauthenticated",
		})
	}

	return warnings
}

// Defaults returns a Config with the stock policy: keyword blocking, full
// redaction coverage, semantic blocking off.
func Defaults() *Config {
	cfg := &Config{
		Version:          1,
		BannedKeywords:   []string{"kill", "bomb"},
		MaxPromptChars:   DefaultMaxPromptChars,
		UnicodeHardening: ptrBool(true),
		RedactionRules: RedactionRules{
			RedactEmails:       true,
			RedactPhoneNumbers: true,
			RedactSecrets:      true,
			RedactCreditCards:  true,
		},
		SemanticBlocking: SemanticBlocking{
			Enabled:       false,
			Threshold:     DefaultThreshold,
			BannedPhrases: []string{"how to make a bomb"},
			Oracle: Oracle{
				Kind:      OracleHash,
				Model:     "all-MiniLM-L6-v2",
				APIKeyEnv: "PROMPTGATE_ORACLE_API_KEY",
				TimeoutMS: 2000,
				MaxRPS:    8,
			},
		},
		Server: Server{
			Listen:         DefaultListen,
			MaxConnections: 256,
		},
		Logging: LoggingConfig{
			Format:         DefaultLogFormat,
			Output:         DefaultLogOutput,
			IncludeAllowed: true,
			IncludeBlocked: true,
		},
		Events: EventsConfig{
			WebhookTimeoutMS: 5000,
			SyslogTag:        "promptgate",
			MinSeverity:      SeverityWarn,
		},
	}
	return cfg
}

func ptrBool(v bool) *bool { return &v }
