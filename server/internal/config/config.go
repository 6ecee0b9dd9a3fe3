package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linekpi/linekpi/pkg/kpi"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "oee_target < 0.6",
	// "availability < 0.85", "gap_pct < -10", "out_of_range > 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort  = 8080
	DefaultBroadcast = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of server.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Store controls in-memory line retention.
	Store StoreConfig `yaml:"store"`

	// Broadcast is the WebSocket snapshot interval (default 5s).
	Broadcast time.Duration `yaml:"broadcast"`

	// Defaults is the KPI configuration given to lines that receive data
	// before anyone configured them. Unset fields take kpi.Defaults.
	Defaults kpi.Configuration `yaml:"defaults"`

	// Lines seeds KPI configurations for lines before any data arrives.
	Lines []LineConfig `yaml:"lines"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// LineConfig is a KPI configuration seeded for one line.
type LineConfig struct {
	ID  string            `yaml:"id"`
	KPI kpi.Configuration `yaml:"kpi"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig controls in-memory line retention.
type StoreConfig struct {
	// TTL is how long a line remains in the store after its last update.
	// Zero keeps lines until they are deleted.
	TTL time.Duration `yaml:"ttl"`
}

// Level returns the configured slog level, defaulting to info.
func (s ServerConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	cfg.Server.Defaults = cfg.Server.Defaults.WithDefaults()
	for i := range cfg.Server.Lines {
		cfg.Server.Lines[i].KPI = cfg.Server.Lines[i].KPI.WithDefaults()
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:  DefaultHTTPPort,
			LogLevel:  "info",
			Broadcast: DefaultBroadcast,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Store.TTL < 0 {
		return fmt.Errorf("server.store.ttl must not be negative")
	}
	if s.Broadcast <= 0 {
		return fmt.Errorf("server.broadcast must be positive")
	}

	if err := s.Defaults.Validate(); err != nil {
		return fmt.Errorf("server.defaults: %w", err)
	}

	seen := make(map[string]bool, len(s.Lines))
	for i, l := range s.Lines {
		if l.ID == "" {
			return fmt.Errorf("server.lines[%d]: id is required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("server.lines[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true
		if err := l.KPI.Validate(); err != nil {
			return fmt.Errorf("server.lines[%d] %q: kpi: %w", i, l.ID, err)
		}
	}

	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}
