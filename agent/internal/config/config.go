package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPushInterval = 30 * time.Second
	DefaultBufferSize   = 100
	DefaultAuthHeader   = "X-API-Key"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to agent.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of linekpi-server, e.g.
	// "http://kpi.plant.local:8080". Empty disables shipping.
	ServerEndpoint string `yaml:"server_endpoint"`

	// PushInterval is the longest time between two evaluations of a line.
	// Data file writes trigger an evaluation immediately.
	PushInterval time.Duration `yaml:"push_interval"`

	// BufferSize is the maximum number of results held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the agent authenticates to linekpi-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// Lines is the list of production lines evaluated by this agent.
	Lines []Line `yaml:"lines"`
}

// Line describes one production line: where its recording lives and how its
// KPIs are configured.
type Line struct {
	// ID is a unique, human-readable identifier for this line.
	ID string `yaml:"id"`

	// DataFile is the interchange payload holding the line's heads. Relative
	// paths are resolved against the config file's directory.
	DataFile string `yaml:"data_file"`

	// Format is the payload format of DataFile: minutes | clock | msgpack.
	Format string `yaml:"format"`

	// KPI is the line's KPI configuration.
	KPI kpi.Configuration `yaml:"kpi"`

	// Counters, when set, supplies the output counts from a Prometheus
	// endpoint instead of the static values in KPI.
	Counters *CountersConfig `yaml:"counters"`
}

// CountersConfig describes a Prometheus text endpoint exposing the line's
// production counters. Each metric name is optional; unset counts keep the
// value configured under kpi.
type CountersConfig struct {
	// Endpoint is the full URL of the exposition, e.g.
	// "http://plc-gateway:9100/metrics".
	Endpoint string `yaml:"endpoint"`

	ActualMetric string `yaml:"actual_metric"`
	GoodMetric   string `yaml:"good_metric"`
	CyclesMetric string `yaml:"cycles_metric"`

	// Labels restricts every metric to samples carrying these labels.
	// Matching samples are summed.
	Labels map[string]string `yaml:"labels"`

	Auth SourceAuth `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// SourceAuth specifies how the agent authenticates to a counters endpoint.
type SourceAuth struct {
	// Mode is one of: apikey | bearer | basic | mtls | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the API key is sent in (apikey mode).
	Header string `yaml:"header"`

	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// CertFile, KeyFile and CAFile are PEM paths used in mtls mode.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Key returns the API key resolved from the environment.
func (a SourceAuth) Key() string { return getenv(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a SourceAuth) Token() string { return getenv(a.TokenEnv) }

// Password returns the basic auth password resolved from the environment.
func (a SourceAuth) Password() string { return getenv(a.PasswordEnv) }

// TLSConfig holds client TLS settings for a counters endpoint.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func getenv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// PayloadFormat returns the parsed Format. It is only valid after Load.
func (l Line) PayloadFormat() interchange.Format {
	f, _ := interchange.ParseFormat(l.Format)
	return f
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the API key is sent in (default X-API-Key).
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string { return getenv(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return getenv(a.TokenEnv) }

// Level returns the configured slog level, defaulting to info.
func (c AgentConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	dir := filepath.Dir(path)
	for i := range cfg.Agent.Lines {
		l := &cfg.Agent.Lines[i]
		if !filepath.IsAbs(l.DataFile) {
			l.DataFile = filepath.Join(dir, l.DataFile)
		}
		l.KPI = l.KPI.WithDefaults()
		if c := l.Counters; c != nil {
			for _, p := range []*string{&c.Auth.CertFile, &c.Auth.KeyFile, &c.Auth.CAFile} {
				if *p != "" && !filepath.IsAbs(*p) {
					*p = filepath.Join(dir, *p)
				}
			}
		}
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			PushInterval: DefaultPushInterval,
			BufferSize:   DefaultBufferSize,
			LogLevel:     "info",
			ServerAuth:   AuthConfig{Header: DefaultAuthHeader},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.PushInterval <= 0 {
		return fmt.Errorf("agent.push_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch cfg.Agent.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", cfg.Agent.LogLevel)
	}
	switch cfg.Agent.ServerAuth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", cfg.Agent.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(cfg.Agent.Lines))
	for i, l := range cfg.Agent.Lines {
		if l.ID == "" {
			return fmt.Errorf("lines[%d]: id is required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("lines[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true
		if l.DataFile == "" {
			return fmt.Errorf("lines[%d] %q: data_file is required", i, l.ID)
		}
		if _, err := interchange.ParseFormat(l.Format); err != nil {
			return fmt.Errorf("lines[%d] %q: unknown format %q", i, l.ID, l.Format)
		}
		if err := l.KPI.Validate(); err != nil {
			return fmt.Errorf("lines[%d] %q: kpi: %w", i, l.ID, err)
		}
		if l.Counters != nil {
			if err := validateCounters(*l.Counters); err != nil {
				return fmt.Errorf("lines[%d] %q: counters: %w", i, l.ID, err)
			}
		}
	}
	return nil
}

func validateCounters(c CountersConfig) error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.ActualMetric == "" && c.GoodMetric == "" && c.CyclesMetric == "" {
		return fmt.Errorf("at least one of actual_metric, good_metric, cycles_metric is required")
	}
	switch c.Auth.Mode {
	case "", "none", "bearer", "basic":
	case "apikey":
		if c.Auth.Header == "" {
			return fmt.Errorf("auth.header is required in apikey mode")
		}
	case "mtls":
		if c.Auth.CertFile == "" || c.Auth.KeyFile == "" {
			return fmt.Errorf("auth.cert_file and auth.key_file are required in mtls mode")
		}
	default:
		return fmt.Errorf("auth: unknown mode %q", c.Auth.Mode)
	}
	return nil
}
