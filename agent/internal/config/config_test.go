package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "http://localhost:8080"
  push_interval: 10s
  buffer_size: 500
  log_level: debug
  lines:
    - id: line-1
      data_file: line1.json
      format: minutes
      kpi:
        target_basis: per_hour
        target_rate: 10
        actual_output: 15
        downtime_budget: 60
`
	cfg, path := loadFromString(t, yaml)

	if cfg.Agent.ServerEndpoint != "http://localhost:8080" {
		t.Errorf("server_endpoint: got %q", cfg.Agent.ServerEndpoint)
	}
	if cfg.Agent.PushInterval != 10*time.Second {
		t.Errorf("push_interval: got %v", cfg.Agent.PushInterval)
	}
	if cfg.Agent.BufferSize != 500 {
		t.Errorf("buffer_size: got %d", cfg.Agent.BufferSize)
	}
	if cfg.Agent.Level() != slog.LevelDebug {
		t.Errorf("log level: got %v", cfg.Agent.Level())
	}
	if len(cfg.Agent.Lines) != 1 {
		t.Fatalf("lines: got %d, want 1", len(cfg.Agent.Lines))
	}
	l := cfg.Agent.Lines[0]
	if l.ID != "line-1" {
		t.Errorf("line id: got %q", l.ID)
	}
	if want := filepath.Join(filepath.Dir(path), "line1.json"); l.DataFile != want {
		t.Errorf("data_file: got %q, want %q", l.DataFile, want)
	}
	if l.PayloadFormat() != interchange.FormatMinutes {
		t.Errorf("format: got %q", l.PayloadFormat())
	}
	if l.KPI.TargetBasis != kpi.PerHour || l.KPI.TargetRate != 10 || l.KPI.DowntimeBudget != 60 {
		t.Errorf("kpi: got %+v", l.KPI)
	}
	if l.KPI.ActualBasis != kpi.ActualNet {
		t.Errorf("kpi actual_basis default: got %q", l.KPI.ActualBasis)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
agent:
  lines:
    - id: l
      data_file: /var/lib/linekpi/l.json
`
	cfg, _ := loadFromString(t, yaml)

	if cfg.Agent.PushInterval != DefaultPushInterval {
		t.Errorf("default push_interval: got %v, want %v", cfg.Agent.PushInterval, DefaultPushInterval)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", cfg.Agent.BufferSize, DefaultBufferSize)
	}
	if cfg.Agent.ServerAuth.Header != DefaultAuthHeader {
		t.Errorf("default auth header: got %q", cfg.Agent.ServerAuth.Header)
	}
	if cfg.Agent.Level() != slog.LevelInfo {
		t.Errorf("default level: got %v", cfg.Agent.Level())
	}
	if got := cfg.Agent.Lines[0].DataFile; got != "/var/lib/linekpi/l.json" {
		t.Errorf("absolute data_file rewritten: %q", got)
	}
	if cfg.Agent.Lines[0].KPI != kpi.Defaults() {
		t.Errorf("kpi defaults: got %+v", cfg.Agent.Lines[0].KPI)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", `
agent:
  lines:
    - data_file: a.json
`},
		{"duplicate id", `
agent:
  lines:
    - id: a
      data_file: a.json
    - id: a
      data_file: b.json
`},
		{"missing data file", `
agent:
  lines:
    - id: a
`},
		{"unknown format", `
agent:
  lines:
    - id: a
      data_file: a.xml
      format: xml
`},
		{"unknown log level", `
agent:
  log_level: loud
`},
		{"unknown auth mode", `
agent:
  server_auth:
    mode: magictoken
`},
		{"negative buffer", `
agent:
  buffer_size: -1
`},
		{"malformed yaml", `agent: [`},
		{"counters without endpoint", `
agent:
  lines:
    - id: a
      data_file: a.json
      counters:
        actual_metric: units_total
`},
		{"counters without metrics", `
agent:
  lines:
    - id: a
      data_file: a.json
      counters:
        endpoint: http://plc:9100/metrics
`},
		{"counters mtls without cert", `
agent:
  lines:
    - id: a
      data_file: a.json
      counters:
        endpoint: https://plc:9100/metrics
        actual_metric: units_total
        auth:
          mode: mtls
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_Counters(t *testing.T) {
	yaml := `
agent:
  lines:
    - id: a
      data_file: a.json
      counters:
        endpoint: https://plc:9100/metrics
        actual_metric: units_total
        good_metric: good_units_total
        labels:
          line: press-1
        auth:
          mode: mtls
          cert_file: certs/client.pem
          key_file: /etc/linekpi/client.key
`
	cfg, path := loadFromString(t, yaml)
	c := cfg.Agent.Lines[0].Counters
	if c == nil {
		t.Fatal("counters: got nil")
	}
	if c.ActualMetric != "units_total" || c.GoodMetric != "good_units_total" || c.CyclesMetric != "" {
		t.Errorf("metrics: got %+v", c)
	}
	if c.Labels["line"] != "press-1" {
		t.Errorf("labels: got %v", c.Labels)
	}
	if want := filepath.Join(filepath.Dir(path), "certs/client.pem"); c.Auth.CertFile != want {
		t.Errorf("cert_file: got %q, want %q", c.Auth.CertFile, want)
	}
	if c.Auth.KeyFile != "/etc/linekpi/client.key" {
		t.Errorf("absolute key_file rewritten: %q", c.Auth.KeyFile)
	}
}

func TestSourceAuth_Secrets(t *testing.T) {
	t.Setenv("PLC_PASS", "hunter2")
	t.Setenv("PLC_TOKEN", "tok")
	a := SourceAuth{PasswordEnv: "PLC_PASS", TokenEnv: "PLC_TOKEN"}
	if a.Password() != "hunter2" || a.Token() != "tok" || a.Key() != "" {
		t.Errorf("secrets: password %q token %q key %q", a.Password(), a.Token(), a.Key())
	}
}

func TestLoad_PerShiftWithoutDuration(t *testing.T) {
	yaml := `
agent:
  lines:
    - id: a
      data_file: a.json
      kpi:
        target_basis: per_shift
        target_rate: 400
`
	_, err := loadStringErr(t, yaml)
	if !errors.Is(err, kpi.ErrValidation) {
		t.Fatalf("expected kpi validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
}

func TestWatchFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "line.json")
	other := filepath.Join(dir, "other.json")
	if err := os.WriteFile(watched, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- WatchFiles(ctx, []string{watched}, func(p string) {
			select {
			case events <- p:
			default:
			}
		})
	}()

	// The watcher is registered asynchronously; keep writing until it fires.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case p := <-events:
			if p != watched {
				t.Fatalf("event for %q, want %q", p, watched)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("WatchFiles returned %v", err)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(other, []byte("[]"), 0o600)
			_ = os.WriteFile(watched, []byte("[]"), 0o600)
		case <-deadline:
			t.Fatal("no event within 5s")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) (*Config, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg, path
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
