package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/linekpi/linekpi/agent/internal/config"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/promfmt"
)

const defaultScrapeTimeout = 10 * time.Second

// Counts holds the production counters read from one scrape. A nil field
// means the metric was not configured and the static KPI value applies.
type Counts struct {
	Actual *float64
	Good   *float64
	Cycles *float64
}

// Apply returns cfg with every scraped count overriding its static value.
func (c Counts) Apply(cfg kpi.Configuration) kpi.Configuration {
	if c.Actual != nil {
		cfg.ActualOutput = *c.Actual
	}
	if c.Good != nil {
		cfg.GoodOutput = *c.Good
	}
	if c.Cycles != nil {
		cfg.CompletedCycles = *c.Cycles
	}
	return cfg
}

// Scraper reads a line's production counters from a Prometheus text endpoint.
type Scraper struct {
	cfg    config.CountersConfig
	client *http.Client
}

// New returns a Scraper for cfg. It builds the HTTP client once and reuses
// it across scrape calls.
func New(cfg config.CountersConfig) (*Scraper, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", cfg.Endpoint, err)
	}
	return &Scraper{cfg: cfg, client: client}, nil
}

// Scrape fetches the endpoint and extracts the configured counters.
//
// Samples of a metric are summed over every series carrying the configured
// labels. A configured metric with no matching sample is an error, so a
// renamed counter never silently reads as zero output.
func (s *Scraper) Scrape(ctx context.Context) (Counts, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.cfg.Endpoint)
	if err != nil {
		return Counts{}, fmt.Errorf("scraper %q: %w", s.cfg.Endpoint, err)
	}

	var out Counts
	for _, m := range []struct {
		name string
		dst  **float64
	}{
		{s.cfg.ActualMetric, &out.Actual},
		{s.cfg.GoodMetric, &out.Good},
		{s.cfg.CyclesMetric, &out.Cycles},
	} {
		if m.name == "" {
			continue
		}
		v, ok := promfmt.Sum(mfs[m.name], s.cfg.Labels)
		if !ok {
			return Counts{}, fmt.Errorf("scraper %q: no sample for %s", s.cfg.Endpoint, m.name)
		}
		*m.dst = &v
	}
	return out, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.SourceAuth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the endpoint's auth and TLS settings.
func buildHTTPClient(cfg config.CountersConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if cfg.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if cfg.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(cfg.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	transport := &authRoundTripper{
		base: &http.Transport{TLSClientConfig: tlsCfg},
		auth: cfg.Auth,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultScrapeTimeout,
	}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return promfmt.Parse(resp.Body)
}
