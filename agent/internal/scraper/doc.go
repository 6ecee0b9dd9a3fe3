// Package scraper reads a line's production counters (actual output, good
// output, completed cycles) from a Prometheus text exposition, typically a
// PLC gateway or line controller exporter. The scraped Counts override the
// static values of the line's KPI configuration for one evaluation.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// authRoundTripper in base.go on a client built once by New.
package scraper
