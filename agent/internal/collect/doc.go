// Package collect turns a line's recorded data file into a KPI result.
//
// Evaluate is pure: heads plus a KPI configuration in, durations and a
// metrics record out. Engine.Process adds the file side: it reads the line's
// data file, imports it in the configured format and keeps the last good
// import per line, so a half-written or malformed file yields a Stale result
// computed from the previous heads instead of wiping the line.
//
// Lines with a counters block get their output counts from a Prometheus
// endpoint through the scraper package; one scraper is kept per line and
// rebuilt when its settings change.
//
// Engine.Process accepts an injectable time.Time so tests are deterministic.
package collect
