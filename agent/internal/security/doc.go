// Package security checks the TLS certificate of each line's counters
// endpoint so the agent can warn before a PLC gateway certificate expires
// and scraping starts failing.
package security
