// Package receiver is the ingest layer between the HTTP API and the line
// store. Every accepted write is validated, stored as a fully recomputed
// line, logged, and handed to the alert engine.
//
// Imports are all-or-nothing: a payload that fails to decode leaves the
// line exactly as it was. Rejected configuration and basis changes do the
// same.
package receiver
