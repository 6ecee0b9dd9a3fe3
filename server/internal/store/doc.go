// Package store holds the live state of every production line known to the
// server. Each write replaces a line with a fully recomputed, immutable Line;
// readers never observe a half-updated line.
package store
