// Package types defines the shared data model used by the agent, the server
// and every engine package: time intervals, channels and head channels.
// These are the canonical in-memory representations of production activity,
// separate from the interchange wire formats in pkg/interchange.
package types
