// Package auth provides API key enforcement for the server's HTTP surface.
package auth
