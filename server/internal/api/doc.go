// Package api implements the HTTP REST API for linekpi-server.
//
// New(store, receiver, alerts) returns an http.Handler that serves:
//
//	GET    /api/v1/health                health state, line count, mean OEE on both baselines
//	GET    /api/v1/lines                 all live lines ([]LineResponse)
//	GET    /api/v1/lines/{id}            single line with diagnostics; 404 if unknown or stale
//	PUT    /api/v1/lines/{id}            agent push: {"config": ..., "heads": [...]}
//	DELETE /api/v1/lines/{id}            remove a line
//	PUT    /api/v1/lines/{id}/data       import heads; ?format=minutes|clock|msgpack
//	GET    /api/v1/lines/{id}/export     export heads; ?format=json|clock|msgpack&start=HH:MM
//	GET    /api/v1/lines/{id}/config     current configuration
//	PUT    /api/v1/lines/{id}/config     replace configuration
//	POST   /api/v1/lines/{id}/basis      target basis change: {"basis": ..., "shift_duration": ...}
//	GET    /api/v1/alerts                firing and recently resolved alerts
//	GET    /api/v1/snapshot              all live lines + generated_at; ?line=id filters
//	GET    /metrics                      Prometheus text exposition
//
// Error bodies are {"error": "..."}. Rejected configuration values answer
// 422 with "field"; malformed payloads answer 422 with "path". A rejected
// write never changes the stored line.
package api
