// Package shipper pushes evaluated lines to linekpi-server over HTTP
// (PUT /api/v1/lines/{id} with a {config, heads} JSON body, heads in the
// minutes interchange payload).
//
// Shipper.Ship() is non-blocking: results are converted to push bodies and
// placed in an in-memory channel (default capacity 100). When the buffer is
// full the oldest entry is evicted so the latest line data is always kept.
//
// Shipper.Run() drains the buffer in a loop, retrying with truncated
// exponential backoff (1s→60s, ±25% jitter) on network errors, 5xx and 429.
// Any other 4xx is permanent: the body is discarded rather than retried.
//
// Auth: API key in a configurable header, bearer token, or none.
package shipper
