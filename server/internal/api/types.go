package api

import (
	"github.com/linekpi/linekpi/pkg/aggregate"
	"github.com/linekpi/linekpi/pkg/kpi"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string  `json:"state"`
	LineCount     int     `json:"line_count"`
	MeanOEECycle  float64 `json:"mean_oee_cycle"`
	MeanOEETarget float64 `json:"mean_oee_target"`
	AlertCount    int     `json:"alert_count"`
}

// LineResponse is one line in GET /api/v1/lines, GET /api/v1/lines/{id}
// and every write endpoint.
type LineResponse struct {
	ID          string                    `json:"id"`
	Config      kpi.Configuration         `json:"config"`
	Metrics     kpi.MetricsRecord         `json:"metrics"`
	Input       kpi.Input                 `json:"input"`
	Durations   []aggregate.HeadDurations `json:"durations"`
	HeadCount   int                       `json:"head_count"`
	OutOfRange  int                       `json:"out_of_range"`
	Diagnostics []DiagnosticHint          `json:"diagnostics"`
	RunID       string                    `json:"run_id"`
	UpdatedAt   string                    `json:"updated_at"` // RFC3339
}

// BasisRequest is the body of POST /api/v1/lines/{id}/basis.
type BasisRequest struct {
	Basis         kpi.TargetBasis `json:"basis"`
	ShiftDuration *float64        `json:"shift_duration,omitempty"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Lines       []LineResponse `json:"lines"`
	GeneratedAt string         `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body. Field names the rejected
// configuration field; Path locates the offending payload element.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Path  string `json:"path,omitempty"`
}
