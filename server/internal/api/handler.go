package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/promfmt"
	"github.com/linekpi/linekpi/server/internal/alerts"
	"github.com/linekpi/linekpi/server/internal/receiver"
	"github.com/linekpi/linekpi/server/internal/store"
)

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 8 << 20

// AlertSource lists current alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints and /metrics.
// Reads go straight to the line store; writes go through the receiver.
type Handler struct {
	store  *store.Store
	recv   *receiver.Receiver
	alerts AlertSource
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. al may be nil.
func New(st *store.Store, rc *receiver.Receiver, al AlertSource) http.Handler {
	h := &Handler{store: st, recv: rc, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /api/v1/health", h.health)
	h.mux.HandleFunc("GET /api/v1/lines", h.listLines)
	h.mux.HandleFunc("GET /api/v1/lines/{id}", h.getLine)
	h.mux.HandleFunc("PUT /api/v1/lines/{id}", h.pushLine)
	h.mux.HandleFunc("DELETE /api/v1/lines/{id}", h.deleteLine)
	h.mux.HandleFunc("PUT /api/v1/lines/{id}/data", h.putData)
	h.mux.HandleFunc("GET /api/v1/lines/{id}/export", h.export)
	h.mux.HandleFunc("GET /api/v1/lines/{id}/config", h.getConfig)
	h.mux.HandleFunc("PUT /api/v1/lines/{id}/config", h.putConfig)
	h.mux.HandleFunc("POST /api/v1/lines/{id}/basis", h.changeBasis)
	h.mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("GET /api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("GET /metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: line count and mean OEE on both baselines.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	lines := h.store.List()
	resp := HealthResponse{LineCount: len(lines), State: "unknown"}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}

	if len(lines) > 0 {
		for _, l := range lines {
			resp.MeanOEECycle += l.Metrics.OEECycle
			resp.MeanOEETarget += l.Metrics.OEETarget
		}
		resp.MeanOEECycle /= float64(len(lines))
		resp.MeanOEETarget /= float64(len(lines))
		resp.State = stateFromOEE(resp.MeanOEETarget)
	}
	jsonResp(w, http.StatusOK, resp)
}

// listLines returns GET /api/v1/lines: all live lines.
func (h *Handler) listLines(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, toLineResponses(h.store.List()))
}

// getLine returns GET /api/v1/lines/{id}.
func (h *Handler) getLine(w http.ResponseWriter, r *http.Request) {
	l, ok := h.line(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, toLineResponse(l))
}

// pushLine handles PUT /api/v1/lines/{id}: configuration and heads from an agent.
func (h *Handler) pushLine(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	l, err := h.recv.Push(r.PathValue("id"), body)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toLineResponse(l))
}

// deleteLine handles DELETE /api/v1/lines/{id}.
func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	if !h.recv.Delete(r.PathValue("id")) {
		jsonErr(w, http.StatusNotFound, "line not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putData handles PUT /api/v1/lines/{id}/data: an interchange payload that
// replaces the line's heads. The format comes from ?format=, or msgpack when
// the body is sent as application/msgpack.
func (h *Handler) putData(w http.ResponseWriter, r *http.Request) {
	f, err := requestFormat(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	l, err := h.recv.Import(r.PathValue("id"), f, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toLineResponse(l))
}

// export handles GET /api/v1/lines/{id}/export?format=json|msgpack|clock&start=HH:MM.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	f, err := interchange.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	l, ok := h.line(w, r)
	if !ok {
		return
	}
	start := r.URL.Query().Get("start")
	if start == "" {
		start = "00:00"
	}
	data, err := interchange.Encode(f, l.Heads, start)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// getConfig returns GET /api/v1/lines/{id}/config.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	l, ok := h.line(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, l.Config)
}

// putConfig handles PUT /api/v1/lines/{id}/config.
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg kpi.Configuration
	if !decodeBody(w, r, &cfg) {
		return
	}
	l, err := h.recv.Configure(r.PathValue("id"), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toLineResponse(l))
}

// changeBasis handles POST /api/v1/lines/{id}/basis. A rejected change
// answers 422 and leaves the line as it was.
func (h *Handler) changeBasis(w http.ResponseWriter, r *http.Request) {
	var req BasisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Basis == "" {
		jsonErr(w, http.StatusBadRequest, "basis is required")
		return
	}
	l, err := h.recv.ChangeBasis(r.PathValue("id"), req.Basis, req.ShiftDuration)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toLineResponse(l))
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot: all live lines, optionally
// filtered with ?line=id.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store, r.URL.Query().Get("line")))
}

// metrics returns GET /metrics: the Prometheus text exposition of every live line.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	b := promfmt.NewBuilder()
	for _, l := range h.store.List() {
		b.AddRecord(l.ID, l.Metrics)
		b.AddHeads(l.ID, l.Durations)
	}
	var buf bytes.Buffer
	if err := promfmt.Write(&buf, b.Families()); err != nil {
		slog.Error("api: render metrics", "err", err)
		jsonErr(w, http.StatusInternalServerError, "render metrics")
		return
	}
	w.Header().Set("Content-Type", promfmt.ContentType)
	_, _ = w.Write(buf.Bytes())
}

// BuildSnapshot returns the current snapshot of all live lines. A non-empty
// lineID restricts it to that line.
func BuildSnapshot(st *store.Store, lineID string) SnapshotResponse {
	lines := st.List()
	if lineID != "" {
		filtered := lines[:0]
		for _, l := range lines {
			if l.ID == lineID {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	return SnapshotResponse{
		Lines:       toLineResponses(lines),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

// line looks up the {id} path value and answers 404 when the line is
// unknown or past its TTL.
func (h *Handler) line(w http.ResponseWriter, r *http.Request) (*store.Line, bool) {
	l, ok := h.store.Get(r.PathValue("id"))
	if !ok || !h.store.Live(l) {
		jsonErr(w, http.StatusNotFound, "line not found")
		return nil, false
	}
	return l, true
}

func requestFormat(r *http.Request) (interchange.Format, error) {
	if q := r.URL.Query().Get("format"); q != "" {
		return interchange.ParseFormat(q)
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == interchange.ContentTypeMsgpack {
		return interchange.FormatMsgpack, nil
	}
	return interchange.FormatMinutes, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	return body, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeErr maps receiver and domain errors to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	var ve *kpi.ValidationError
	var ie *interchange.ImportError
	switch {
	case errors.As(err, &ve):
		jsonResp(w, http.StatusUnprocessableEntity, errorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.As(err, &ie):
		jsonResp(w, http.StatusUnprocessableEntity, errorResponse{Error: ie.Error(), Path: ie.Path})
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "line not found")
	case errors.Is(err, receiver.ErrInvalidLineID), errors.Is(err, receiver.ErrBadRequest):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// stateFromOEE converts an OEE fraction to a line state string.
func stateFromOEE(oee float64) string {
	switch {
	case oee >= 0.85:
		return "world_class"
	case oee >= 0.6:
		return "typical"
	default:
		return "low"
	}
}

func toLineResponses(lines []*store.Line) []LineResponse {
	out := make([]LineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLineResponse(l))
	}
	return out
}

// toLineResponse maps a store.Line to its JSON representation.
func toLineResponse(l *store.Line) LineResponse {
	return LineResponse{
		ID:          l.ID,
		Config:      l.Config,
		Metrics:     l.Metrics,
		Input:       l.Input,
		Durations:   l.Durations,
		HeadCount:   len(l.Heads),
		OutOfRange:  l.OutOfRange(),
		Diagnostics: computeDiagnostics(l),
		RunID:       l.RunID,
		UpdatedAt:   l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
