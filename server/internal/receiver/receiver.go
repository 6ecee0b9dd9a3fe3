package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/server/internal/config"
	"github.com/linekpi/linekpi/server/internal/store"
)

const maxLineIDLen = 128

// ErrInvalidLineID is returned for empty or oversized line IDs.
var ErrInvalidLineID = errors.New("invalid line id")

// ErrBadRequest is returned when a request body is not the expected JSON.
var ErrBadRequest = errors.New("bad request")

// Evaluator is notified of every line the receiver stores or drops.
type Evaluator interface {
	Evaluate(l *store.Line)
	Forget(lineID string)
}

// PushRequest is the JSON body sent by agents: the line configuration and
// its heads in interchange form.
type PushRequest struct {
	Config kpi.Configuration `json:"config"`
	Heads  json.RawMessage   `json:"heads"`
}

// Receiver validates incoming line data and writes it to the store.
//
// Writes are serialized together with their alert evaluation, so the alert
// engine sees lines in the order the store stored them.
type Receiver struct {
	store    *store.Store
	alerts   Evaluator
	onChange func(lineID string)

	mu sync.Mutex
}

// New creates a Receiver that writes to st and notifies al. al may be nil.
func New(st *store.Store, al Evaluator) *Receiver {
	return &Receiver{store: st, alerts: al}
}

// OnChange registers fn to be called with the ID of every line stored,
// deleted or evicted. Call it before the receiver is used.
func (r *Receiver) OnChange(fn func(lineID string)) {
	r.onChange = fn
}

// Seed stores the configured lines that do not exist yet.
func (r *Receiver) Seed(lines []config.LineConfig) {
	for _, lc := range lines {
		if _, ok := r.store.Get(lc.ID); ok {
			continue
		}
		if _, err := r.Configure(lc.ID, lc.KPI); err != nil {
			slog.Warn("receiver: seed line", "line", lc.ID, "err", err)
		}
	}
}

// Push replaces the configuration and heads of a line from an agent body.
func (r *Receiver) Push(id string, body []byte) (*store.Line, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("receiver: push %q: %w: %v", id, ErrBadRequest, err)
	}
	if len(req.Heads) == 0 {
		return nil, fmt.Errorf("receiver: push %q: %w: heads is required", id, ErrBadRequest)
	}
	heads, err := interchange.Import(req.Heads)
	if err != nil {
		return nil, fmt.Errorf("receiver: push %q: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.store.Put(id, heads, req.Config)
	if err != nil {
		return nil, fmt.Errorf("receiver: push %q: %w", id, err)
	}
	r.stored("push", l)
	return l, nil
}

// Import replaces the heads of a line with an interchange payload in
// format f. The line keeps its configuration.
func (r *Receiver) Import(id string, f interchange.Format, data []byte) (*store.Line, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	heads, err := interchange.Decode(f, data)
	if err != nil {
		return nil, fmt.Errorf("receiver: import %q: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.store.PutData(id, heads)
	r.stored("import", l)
	return l, nil
}

// Configure replaces the configuration of a line and keeps its heads.
func (r *Receiver) Configure(id string, cfg kpi.Configuration) (*store.Line, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.store.PutConfig(id, cfg)
	if err != nil {
		return nil, fmt.Errorf("receiver: configure: %w", err)
	}
	r.stored("configure", l)
	return l, nil
}

// ChangeBasis runs the basis-change gate on an existing line.
func (r *Receiver) ChangeBasis(id string, basis kpi.TargetBasis, proposedShift *float64) (*store.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.store.ApplyBasis(id, basis, proposedShift)
	if err != nil {
		slog.Info("receiver: basis change rejected", "line", id, "basis", basis, "err", err)
		return nil, fmt.Errorf("receiver: change basis: %w", err)
	}
	r.stored("basis", l)
	return l, nil
}

// Delete removes a line and resolves its alerts.
func (r *Receiver) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.store.Delete(id) {
		return false
	}
	r.forget(id)
	slog.Info("receiver: line deleted", "line", id)
	return true
}

// Forget resolves the alerts of lines removed from the store.
func (r *Receiver) Forget(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.forget(id)
	}
}

func (r *Receiver) forget(id string) {
	if r.alerts != nil {
		r.alerts.Forget(id)
	}
	r.changed(id)
}

func (r *Receiver) changed(id string) {
	if r.onChange != nil {
		r.onChange(id)
	}
}

func (r *Receiver) stored(op string, l *store.Line) {
	slog.Debug("receiver: line stored",
		"op", op,
		"line", l.ID,
		"run", l.RunID,
		"heads", len(l.Heads),
		"oee_cycle", l.Metrics.OEECycle,
		"oee_target", l.Metrics.OEETarget,
	)
	if n := l.OutOfRange(); n > 0 {
		slog.Warn("receiver: intervals outside head window", "line", l.ID, "count", n)
	}
	if r.alerts != nil {
		r.alerts.Evaluate(l)
	}
	r.changed(l.ID)
}

func checkID(id string) error {
	if id == "" || len(id) > maxLineIDLen {
		return fmt.Errorf("receiver: %w: %q", ErrInvalidLineID, id)
	}
	return nil
}
