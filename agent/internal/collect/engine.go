package collect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/linekpi/linekpi/agent/internal/config"
	"github.com/linekpi/linekpi/agent/internal/scraper"
	"github.com/linekpi/linekpi/pkg/aggregate"
	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/types"
)

// importWindow is the number of recent imports tracked for ImportOKPct.
const importWindow = 20

// Result is the evaluated state of one line, ready to be reported or handed
// to the shipper.
type Result struct {
	LineID      string                    `json:"line_id"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
	Config      kpi.Configuration         `json:"config"`
	Heads       []types.HeadChannel       `json:"heads"`
	Durations   []aggregate.HeadDurations `json:"durations"`
	Input       kpi.Input                 `json:"input"`
	Metrics     kpi.MetricsRecord         `json:"metrics"`

	// Stale is true when the latest import failed and Heads come from the
	// last successful one.
	Stale bool `json:"stale"`
	// ErrorMessage is non-empty when the latest import failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// ImportOKPct is the share of successful imports over the recent window.
	ImportOKPct float64 `json:"import_ok_pct"`
	// CountersError is non-empty when the line's counters could not be
	// scraped and the static KPI counts were used instead.
	CountersError string `json:"counters_error,omitempty"`
}

// OutOfRange returns the number of intervals outside their head's window.
func (r *Result) OutOfRange() int {
	var n int
	for _, h := range r.Durations {
		n += h.OutOfRange
	}
	return n
}

// Evaluate aggregates heads and computes the metrics record under cfg.
func Evaluate(lineID string, heads []types.HeadChannel, cfg kpi.Configuration, now time.Time) *Result {
	durations := aggregate.Heads(heads)
	in := kpi.InputFromHeads(durations)
	return &Result{
		LineID:      lineID,
		EvaluatedAt: now,
		Config:      cfg,
		Heads:       heads,
		Durations:   durations,
		Input:       in,
		Metrics:     kpi.Compute(in, cfg),
		ImportOKPct: 100,
	}
}

// CountSource reads a line's production counters.
type CountSource interface {
	Scrape(ctx context.Context) (scraper.Counts, error)
}

// Engine keeps the last good import of every line across evaluations, and
// one counters scraper per line that configures one.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	states   map[string]*lineState
	readFile func(string) ([]byte, error) // injectable for tests

	// newSource builds the counters source of a line; injectable for tests.
	newSource func(config.CountersConfig) (CountSource, error)
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{
		states:   make(map[string]*lineState),
		readFile: os.ReadFile,
		newSource: func(c config.CountersConfig) (CountSource, error) {
			return scraper.New(c)
		},
	}
}

// Process reads and imports line's data file and evaluates it.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// A failed read or import never discards the previous heads: the result is
// computed from them and marked Stale. Before the first successful import a
// failure yields an empty, non-stale result carrying the error.
//
// When the line has counters configured they are scraped first and override
// the static counts of line.KPI. A failed scrape falls back to the static
// counts and is reported in CountersError.
func (e *Engine) Process(ctx context.Context, line config.Line, now time.Time) *Result {
	heads, err := e.load(line)
	cfg, cerr := e.counts(ctx, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(line.ID)
	st.recordImport(err == nil)

	var out *Result
	if err != nil {
		slog.Warn("collect: import failed, keeping previous data",
			"line", line.ID, "file", line.DataFile, "err", err)
		out = Evaluate(line.ID, types.CloneHeads(st.heads), cfg, now)
		out.Stale = st.heads != nil
		out.ErrorMessage = err.Error()
	} else {
		st.heads = heads
		out = Evaluate(line.ID, types.CloneHeads(heads), cfg, now)
	}
	out.ImportOKPct = st.okPct()
	if cerr != nil {
		out.CountersError = cerr.Error()
	}
	return out
}

// counts returns line.KPI with the scraped counters applied.
func (e *Engine) counts(ctx context.Context, line config.Line) (kpi.Configuration, error) {
	if line.Counters == nil {
		return line.KPI, nil
	}
	src, err := e.sourceFor(line)
	if err == nil {
		var c scraper.Counts
		if c, err = src.Scrape(ctx); err == nil {
			return c.Apply(line.KPI), nil
		}
	}
	slog.Warn("collect: counters unavailable, using configured counts",
		"line", line.ID, "endpoint", line.Counters.Endpoint, "err", err)
	return line.KPI, err
}

// sourceFor returns the cached counters source of line, rebuilding it when
// the line's counters config changed since the last call.
func (e *Engine) sourceFor(line config.Line) (CountSource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(line.ID)
	if st.source != nil && reflect.DeepEqual(st.sourceCfg, *line.Counters) {
		return st.source, nil
	}
	src, err := e.newSource(*line.Counters)
	if err != nil {
		st.source = nil
		return nil, err
	}
	st.source, st.sourceCfg = src, *line.Counters
	return src, nil
}

// Forget drops the state of lines not listed in keep. Call it after a config
// reload removed lines.
func (e *Engine) Forget(keep []config.Line) {
	ids := make(map[string]bool, len(keep))
	for _, l := range keep {
		ids[l.ID] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if !ids[id] {
			delete(e.states, id)
		}
	}
}

func (e *Engine) load(line config.Line) ([]types.HeadChannel, error) {
	data, err := e.readFile(line.DataFile)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	heads, err := interchange.Decode(line.PayloadFormat(), data)
	if err != nil {
		return nil, err
	}
	return heads, nil
}

// lineState holds the last good heads, import history and counters source
// of one line.
type lineState struct {
	heads   []types.HeadChannel
	history []bool // import outcomes, newest last

	source    CountSource
	sourceCfg config.CountersConfig
}

func (e *Engine) stateFor(id string) *lineState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &lineState{}
	e.states[id] = st
	return st
}

func (st *lineState) recordImport(ok bool) {
	if len(st.history) >= importWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, ok)
}

func (st *lineState) okPct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
