package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linekpi/linekpi/pkg/aggregate"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/types"
)

// ErrNotFound is returned when an operation needs an existing line.
var ErrNotFound = errors.New("line not found")

// Line is the computed state of one production line. A Line is never
// modified after it has been stored; callers must treat it as read-only.
type Line struct {
	ID        string                    `json:"id"`
	Heads     []types.HeadChannel       `json:"heads"`
	Config    kpi.Configuration         `json:"config"`
	Durations []aggregate.HeadDurations `json:"durations"`
	Input     kpi.Input                 `json:"input"`
	Metrics   kpi.MetricsRecord         `json:"metrics"`

	// RunID identifies the recomputation that produced this Line.
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutOfRange is the number of intervals outside their head's window.
func (l *Line) OutOfRange() int {
	n := 0
	for _, h := range l.Durations {
		n += h.OutOfRange
	}
	return n
}

// Store is a thread-safe in-memory line store, keyed by line ID.
// A background goroutine (Run) evicts lines that have not been updated
// within the configured TTL. A zero TTL disables eviction.
type Store struct {
	mu       sync.RWMutex
	data     map[string]*Line
	ttl      time.Duration
	defaults kpi.Configuration
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Store. defaults is the configuration given to lines whose
// data arrives before any configuration.
func New(ttl time.Duration, defaults kpi.Configuration) *Store {
	return &Store{
		data:     make(map[string]*Line),
		ttl:      ttl,
		defaults: defaults.WithDefaults(),
		now:      time.Now,
	}
}

// build recomputes a Line from scratch. heads is cloned.
func (s *Store) build(id string, heads []types.HeadChannel, cfg kpi.Configuration) *Line {
	heads = types.CloneHeads(heads)
	if heads == nil {
		heads = []types.HeadChannel{}
	}
	durations := aggregate.Heads(heads)
	in := kpi.InputFromHeads(durations)
	return &Line{
		ID:        id,
		Heads:     heads,
		Config:    cfg,
		Durations: durations,
		Input:     in,
		Metrics:   kpi.Compute(in, cfg),
		RunID:     uuid.NewString(),
		UpdatedAt: s.now(),
	}
}

// TTL returns the retention configured for the store; zero means forever.
func (s *Store) TTL() time.Duration { return s.ttl }

// Live reports whether l is within the TTL at the store's current time.
func (s *Store) Live(l *Line) bool { return s.live(l, s.now()) }

// Put stores or replaces both the heads and the configuration of a line.
// cfg must be valid.
func (s *Store) Put(id string, heads []types.HeadChannel, cfg kpi.Configuration) (*Line, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store: put %q: %w", id, err)
	}
	l := s.build(id, heads, cfg.WithDefaults())
	s.mu.Lock()
	s.data[id] = l
	s.mu.Unlock()
	return l, nil
}

// PutData replaces the heads of a line and keeps its configuration. A line
// that does not exist yet is created with the store defaults.
func (s *Store) PutData(id string, heads []types.HeadChannel) *Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.defaults
	if cur, ok := s.data[id]; ok {
		cfg = cur.Config
	}
	l := s.build(id, heads, cfg)
	s.data[id] = l
	return l
}

// PutConfig replaces the configuration of a line and keeps its heads. A line
// that does not exist yet is created without heads. An invalid cfg leaves
// the line untouched.
func (s *Store) PutConfig(id string, cfg kpi.Configuration) (*Line, error) {
	return s.update(id, true, func(kpi.Configuration) (kpi.Configuration, error) {
		if err := cfg.Validate(); err != nil {
			return kpi.Configuration{}, err
		}
		return cfg.WithDefaults(), nil
	})
}

// ApplyBasis switches the target basis of an existing line through
// kpi.ApplyBasisChange. A rejected change leaves the line untouched.
func (s *Store) ApplyBasis(id string, basis kpi.TargetBasis, proposedShift *float64) (*Line, error) {
	return s.update(id, false, func(cur kpi.Configuration) (kpi.Configuration, error) {
		return kpi.ApplyBasisChange(cur, basis, proposedShift)
	})
}

// update recomputes line id with the configuration returned by fn. The
// store lock is held across fn so concurrent changes are serialised.
func (s *Store) update(id string, create bool, fn func(kpi.Configuration) (kpi.Configuration, error)) (*Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[id]
	if !ok && !create {
		return nil, fmt.Errorf("store: %q: %w", id, ErrNotFound)
	}
	cfg := s.defaults
	var heads []types.HeadChannel
	if ok {
		cfg = cur.Config
		heads = cur.Heads
	}

	next, err := fn(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %q: %w", id, err)
	}
	l := s.build(id, heads, next)
	s.data[id] = l
	return l, nil
}

// Get returns the Line for id and whether it was found.
func (s *Store) Get(id string) (*Line, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.data[id]
	return l, ok
}

// List returns every line, sorted by ID. Lines past their TTL that have
// not yet been evicted are excluded.
func (s *Store) List() []*Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Line, 0, len(s.data))
	for _, l := range s.data {
		if s.live(l, s.now()) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes line id and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[id]
	delete(s.data, id)
	return ok
}

// Count returns the total number of lines currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes lines whose UpdatedAt is older than now minus TTL and
// returns their IDs. It does nothing when the TTL is zero.
func (s *Store) Evict(now time.Time) []string {
	if s.ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, l := range s.data {
		if !s.live(l, now) {
			delete(s.data, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (s *Store) live(l *Line, now time.Time) bool {
	return s.ttl <= 0 || l.UpdatedAt.After(now.Add(-s.ttl))
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and calls onEvict, when non-nil, with the IDs removed
// on each tick. With a zero TTL Run just waits for ctx. Run blocks until ctx
// is cancelled.
func (s *Store) Run(ctx context.Context, onEvict func(ids []string)) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if ids := s.Evict(now); len(ids) > 0 {
				slog.Debug("store: evicted stale lines", "count", len(ids))
				if onEvict != nil {
					onEvict(ids)
				}
			}
		}
	}
}
