package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linekpi/linekpi/server/internal/config"
	"github.com/linekpi/linekpi/server/internal/store"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	LineID     string     `json:"line_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against recomputed lines and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:lineID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	send     func(*Alert) // webhook delivery, run on its own goroutine
}

// New creates an Engine from the server alert configuration. Rules whose
// condition does not parse are logged and skipped.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.send = e.deliver
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e
}

// Evaluate tests all configured rules against l.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(l *store.Line) {
	if len(e.rules) == 0 || l == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + l.ID
		fires, value := r.cond.eval(l)

		if !fires {
			if a, ok := e.active[key]; ok {
				e.resolve(key, a, now)
				slog.Info("alerts: resolved", "rule", r.Name, "line", l.ID)
			}
			continue
		}

		cooldown := r.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if _, firing := e.active[key]; firing || now.Sub(e.lastFire[key]) <= cooldown {
			continue
		}

		sev := r.Severity
		if sev == "" {
			sev = "warning"
		}
		a := &Alert{
			ID:       uuid.NewString(),
			RuleName: r.Name,
			LineID:   l.ID,
			Severity: sev,
			Value:    value,
			Message:  fmt.Sprintf("%s (value %.3g)", r.Condition, value),
			FiredAt:  now,
			State:    "firing",
		}
		e.active[key] = a
		e.lastFire[key] = now

		slog.Warn("alerts: fired",
			"rule", r.Name,
			"line", l.ID,
			"value", value,
			"severity", sev,
		)
		cp := *a
		go e.send(&cp)
	}
}

// Forget resolves every firing alert of a line that no longer exists.
func (e *Engine) Forget(lineID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for key, a := range e.active {
		if a.LineID == lineID {
			e.resolve(key, a, now)
		}
	}
}

// resolve moves a firing alert to history. e.mu must be held.
func (e *Engine) resolve(key string, a *Alert, now time.Time) {
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	go e.send(&cp)
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
