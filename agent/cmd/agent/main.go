package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/linekpi/linekpi/agent/internal/collect"
	"github.com/linekpi/linekpi/agent/internal/config"
	"github.com/linekpi/linekpi/agent/internal/report"
	"github.com/linekpi/linekpi/agent/internal/security"
	"github.com/linekpi/linekpi/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	once := flag.Bool("once", false, "evaluate every line once, print a report and exit")
	format := flag.String("format", "text", "report format for -once: text | json | prom")
	flag.Parse()

	// Logs go to stderr with -once so the report on stdout stays clean.
	var logOut io.Writer = os.Stdout
	if *once {
		logOut = os.Stderr
	}
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Level())

	if *once {
		outFmt, err := report.ParseFormat(*format)
		if err != nil {
			slog.Error("invalid -format", "err", err)
			os.Exit(2)
		}
		os.Exit(runOnce(context.Background(), cfg, outFmt))
	}

	slog.Info("linekpi-agent starting", "config", *configPath)
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"lines", len(cfg.Agent.Lines),
		"push_interval", cfg.Agent.PushInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &agent{
		engine:  collect.NewEngine(),
		lines:   cfg.Agent.Lines,
		trigger: make(chan struct{}, 1),
	}

	// Start the shipper unless the agent runs standalone.
	if cfg.Agent.ServerEndpoint != "" {
		a.ship = shipper.New(cfg.Agent)
		go a.ship.Run(ctx)
	} else {
		slog.Warn("no server_endpoint configured, results are logged only")
	}

	// Watch config for hot-reload: lines and log level are swapped in place.
	// Server endpoint, auth and buffer size need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Level())
			a.setLines(updated.Agent.Lines)
			go checkCerts(ctx, updated.Agent.Lines)
			slog.Info("config hot-reloaded", "lines", len(updated.Agent.Lines))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	go a.watchData(ctx)
	go checkCerts(ctx, cfg.Agent.Lines)

	ticker := time.NewTicker(cfg.Agent.PushInterval)
	defer ticker.Stop()

	a.evaluateAll(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			slog.Info("linekpi-agent shutting down")
			return
		case t := <-ticker.C:
			a.evaluateAll(ctx, t)
		case <-a.trigger:
			a.evaluateAll(ctx, time.Now())
		}
	}
}

// runOnce evaluates every line, writes the report to stdout and returns the
// process exit code: 1 if any line failed to import.
func runOnce(ctx context.Context, cfg *config.Config, f report.Format) int {
	engine := collect.NewEngine()
	now := time.Now()
	results := make([]*collect.Result, 0, len(cfg.Agent.Lines))
	code := 0
	for _, l := range cfg.Agent.Lines {
		res := engine.Process(ctx, l, now)
		if res.ErrorMessage != "" {
			code = 1
		}
		results = append(results, res)
	}
	if err := report.Write(os.Stdout, f, results); err != nil {
		slog.Error("write report", "err", err)
		return 1
	}
	return code
}

// checkCerts logs the certificate state of every HTTPS counters endpoint.
func checkCerts(ctx context.Context, lines []config.Line) {
	for _, l := range lines {
		cs := security.Check(ctx, l, time.Now())
		if cs == nil {
			continue
		}
		attrs := []any{"line", cs.Line, "endpoint", cs.Endpoint, "status", cs.Status, "days_left", cs.DaysLeft}
		switch cs.Status {
		case "valid":
			slog.Debug("counters certificate checked", attrs...)
		default:
			slog.Warn("counters certificate needs attention", attrs...)
		}
	}
}

// agent owns the live line set and re-evaluates it on ticks, data file
// writes and config reloads.
type agent struct {
	engine *collect.Engine
	ship   *shipper.Shipper

	mu      sync.Mutex
	lines   []config.Line
	rewatch chan struct{}

	trigger chan struct{}
}

func (a *agent) currentLines() []config.Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lines
}

func (a *agent) setLines(lines []config.Line) {
	a.mu.Lock()
	a.lines = lines
	rewatch := a.rewatch
	a.mu.Unlock()

	a.engine.Forget(lines)
	if rewatch != nil {
		select {
		case rewatch <- struct{}{}:
		default:
		}
	}
	a.poke()
}

// poke requests an evaluation without blocking; pending requests coalesce.
func (a *agent) poke() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *agent) evaluateAll(ctx context.Context, now time.Time) {
	for _, l := range a.currentLines() {
		res := a.engine.Process(ctx, l, now)
		slog.Debug("line evaluated",
			"line", l.ID,
			"stale", res.Stale,
			"oee_cycle", res.Metrics.OEECycle,
			"oee_target", res.Metrics.OEETarget,
			"productivity", res.Metrics.ProductivityRatio,
		)
		if n := res.OutOfRange(); n > 0 {
			slog.Warn("intervals outside head window", "line", l.ID, "count", n)
		}
		if a.ship != nil {
			a.ship.Ship(res)
		}
	}
}

// watchData restarts the data file watcher whenever the line set changes.
func (a *agent) watchData(ctx context.Context) {
	rewatch := make(chan struct{}, 1)
	a.mu.Lock()
	a.rewatch = rewatch
	a.mu.Unlock()

	for {
		wctx, stop := context.WithCancel(ctx)
		var files []string
		for _, l := range a.currentLines() {
			files = append(files, l.DataFile)
		}
		go func() {
			if err := config.WatchFiles(wctx, files, func(path string) {
				slog.Debug("data file changed", "path", path)
				a.poke()
			}); err != nil {
				slog.Error("data watcher stopped", "err", err)
			}
		}()

		select {
		case <-ctx.Done():
			stop()
			return
		case <-rewatch:
			stop()
		}
	}
}
