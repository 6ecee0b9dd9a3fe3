package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linekpi/linekpi/server/internal/alerts"
	"github.com/linekpi/linekpi/server/internal/api"
	"github.com/linekpi/linekpi/server/internal/auth"
	"github.com/linekpi/linekpi/server/internal/config"
	"github.com/linekpi/linekpi/server/internal/receiver"
	"github.com/linekpi/linekpi/server/internal/store"
	"github.com/linekpi/linekpi/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "server.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("linekpi-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"line_ttl", cfg.Server.Store.TTL,
		"seed_lines", len(cfg.Server.Lines),
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Alerts engine: evaluates rules on every recomputed line.
	alertEngine := alerts.New(cfg.Server.Alerts)

	// Line store with background TTL eviction; evicted lines resolve their alerts.
	st := store.New(cfg.Server.Store.TTL, cfg.Server.Defaults)

	// WebSocket hub: snapshots every interval, updates as soon as a line changes.
	hub := ws.New(st, cfg.Server.Broadcast)
	go hub.Run(ctx)

	rc := receiver.New(st, alertEngine)
	rc.OnChange(hub.Notify)
	rc.Seed(cfg.Server.Lines)
	go st.Run(ctx, rc.Forget)

	// REST API, /metrics and the hub share HTTPPort behind the API key check.
	apiHandler := api.New(st, rc, alertEngine)
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", apiHandler)
	mux.Handle("/ws/stream", hub)

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health",
	)
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but no key is set, requests are not authenticated",
			"key_env", cfg.Server.Auth.KeyEnv)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           requireKey(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("linekpi-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
