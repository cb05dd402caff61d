package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkrasnov/float-feed/internal/backoff"
	"github.com/dkrasnov/float-feed/internal/config"
	"github.com/dkrasnov/float-feed/internal/connection"
	"github.com/dkrasnov/float-feed/internal/health"
	"github.com/dkrasnov/float-feed/internal/metrics"
	"github.com/dkrasnov/float-feed/internal/publish"
	"github.com/dkrasnov/float-feed/internal/registry"
	"github.com/dkrasnov/float-feed/internal/router"
	"github.com/dkrasnov/float-feed/internal/store"
	"github.com/dkrasnov/float-feed/internal/token"
	"github.com/dkrasnov/float-feed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedwatcher",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.WSURL,
		"channel", cfg.Feed.Channel,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	st, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	logger.Info("database connected")

	// Connect to the match sink
	pub, err := publish.Connect(ctx, publish.Config{
		URL:          cfg.NATS.URL,
		StreamName:   cfg.NATS.Stream,
		SubjectBase:  cfg.NATS.SubjectBase,
		ConnectWait:  2 * time.Second,
		DrainTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	logger.Info("match sink connected", "stream", cfg.NATS.Stream)

	// Token manager over the credential store
	tokens := token.NewManager(token.Config{
		APIBaseURL:      cfg.API.BaseURL,
		RefreshInterval: cfg.Token.RefreshInterval,
		RequestTimeout:  cfg.API.Timeout,
	}, st, token.WithLogger(logger))

	// Subscription registry with initial load
	reg := registry.New(registry.Config{
		ReconcileInterval: cfg.Registry.ReconcileInterval,
	}, st, logger)

	if _, err := reg.Reconcile(ctx); err != nil {
		logger.Error("initial subscription load failed", "error", err)
		os.Exit(1)
	}

	identities := reg.ListIdentities()
	logger.Info("subscriptions loaded",
		"subscriptions", reg.Metrics().Total,
		"identities", len(identities),
	)

	if err := tokens.LoadTokens(ctx, identities); err != nil {
		// Partial token failures are survivable; the manager retries lazily.
		logger.Warn("token preload incomplete", "error", err)
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)
	for id, n := range reg.Metrics().CountsByIdentity {
		collector.SetSubscriptions(id, n)
	}

	// Health monitor and connection manager
	monitor := health.NewMonitor(health.Config{
		CheckInterval:    cfg.Health.CheckInterval,
		MaxSilentPeriod:  cfg.Health.MaxSilentPeriod,
		MaxConnectionAge: cfg.Health.MaxConnectionAge,
		RateWindow:       time.Minute,
	}, logger)

	strategy := backoff.New(backoff.Config{
		MinDelay:         cfg.Connection.MinDelay,
		MaxDelay:         cfg.Connection.MaxDelay,
		Factor:           cfg.Connection.BackoffFactor,
		MaxAttempts:      cfg.Connection.MaxAttempts,
		Jitter:           true,
		BreakerThreshold: cfg.Connection.BreakerThreshold,
		BreakerCooldown:  cfg.Connection.BreakerCooldown,
	}, logger)

	mgr := connection.NewManager(connection.ManagerConfig{
		URL:                cfg.Feed.WSURL,
		Channel:            cfg.Feed.Channel,
		ConnectTimeout:     cfg.Connection.ConnectTimeout,
		WriteTimeout:       cfg.Connection.WriteTimeout,
		BufferSize:         cfg.Connection.BufferSize,
		ForceReconnectWait: time.Second,
	}, tokens, strategy, fanoutSignals{monitor, collector}, logger)

	mgr.StateMachine().OnTransition(func(from, to connection.Status) {
		collector.SetConnected(to == connection.StatusConnected)
	})

	// Message router over the manager's publication stream
	rtr := router.New(store.Platform, pub, reg, mgr, logger)
	go rtr.Run(ctx, mgr.Publications())

	// Connect only when there is something to match against
	if reg.Metrics().Total > 0 {
		if err := mgr.Connect(ctx); err != nil {
			// A retry is already scheduled when the strategy allows.
			logger.Warn("initial connect failed", "error", err)
		}
	} else {
		logger.Info("no active subscriptions, staying disconnected")
	}

	monitor.Start(ctx, mgr)
	defer monitor.Stop()

	// Reconcile loop: keep tokens, metrics and the connection policy in
	// step with the subscription set.
	go reg.Run(ctx, func(diff registry.Diff) {
		logger.Info("subscriptions changed",
			"added", len(diff.Added),
			"removed", len(diff.Removed),
		)

		snap := reg.Metrics()
		current := make(map[int64]bool, len(snap.CountsByIdentity))
		for id, n := range snap.CountsByIdentity {
			current[id] = true
			collector.SetSubscriptions(id, n)
		}

		known := make(map[int64]bool)
		for _, id := range tokens.Identities() {
			known[id] = true
		}
		for id := range current {
			if !known[id] {
				collector.RecordTokenRefresh(tokens.AddIdentity(ctx, id))
			}
		}
		for id := range known {
			if !current[id] {
				tokens.RemoveIdentity(id)
				collector.SetSubscriptions(id, 0)
			}
		}

		if snap.Total == 0 && mgr.IsConnected() {
			logger.Info("no active subscriptions left, disconnecting")
			if err := mgr.Disconnect(); err != nil {
				logger.Warn("disconnect failed", "error", err)
			}
		} else if snap.Total > 0 && !mgr.IsConnected() {
			if err := mgr.Connect(ctx); err != nil {
				logger.Warn("connect failed", "error", err)
			}
		}
	})

	// Push router and connection stats into the collector
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		var last router.Stats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := rtr.Stats()
				collector.RecordMatches(int(stats.Matches - last.Matches))
				for i := stats.PublishErrors - last.PublishErrors; i > 0; i-- {
					collector.RecordPublishError()
				}
				last = stats
				collector.SetUptime(mgr.State().Uptime().Seconds())
			}
		}
	}()

	// Metrics and health HTTP endpoint
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHTTPHandler(cfg.Metrics.Path, promReg, st, monitor, reg),
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("feedwatcher running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	if err := mgr.Dispose(); err != nil {
		logger.Warn("dispose failed", "error", err)
	}

	logger.Info("feedwatcher stopped")
}

// createHTTPHandler serves prometheus metrics plus a JSON health check.
func createHTTPHandler(metricsPath string, gatherer prometheus.Gatherer, st *store.Store, monitor *health.Monitor, reg *registry.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, metrics.Handler(gatherer))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		healthResp := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := st.Ping(ctx); err != nil {
			healthResp.Status = "unhealthy"
			healthResp.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			healthResp.Components["postgres"] = "connected"
		}

		// Check feed connection
		m := monitor.Metrics()
		healthResp.Components["connection"] = map[string]interface{}{
			"status":              string(m.Status),
			"uptime_seconds":      m.Uptime.Seconds(),
			"messages_per_minute": m.MessagesPerMinute,
			"reconnects":          m.Reconnects,
		}
		if !monitor.CheckHealth() {
			healthResp.Status = "degraded"
		}

		// Check subscription registry
		regMetrics := reg.Metrics()
		healthResp.Components["subscriptions"] = map[string]interface{}{
			"total": regMetrics.Total,
		}

		w.Header().Set("Content-Type", "application/json")
		if healthResp.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(healthResp)
	})

	return mux
}

// fanoutSignals forwards connection signals to both the health monitor and
// the prometheus collector.
type fanoutSignals struct {
	monitor   *health.Monitor
	collector *metrics.Collector
}

func (s fanoutSignals) RecordMessage() {
	s.monitor.RecordMessage()
	s.collector.RecordMessage()
}

func (s fanoutSignals) RecordReconnect() {
	s.monitor.RecordReconnect()
	s.collector.RecordReconnect()
}

func (s fanoutSignals) RecordError() {
	s.monitor.RecordError()
	s.collector.RecordError()
}
