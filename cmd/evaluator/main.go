// Command evaluator runs the alert-rule evaluation cycle and escalation
// sweep described in spec.md §4.2.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"pulse/internal/audit"
	"pulse/internal/config"
	"pulse/internal/evaluator"
	"pulse/internal/store"
	"pulse/internal/telemetry/logging"
	"pulse/internal/telemetry/metrics"
)

func main() {
	cfg := config.LoadEvaluator()
	base := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.New(base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		logger.WarnCtx(ctx, "second signal received; forcing exit")
		os.Exit(1)
	}()

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer pool.Close()

	listener := store.NewListener(cfg.NotifyDatabaseURL, store.ChannelTelemetryInserted)
	go listener.Run(ctx)

	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	go serveMetrics(provider, logger)

	eventLog := audit.New(provider)
	go forwardAuditEvents(ctx, eventLog, logger)

	e := evaluator.New(pool, base)
	e.Audit = eventLog
	e.HeartbeatStaleSeconds = cfg.HeartbeatStaleSeconds
	e.FallbackPoll = cfg.FallbackPoll
	e.Debounce = cfg.Debounce

	e.Run(ctx, listener.Wake())
}

func serveMetrics(provider *metrics.PrometheusProvider, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	if err := http.ListenAndServe(":9090", mux); err != nil {
		logger.ErrorCtx(context.Background(), "metrics server stopped", "error", err)
	}
}

// forwardAuditEvents drains the evaluator's audit bus and logs each event,
// standing in for a real log-shipper until one is configured.
func forwardAuditEvents(ctx context.Context, log audit.Log, logger logging.Logger) {
	sub, err := log.Subscribe(256)
	if err != nil {
		logger.ErrorCtx(ctx, "audit subscribe failed", "error", err)
		return
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C():
			logger.InfoCtx(ctx, "audit event", "category", ev.Category, "type", ev.Type, "tenant_id", ev.TenantID)
		}
	}
}
