// Command worker leases delivery jobs and executes them against webhook,
// SNMP, email, and MQTT sinks with retries and backoff (spec.md §4.4).
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"pulse/internal/audit"
	"pulse/internal/config"
	"pulse/internal/delivery"
	"pulse/internal/store"
	"pulse/internal/telemetry/logging"
	"pulse/internal/telemetry/metrics"
)

func main() {
	cfg := config.LoadWorker()
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

	var cm *autopaho.ConnectionManager
	if brokerURL, err := url.Parse(cfg.MQTTBrokerURL); err == nil {
		cm, err = autopaho.NewConnection(ctx, autopaho.ClientConfig{
			ServerUrls: []*url.URL{brokerURL},
			KeepAlive:  30,
			OnConnectError: func(err error) {
				logger.WarnCtx(ctx, "mqtt publisher connection error", "error", err)
			},
			ClientConfig: paho.ClientConfig{ClientID: "pulse-worker"},
		})
		if err != nil {
			logger.WarnCtx(ctx, "mqtt publisher connect failed; mqtt integration deliveries will fail", "error", err)
			cm = nil
		}
	}

	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	go serveMetrics(provider, logger)

	eventLog := audit.New(provider)
	go forwardAuditEvents(ctx, eventLog, logger)

	w := delivery.New(pool, base, cfg.Timeout)
	w.Audit = eventLog
	w.ProdMode = cfg.IsProd()
	w.MQTT = cm
	w.PollInterval = cfg.PollSeconds
	w.BatchSize = cfg.BatchSize
	w.MaxAttempts = cfg.MaxAttempts
	w.BackoffBaseSeconds = cfg.BackoffBaseSeconds
	w.BackoffMaxSeconds = cfg.BackoffMaxSeconds
	w.StuckJobMinutes = cfg.StuckJobMinutes

	w.Run(ctx)
}

func serveMetrics(provider *metrics.PrometheusProvider, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	if err := http.ListenAndServe(":9093", mux); err != nil {
		logger.ErrorCtx(context.Background(), "metrics server stopped", "error", err)
	}
}

// forwardAuditEvents drains the worker's audit bus and logs each event,
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
