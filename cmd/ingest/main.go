// Command ingest subscribes to the telemetry MQTT broker, validates and
// authorizes each message, and batch-writes accepted records to Postgres
// (spec.md §4.1).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"pulse/internal/audit"
	"pulse/internal/broker"
	"pulse/internal/config"
	"pulse/internal/domain"
	"pulse/internal/ingest"
	"pulse/internal/runtime"
	"pulse/internal/store"
	"pulse/internal/telemetry/logging"
	"pulse/internal/telemetry/metrics"
)

func main() {
	cfg := config.LoadIngest()
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

	settings := config.NewSettingsPoller(pool.LoadSettings, cfg.SettingsPoll, domain.Settings{
		Mode:            domain.Mode(cfg.Mode),
		MaxPayloadBytes: 65536,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	})
	go settings.Run(ctx)

	rt := runtime.New(cfg.AuthCacheTTL, cfg.AuthCacheMaxSize, settings.Current().RateLimitBurst, settings.Current().RateLimitRPS)
	go func() {
		ticker := time.NewTicker(cfg.SettingsPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := settings.Current()
				rt.Limiter.SetRates(s.RateLimitBurst, s.RateLimitRPS)
			}
		}
	}()

	sub := broker.NewSubscriber(broker.Config{
		BrokerURL: fmt.Sprintf("tcp://%s:%d", cfg.MQTTHost, cfg.MQTTPort),
		ClientID:  "pulse-ingest",
		QueueSize: cfg.QueueSize,
	}, base)
	go func() {
		if err := sub.Start(ctx); err != nil {
			logger.ErrorCtx(ctx, "mqtt subscriber stopped", "error", err)
		}
	}()

	validator := &ingest.Validator{
		Cache:           rt.AuthCache,
		Limiter:         rt.Limiter,
		Registry:        pool,
		RequireToken:    cfg.RequireToken,
		AutoProvision:   cfg.AutoProvision,
		MaxPayloadBytes: settings.Current().MaxPayloadBytes,
	}
	writer := ingest.NewBatchWriter(pool, cfg.BatchSize, cfg.MaxBufferSize, cfg.FlushInterval, base)
	go writer.Run(ctx)

	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	go serveMetrics(provider, logger)

	eventLog := audit.New(provider)
	go forwardAuditEvents(ctx, eventLog, logger)

	pipeline := ingest.NewPipeline(sub.Messages(), validator, writer, pool, settings, provider, cfg.WorkerCount, base)
	pipeline.Audit = eventLog
	pipeline.Run(ctx)
}

func serveMetrics(provider *metrics.PrometheusProvider, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	if err := http.ListenAndServe(":9092", mux); err != nil {
		logger.ErrorCtx(context.Background(), "metrics server stopped", "error", err)
	}
}

// forwardAuditEvents drains the ingest pipeline's audit bus and logs each
// event, standing in for a real log-shipper until one is configured.
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
