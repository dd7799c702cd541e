package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/audit"
)

// Dispatcher drives the wait/debounce/dispatch loop described in spec.md
// §4.3: wake on new_fleet_alert or the fallback timer, debounce, run one
// primary pass plus one escalation pass.
type Dispatcher struct {
	Store                Store
	Logger               *slog.Logger
	Audit                audit.Log // optional; nil means events are dropped
	AlertLookbackMinutes int
	AlertLimit           int
	RouteLimit           int
	FallbackPoll         time.Duration
	Debounce             time.Duration
}

// New constructs a Dispatcher with the given store and sane defaults.
func New(s Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Store:                s,
		Logger:               logger,
		AlertLookbackMinutes: 60,
		AlertLimit:           500,
		RouteLimit:           500,
		FallbackPoll:         30 * time.Second,
		Debounce:             2 * time.Second,
	}
}

// Run drives the loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, wake <-chan struct{}) {
	fallback := time.NewTicker(d.FallbackPoll)
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			d.debounceAndRun(ctx)
		case <-fallback.C:
			d.debounceAndRun(ctx)
		}
	}
}

func (d *Dispatcher) debounceAndRun(ctx context.Context) {
	if d.Debounce > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Debounce):
		}
	}
	d.RunOnce(ctx)
}

// RunOnce executes the primary and escalation passes once.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	created, err := RunPrimaryPass(ctx, d.Store, d.AlertLookbackMinutes, d.AlertLimit, d.RouteLimit)
	if err != nil {
		d.Logger.Error("dispatcher primary pass failed", "error", err)
	} else if created > 0 {
		d.Logger.Info("dispatcher primary pass created jobs", "count", created)
		d.publish(ctx, "OPEN", created)
	}

	created, err = RunEscalationPass(ctx, d.Store, d.RouteLimit)
	if err != nil {
		d.Logger.Error("dispatcher escalation pass failed", "error", err)
	} else if created > 0 {
		d.Logger.Info("dispatcher escalation pass created jobs", "count", created)
		d.publish(ctx, "ESCALATED", created)
	}
}

func (d *Dispatcher) publish(ctx context.Context, event string, created int) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.PublishCtx(ctx, audit.Event{
		Category: audit.CategoryDelivery, Type: event,
		Fields: map[string]any{"jobs_created": created},
	}); err != nil {
		d.Logger.Warn("audit publish failed", "error", err)
	}
}
