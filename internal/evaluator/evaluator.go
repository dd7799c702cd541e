package evaluator

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/audit"
	"pulse/internal/domain"
	"pulse/internal/store"
)

// Store is everything the evaluator reads and writes, satisfied by
// *store.Pool.
type Store interface {
	FetchRollup(ctx context.Context) ([]store.DeviceRollup, error)
	UpsertDeviceState(ctx context.Context, tenantID, deviceID, siteID string, status domain.DeviceLiveness, lastHB, lastTel, lastSeen *time.Time, now time.Time) (store.UpsertDeviceStateResult, error)

	FetchEnabledRules(ctx context.Context, tenantID string) ([]domain.AlertRule, error)
	FetchMetricMappings(ctx context.Context, tenantID string) ([]domain.MetricMapping, error)
	FetchDeviceGroupIDs(ctx context.Context, tenantID, deviceID string) ([]string, error)
	FetchActiveMaintenanceWindows(ctx context.Context, tenantID string) ([]domain.MaintenanceWindow, error)

	DeduplicateOrCreateAlert(ctx context.Context, a domain.FleetAlert) (store.UpsertAlertResult, error)
	OpenOrUpdateAlert(ctx context.Context, a domain.FleetAlert) (store.UpsertAlertResult, error)
	CloseAlert(ctx context.Context, tenantID, fingerprint string) error
	IsSilenced(ctx context.Context, tenantID, fingerprint string) (bool, error)
	EscalateOpenAlerts(ctx context.Context) (int64, error)

	FetchAnomalyStats(ctx context.Context, tenantID, deviceID, metricName string, windowMinutes int) (store.AnomalyStats, error)
	ContinuouslyBreached(ctx context.Context, tenantID, deviceID, metricName, sqlOperator string, threshold float64, durationSeconds int) (bool, error)
	HasMetricWithinMinutes(ctx context.Context, tenantID, deviceID, metricName string, gapMinutes int) (bool, error)
}

// Notifier lets the main loop wake on a LISTEN/NOTIFY channel instead of
// only the fallback timer.
type Notifier interface {
	Wait(ctx context.Context) <-chan struct{}
}

// Evaluator runs the main loop described in spec.md §4.2.
type Evaluator struct {
	Store                 Store
	Windows                *WindowRegistry
	Logger                 *slog.Logger
	Audit                  audit.Log // optional; nil means events are dropped
	HeartbeatStaleSeconds  int
	FallbackPoll           time.Duration
	Debounce               time.Duration
	EscalationInterval     time.Duration
}

func (e *Evaluator) publish(ctx context.Context, ev audit.Event) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.PublishCtx(ctx, ev); err != nil {
		e.Logger.Warn("audit publish failed", "error", err)
	}
}

// New constructs an Evaluator with sane defaults for fields left zero.
func New(s Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		Store:                 s,
		Windows:                NewWindowRegistry(),
		Logger:                 logger,
		HeartbeatStaleSeconds:  90,
		FallbackPoll:           30 * time.Second,
		Debounce:               2 * time.Second,
		EscalationInterval:     60 * time.Second,
	}
}

// Run drives the wake/debounce/evaluate loop plus the periodic escalation
// sweep until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, wake <-chan struct{}) {
	fallback := time.NewTicker(e.FallbackPoll)
	defer fallback.Stop()
	escalation := time.NewTicker(e.EscalationInterval)
	defer escalation.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-escalation.C:
			if n, err := RunEscalationSweep(ctx, e.Store); err != nil {
				e.Logger.Error("escalation sweep failed", "error", err)
			} else if n > 0 {
				e.Logger.Info("escalation sweep completed", "escalated", n)
			}
		case <-wake:
			e.debounceAndRun(ctx)
		case <-fallback.C:
			e.debounceAndRun(ctx)
		}
	}
}

func (e *Evaluator) debounceAndRun(ctx context.Context) {
	if e.Debounce > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.Debounce):
		}
	}
	if err := e.RunCycle(ctx); err != nil {
		e.Logger.Error("evaluation cycle failed", "error", err)
	}
}

// RunCycle executes one full evaluation pass over every device's rollup
// row (spec.md §4.2 steps 1-4).
func (e *Evaluator) RunCycle(ctx context.Context) error {
	rollups, err := e.Store.FetchRollup(ctx)
	if err != nil {
		return err
	}

	rulesByTenant := map[string][]domain.AlertRule{}
	mappingsByTenant := map[string][]domain.MetricMapping{}
	windowsByTenant := map[string][]domain.MaintenanceWindow{}

	now := time.Now().UTC()
	for _, d := range rollups {
		if err := e.evaluateDevice(ctx, d, now, rulesByTenant, mappingsByTenant, windowsByTenant); err != nil {
			e.Logger.Error("device evaluation failed", "tenant_id", d.TenantID, "device_id", d.DeviceID, "error", err)
		}
	}
	return nil
}

func (e *Evaluator) evaluateDevice(ctx context.Context, d store.DeviceRollup, now time.Time,
	rulesByTenant map[string][]domain.AlertRule, mappingsByTenant map[string][]domain.MetricMapping, windowsByTenant map[string][]domain.MaintenanceWindow) error {

	status := domain.DeviceOnline
	if d.RegistryStatus != domain.DeviceActive || d.LastHeartbeat == nil ||
		now.Sub(*d.LastHeartbeat) > time.Duration(e.HeartbeatStaleSeconds)*time.Second {
		status = domain.DeviceStale
	}

	stateResult, err := e.Store.UpsertDeviceState(ctx, d.TenantID, d.DeviceID, d.SiteID, status, d.LastHeartbeat, d.LastTelemetry, lastSeen(d), now)
	if err != nil {
		return err
	}
	if stateResult.Transitioned {
		e.publish(ctx, audit.Event{
			Category: audit.CategoryDeviceState, Type: string(status), TenantID: d.TenantID,
			Fields: map[string]any{"device_id": d.DeviceID, "site_id": d.SiteID, "previous_status": stateResult.PreviousStatus},
		})
	}

	if err := e.evaluateHeartbeat(ctx, d, stateResult); err != nil {
		return err
	}

	rules, ok := rulesByTenant[d.TenantID]
	if !ok {
		rules, err = e.Store.FetchEnabledRules(ctx, d.TenantID)
		if err != nil {
			return err
		}
		rulesByTenant[d.TenantID] = rules
	}
	mappings, ok := mappingsByTenant[d.TenantID]
	if !ok {
		mappings, err = e.Store.FetchMetricMappings(ctx, d.TenantID)
		if err != nil {
			return err
		}
		mappingsByTenant[d.TenantID] = mappings
	}
	windows, ok := windowsByTenant[d.TenantID]
	if !ok {
		windows, err = e.Store.FetchActiveMaintenanceWindows(ctx, d.TenantID)
		if err != nil {
			return err
		}
		windowsByTenant[d.TenantID] = windows
	}

	snapshot := applyMappings(d.Metrics, mappings)
	groupIDs, err := e.Store.FetchDeviceGroupIDs(ctx, d.TenantID, d.DeviceID)
	if err != nil {
		return err
	}

	maintActive := MaintenanceActive(windows, d.SiteID, "", now)

	for _, rule := range rules {
		if !ruleInScope(rule, d.SiteID, groupIDs) {
			continue
		}
		if err := e.evaluateRule(ctx, d, rule, snapshot, now, maintActive); err != nil {
			e.Logger.Error("rule evaluation failed", "rule_id", rule.RuleID, "device_id", d.DeviceID, "error", err)
		}
	}
	return nil
}

func lastSeen(d store.DeviceRollup) *time.Time {
	if d.LastTelemetry != nil && (d.LastHeartbeat == nil || d.LastTelemetry.After(*d.LastHeartbeat)) {
		return d.LastTelemetry
	}
	return d.LastHeartbeat
}

func ruleInScope(rule domain.AlertRule, siteID string, groupIDs []string) bool {
	if len(rule.SiteIDs) > 0 && !contains(rule.SiteIDs, siteID) {
		return false
	}
	if len(rule.GroupIDs) > 0 {
		matched := false
		for _, g := range rule.GroupIDs {
			if contains(groupIDs, g) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func applyMappings(raw map[string]float64, mappings []domain.MetricMapping) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for _, m := range mappings {
		if v, ok := raw[m.RawName]; ok {
			if _, exists := out[m.NormalizedTo]; !exists {
				out[m.NormalizedTo] = v*m.Multiplier + m.Offset
			}
		}
	}
	return out
}

func (e *Evaluator) evaluateHeartbeat(ctx context.Context, d store.DeviceRollup, result store.UpsertDeviceStateResult) error {
	fingerprint := domain.HeartbeatFingerprint(d.DeviceID)
	if result.NewStatus == domain.DeviceStale {
		_, err := e.Store.OpenOrUpdateAlert(ctx, domain.FleetAlert{
			TenantID: d.TenantID, SiteID: d.SiteID, DeviceID: d.DeviceID,
			AlertType: domain.AlertNoHeartbeat, Fingerprint: fingerprint,
			Severity: 4, Confidence: 0.9, Summary: "device heartbeat stale",
		})
		return err
	}
	return e.Store.CloseAlert(ctx, d.TenantID, fingerprint)
}

func (e *Evaluator) evaluateRule(ctx context.Context, d store.DeviceRollup, rule domain.AlertRule, snapshot map[string]float64, now time.Time, maintActive bool) error {
	fingerprint := domain.RuleFingerprint(rule.RuleID, d.DeviceID)

	fire, summary, confidence, err := e.dispatchRule(ctx, d, rule, snapshot, now)
	if err != nil {
		return err
	}

	if !fire {
		return e.Store.CloseAlert(ctx, d.TenantID, fingerprint)
	}

	silenced, err := e.Store.IsSilenced(ctx, d.TenantID, fingerprint)
	if err != nil {
		return err
	}
	if silenced || maintActive {
		return nil
	}

	alertType := domain.AlertThreshold
	switch rule.RuleType {
	case domain.RuleWindow:
		alertType = domain.AlertWindow
	case domain.RuleAnomaly:
		alertType = domain.AlertAnomaly
	case domain.RuleTelemetryGap:
		alertType = domain.AlertNoTelemetry
	}

	result, err := e.Store.DeduplicateOrCreateAlert(ctx, domain.FleetAlert{
		TenantID: d.TenantID, SiteID: d.SiteID, DeviceID: d.DeviceID,
		AlertType: alertType, Fingerprint: fingerprint, RuleID: rule.RuleID,
		Severity: rule.Severity, Confidence: confidence, Summary: summary,
	})
	if err != nil {
		return err
	}
	if result.Created {
		e.publish(ctx, audit.Event{
			Category: audit.CategoryAlert, Type: string(alertType), TenantID: d.TenantID,
			Fields: map[string]any{"device_id": d.DeviceID, "rule_id": rule.RuleID, "fingerprint": fingerprint, "severity": rule.Severity},
		})
	}
	return nil
}

func (e *Evaluator) dispatchRule(ctx context.Context, d store.DeviceRollup, rule domain.AlertRule, snapshot map[string]float64, now time.Time) (fire bool, summary string, confidence float64, err error) {
	switch rule.RuleType {
	case domain.RuleWindow:
		value, hasValue := snapshot[rule.MetricName]
		var vp *float64
		if hasValue {
			vp = &value
		}
		agg, ok := e.Windows.Evaluate(d.DeviceID, rule.RuleID, now, vp, rule.WindowSeconds, rule.Aggregation)
		if !ok {
			return false, "", 0, nil
		}
		return rule.Operator.Compare(agg, rule.Threshold), "window aggregation breached threshold", 0.8, nil

	case domain.RuleAnomaly:
		stats, ferr := e.Store.FetchAnomalyStats(ctx, d.TenantID, d.DeviceID, rule.MetricName, rule.WindowMinutes)
		if ferr != nil {
			return false, "", 0, ferr
		}
		localStats := AnomalyStats{Mean: stats.Mean, StdDev: stats.StdDev, Count: stats.Count, Latest: stats.Latest, HasData: stats.HasData}
		fires, z, ok := EvaluateAnomaly(localStats, rule.MinSamples, rule.ZThreshold)
		if !ok {
			return false, "", 0, nil
		}
		return fires, "metric deviates from recent baseline", confidenceFromZ(z, rule.ZThreshold), nil

	case domain.RuleTelemetryGap:
		hasRecent, ferr := e.Store.HasMetricWithinMinutes(ctx, d.TenantID, d.DeviceID, rule.MetricName, rule.GapMinutes)
		if ferr != nil {
			return false, "", 0, ferr
		}
		return EvaluateTelemetryGap(hasRecent), "no telemetry received within gap window", 0.85, nil

	default: // threshold
		fires, terr := EvaluateThreshold(ctx, e.Store, sqlOperatorAdapter, d.TenantID, d.DeviceID, rule)
		if terr != nil {
			return false, "", 0, terr
		}
		return fires, "threshold condition breached", 0.9, nil
	}
}

func sqlOperatorAdapter(op domain.AlertOperator) string {
	return store.SQLOperator(string(op))
}

func confidenceFromZ(z, threshold float64) float64 {
	if threshold <= 0 {
		return 0.5
	}
	c := 0.5 + 0.1*(z-threshold)
	if c > 0.99 {
		return 0.99
	}
	if c < 0.5 {
		return 0.5
	}
	return c
}
