package dispatcher

import (
	"context"
	"fmt"

	"pulse/internal/domain"
	"pulse/internal/store"
)

// Store is everything the dispatcher reads and writes.
type Store interface {
	FetchOpenAlerts(ctx context.Context, lookbackMinutes, limit int) ([]domain.FleetAlert, error)
	FetchRecentlyEscalatedAlerts(ctx context.Context) ([]domain.FleetAlert, error)
	FetchRoutes(ctx context.Context, tenantID string, routeLimit int) ([]store.RouteWithIntegration, error)
	HasCompletedJobSince(ctx context.Context, tenantID string, alertID int64, routeID string, sinceAt any) (bool, error)
	CreateDeliveryJob(ctx context.Context, j domain.DeliveryJob) (bool, error)
}

// RunPrimaryPass dispatches OPEN alerts against every tenant's enabled
// routes, creating at most one job per (alert, route, OPEN) (spec.md §4.3).
func RunPrimaryPass(ctx context.Context, s Store, lookbackMinutes, alertLimit, routeLimit int) (created int, err error) {
	alerts, err := s.FetchOpenAlerts(ctx, lookbackMinutes, alertLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch open alerts: %w", err)
	}

	byTenant := groupByTenant(alerts)
	for tenantID, tenantAlerts := range byTenant {
		routes, err := s.FetchRoutes(ctx, tenantID, routeLimit)
		if err != nil {
			return created, fmt.Errorf("fetch routes for tenant %s: %w", tenantID, err)
		}
		for _, alert := range tenantAlerts {
			for _, rwi := range routes {
				if !RouteMatches(rwi.Route, alert, domain.DeliverOnOpen) {
					continue
				}
				job := domain.DeliveryJob{
					TenantID:       tenantID,
					AlertID:        alert.ID,
					IntegrationID:  rwi.Integration.IntegrationID,
					RouteID:        rwi.Route.RouteID,
					DeliverOnEvent: domain.DeliverOnOpen,
					Payload:        alertPayload(alert, "OPEN"),
				}
				ok, err := s.CreateDeliveryJob(ctx, job)
				if err != nil {
					return created, fmt.Errorf("create job for alert %d route %s: %w", alert.ID, rwi.Route.RouteID, err)
				}
				if ok {
					created++
				}
			}
		}
	}
	return created, nil
}

// RunEscalationPass dispatches recently-escalated alerts, skipping any
// (alert, route) pair already served by a COMPLETED job since escalation
// (spec.md §4.3 Escalation pass). Escalation jobs are inserted under the
// CLOSED deliver_on_event slot — reusing the OPEN slot would collide with
// the job already created by the primary pass for the same alert, and no
// CLOSED-event job exists yet since the alert is still open.
func RunEscalationPass(ctx context.Context, s Store, routeLimit int) (created int, err error) {
	alerts, err := s.FetchRecentlyEscalatedAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch recently escalated alerts: %w", err)
	}

	byTenant := groupByTenant(alerts)
	for tenantID, tenantAlerts := range byTenant {
		routes, err := s.FetchRoutes(ctx, tenantID, routeLimit)
		if err != nil {
			return created, fmt.Errorf("fetch routes for tenant %s: %w", tenantID, err)
		}
		for _, alert := range tenantAlerts {
			for _, rwi := range routes {
				if !RouteMatches(rwi.Route, alert, domain.DeliverOnOpen) {
					continue
				}
				done, err := s.HasCompletedJobSince(ctx, tenantID, alert.ID, rwi.Route.RouteID, alert.EscalatedAt)
				if err != nil {
					return created, fmt.Errorf("check completed job: %w", err)
				}
				if done {
					continue
				}
				job := domain.DeliveryJob{
					TenantID:       tenantID,
					AlertID:        alert.ID,
					IntegrationID:  rwi.Integration.IntegrationID,
					RouteID:        rwi.Route.RouteID,
					DeliverOnEvent: domain.DeliverOnClosed,
					Payload:        alertPayload(alert, "ESCALATED"),
				}
				ok, err := s.CreateDeliveryJob(ctx, job)
				if err != nil {
					return created, fmt.Errorf("create escalation job for alert %d route %s: %w", alert.ID, rwi.Route.RouteID, err)
				}
				if ok {
					created++
				}
			}
		}
	}
	return created, nil
}

func groupByTenant(alerts []domain.FleetAlert) map[string][]domain.FleetAlert {
	out := make(map[string][]domain.FleetAlert)
	for _, a := range alerts {
		out[a.TenantID] = append(out[a.TenantID], a)
	}
	return out
}

func alertPayload(a domain.FleetAlert, eventMarker string) map[string]any {
	return map[string]any{
		"alert_id":     a.ID,
		"event":        eventMarker,
		"tenant_id":    a.TenantID,
		"site_id":      a.SiteID,
		"device_id":    a.DeviceID,
		"alert_type":   a.AlertType,
		"fingerprint":  a.Fingerprint,
		"severity":     a.Severity,
		"confidence":   a.Confidence,
		"summary":      a.Summary,
		"trigger_count": a.TriggerCount,
	}
}
