package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse/internal/domain"
)

// FetchDeviceRegistry loads one device's registry row, used by ingest on
// an auth-cache miss.
func (p *Pool) FetchDeviceRegistry(ctx context.Context, tenantID, deviceID string) (domain.DeviceRegistryEntry, bool, error) {
	row := p.QueryRow(ctx, `
		SELECT tenant_id, device_id, site_id, status, provision_token_hash, metadata
		FROM device_registry
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID)

	var e domain.DeviceRegistryEntry
	var metaRaw []byte
	if err := row.Scan(&e.TenantID, &e.DeviceID, &e.SiteID, &e.Status, &e.ProvisionTokenHash, &metaRaw); err != nil {
		if err.Error() == "no rows in result set" {
			return domain.DeviceRegistryEntry{}, false, nil
		}
		return domain.DeviceRegistryEntry{}, false, fmt.Errorf("fetch device registry: %w", err)
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &e.Metadata)
	}
	return e, true, nil
}

// AutoProvisionDevice inserts a new ACTIVE registry row for a device seen
// for the first time, only called when AUTO_PROVISION is enabled.
func (p *Pool) AutoProvisionDevice(ctx context.Context, tenantID, deviceID, siteID string) (domain.DeviceRegistryEntry, error) {
	e := domain.DeviceRegistryEntry{TenantID: tenantID, DeviceID: deviceID, SiteID: siteID, Status: domain.DeviceActive}
	_, err := p.Exec(ctx, `
		INSERT INTO device_registry (tenant_id, device_id, site_id, status)
		VALUES ($1, $2, $3, 'ACTIVE')
		ON CONFLICT (tenant_id, device_id) DO NOTHING
	`, tenantID, deviceID, siteID)
	if err != nil {
		return domain.DeviceRegistryEntry{}, fmt.Errorf("auto-provision device: %w", err)
	}
	return e, nil
}
