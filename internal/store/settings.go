package store

import (
	"context"
	"fmt"

	"pulse/internal/domain"
)

// LoadSettings reads the singleton app_settings row into a domain.Settings
// snapshot. Implements config.SettingsLoader.
func (p *Pool) LoadSettings(ctx context.Context) (domain.Settings, error) {
	row := p.QueryRow(ctx, `
		SELECT mode, store_rejects, mirror_rejects_to_raw, max_payload_bytes,
		       rate_limit_rps, rate_limit_burst
		FROM app_settings
		LIMIT 1
	`)
	var s domain.Settings
	var mode string
	if err := row.Scan(&mode, &s.StoreRejects, &s.MirrorRejectsToRaw, &s.MaxPayloadBytes,
		&s.RateLimitRPS, &s.RateLimitBurst); err != nil {
		return domain.Settings{}, fmt.Errorf("load app_settings: %w", err)
	}
	s.Mode = domain.Mode(mode)
	return s, nil
}
