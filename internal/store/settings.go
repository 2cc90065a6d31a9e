package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// GetSetting reads one per-tenant configuration value, returning the default
// when the tenant has no override. Tenant scoping is always explicit; there
// is no ambient current-tenant state.
func (s *Store) GetSetting(ctx context.Context, tenantID int64, group, key, defaultVal string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, s.db, &value, `
		SELECT setting_value FROM tenant_settings
		WHERE tenant_id = $1 AND setting_group = $2 AND setting_key = $3`,
		tenantID, group, key)
	if err == sql.ErrNoRows {
		return defaultVal, nil
	}
	if err != nil {
		return defaultVal, err
	}
	return value, nil
}

// GetSettingInt reads an integer setting, falling back to the default on
// missing or malformed values.
func (s *Store) GetSettingInt(ctx context.Context, tenantID int64, group, key string, defaultVal int) (int, error) {
	raw, err := s.GetSetting(ctx, tenantID, group, key, "")
	if err != nil {
		return defaultVal, err
	}
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal, nil
	}
	return n, nil
}

// GetSettingFloat reads a float setting with the same fallback behavior.
func (s *Store) GetSettingFloat(ctx context.Context, tenantID int64, group, key string, defaultVal float64) (float64, error) {
	raw, err := s.GetSetting(ctx, tenantID, group, key, "")
	if err != nil {
		return defaultVal, err
	}
	if raw == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultVal, nil
	}
	return f, nil
}

// GetSettingBool reads a boolean setting with the same fallback behavior.
func (s *Store) GetSettingBool(ctx context.Context, tenantID int64, group, key string, defaultVal bool) (bool, error) {
	raw, err := s.GetSetting(ctx, tenantID, group, key, "")
	if err != nil {
		return defaultVal, err
	}
	if raw == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultVal, nil
	}
	return b, nil
}

// UpsertSetting writes one per-tenant configuration value.
func (s *Store) UpsertSetting(ctx context.Context, tenantID int64, group, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, setting_group, setting_key, setting_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, setting_group, setting_key) DO UPDATE SET
			setting_value = EXCLUDED.setting_value,
			updated_at    = NOW()`,
		tenantID, group, key, value)
	return err
}
