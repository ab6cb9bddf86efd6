package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/saltyorg/dataplow/internal/config"
	"github.com/saltyorg/dataplow/internal/logging"
)

// GetSetting retrieves a setting value by key ("" when unset)
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.pool.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.pool.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetAllSettings retrieves all settings
func (db *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.pool.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}

	return settings, rows.Err()
}

// DeleteSetting removes a setting
func (db *DB) DeleteSetting(key string) error {
	if _, err := db.pool.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// DefaultSettings are written by InitializeDefaults when absent.
var DefaultSettings = map[string]any{
	"log.max_size_mb":     logging.DefaultMaxSizeMB,
	"log.max_backups":     logging.DefaultMaxBackups,
	"log.max_age_days":    logging.DefaultMaxAgeDays,
	"log.compress":        logging.DefaultCompress,
	config.KeyMaxAttempts: config.DefaultMaxAttempts,
	config.KeyBaseDelay:   config.DefaultBaseDelay,
	config.KeyPageSize:    config.DefaultPageSize,
	config.KeyFetchRate:   0, // pages per second, 0 = unlimited
	config.KeyCacheClear:  config.ScheduleOff,
	config.KeyMaintenance: config.DefaultMaintenanceSchedule,
}

// InitializeDefaults sets default values for settings that don't exist
func (db *DB) InitializeDefaults() error {
	for key, value := range DefaultSettings {
		existing, err := db.GetSetting(key)
		if err != nil {
			return err
		}
		if existing != "" {
			continue
		}
		if err := db.SetSetting(key, fmt.Sprint(value)); err != nil {
			return err
		}
	}
	return nil
}
