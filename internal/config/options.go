package config

import (
	"fmt"
	"strings"
	"time"
)

// Setting keys for the data-access options.
const (
	KeyMaxAttempts = "retry.max_attempts"
	KeyBaseDelay   = "retry.base_delay"
	KeyPageSize    = "pager.page_size"
	KeyFetchRate   = "pager.fetch_rate"
	KeyCacheClear  = "cache.clear_schedule"
	KeyMaintenance = "maintenance.schedule"
)

// Defaults for Options.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultPageSize    = 100

	DefaultMaintenanceSchedule = "@daily"

	// ScheduleOff disables a scheduled job.
	ScheduleOff = "off"
)

// Options configures retry, paging and background jobs.
type Options struct {
	// MaxAttempts bounds the attempts made by the retry policy (>= 1).
	MaxAttempts int

	// BaseDelay is the fixed wait between retry attempts.
	BaseDelay time.Duration

	// PageSize is the number of rows per pager page (> 0).
	PageSize int

	// FetchRate limits pager fetches per second. 0 disables the limit.
	FetchRate float64

	// CacheClearSchedule is a cron spec for clearing the result cache.
	// Empty means the cache is only cleared on request.
	CacheClearSchedule string

	// MaintenanceSchedule is a cron spec for PRAGMA optimize. Empty disables
	// it; the stored value "off" loads as empty.
	MaintenanceSchedule string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		PageSize:    DefaultPageSize,

		MaintenanceSchedule: DefaultMaintenanceSchedule,
	}
}

// LoadOptions reads options from stored settings, falling back to defaults.
func LoadOptions(l *Loader) Options {
	def := DefaultOptions()
	return Options{
		MaxAttempts:         l.Int(KeyMaxAttempts, def.MaxAttempts),
		BaseDelay:           l.Duration(KeyBaseDelay, def.BaseDelay),
		PageSize:            l.Int(KeyPageSize, def.PageSize),
		FetchRate:           l.Float64(KeyFetchRate, def.FetchRate),
		CacheClearSchedule:  schedule(l.String(KeyCacheClear, def.CacheClearSchedule)),
		MaintenanceSchedule: schedule(l.String(KeyMaintenance, def.MaintenanceSchedule)),
	}
}

func schedule(spec string) string {
	if strings.EqualFold(spec, ScheduleOff) {
		return ""
	}
	return spec
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyMaxAttempts, o.MaxAttempts)
	}
	if o.BaseDelay < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyBaseDelay, o.BaseDelay)
	}
	if o.PageSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyPageSize, o.PageSize)
	}
	if o.FetchRate < 0 {
		return fmt.Errorf("%s must not be negative, got %g", KeyFetchRate, o.FetchRate)
	}
	return nil
}
