package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the fields the process cannot start (or hot-reload) without.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	if strings.TrimSpace(c.Drive.BaseURL) == "" {
		errs = append(errs, errors.New("drive.base_url is required"))
	}
	if c.Refresh.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("refresh.batch_size must be >= 0, got %d", c.Refresh.BatchSize))
	}
	if c.Drive.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("drive.rate_per_sec must be >= 0, got %d", c.Drive.RatePerSec))
	}

	for field, raw := range map[string]string{
		"storage.busy_timeout":       c.Storage.BusyTimeout,
		"drive.timeout":              c.Drive.Timeout,
		"refresh.interval":           c.Refresh.Interval,
		"refresh.grace_period":       c.Refresh.GracePeriod,
		"refresh.min_delay":          c.Refresh.MinDelay,
		"refresh.batch_pause":        c.Refresh.BatchPause,
		"refresh.item_timeout":       c.Refresh.ItemTimeout,
		"scheduler.sweep_every":      c.Scheduler.SweepEvery,
		"scheduler.dispatch_timeout": c.Scheduler.DispatchTimeout,
	} {
		if _, err := ParseDurationField(field, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
