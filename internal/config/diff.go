package config

import (
	"sort"
	"strings"

	"relinkd/pkg/logx"
)

// SummarizeChange returns the changed section names plus structured attrs
// safe for logging (credentials are reported only as set/unset).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Bool("catalog.path_set", strings.TrimSpace(newCfg.Catalog.Path) != ""),
		)
	}

	// Drive (never log the password).
	if oldCfg.Drive != newCfg.Drive {
		changed = append(changed, "drive")
		attrs = append(attrs,
			logx.String("drive.base_url", strings.TrimSpace(newCfg.Drive.BaseURL)),
			logx.String("drive.username", strings.TrimSpace(newCfg.Drive.Username)),
			logx.Bool("drive.password_set", newCfg.Drive.Password != ""),
			logx.String("drive.timeout", strings.TrimSpace(newCfg.Drive.Timeout)),
			logx.Int("drive.rate_per_sec", newCfg.Drive.RatePerSec),
		)
	}

	if oldCfg.Refresh != newCfg.Refresh {
		changed = append(changed, "refresh")
		attrs = append(attrs,
			logx.String("refresh.interval", strings.TrimSpace(newCfg.Refresh.Interval)),
			logx.String("refresh.grace_period", strings.TrimSpace(newCfg.Refresh.GracePeriod)),
			logx.String("refresh.min_delay", strings.TrimSpace(newCfg.Refresh.MinDelay)),
			logx.Int("refresh.batch_size", newCfg.Refresh.BatchSize),
			logx.String("refresh.batch_pause", strings.TrimSpace(newCfg.Refresh.BatchPause)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.sweep_every", strings.TrimSpace(newCfg.Scheduler.SweepEvery)),
			logx.String("scheduler.dispatch_timeout", strings.TrimSpace(newCfg.Scheduler.DispatchTimeout)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
