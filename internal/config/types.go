package config

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "20h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Catalog   CatalogConfig   `json:"catalog"`
	Drive     DriveConfig     `json:"drive"`
	Refresh   RefreshConfig   `json:"refresh"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig locates the durable job store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// CatalogConfig locates the folder registry file.
type CatalogConfig struct {
	Path string `json:"path"`
}

// DriveConfig holds the remote account session settings.
type DriveConfig struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"` // never logged
	// Timeout bounds each HTTP request; default 30s.
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec smooths outgoing requests; 0 disables smoothing.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RefreshConfig holds the refresh cadence and the account-wide call budget.
//
// Defaults (when fields are omitted/zero):
//   - interval: "20h"
//   - grace_period: "1m"
//   - min_delay: "1m"
//   - batch_size: 3
//   - batch_pause: "8s"
//   - item_timeout: "0s" (disabled)
type RefreshConfig struct {
	Interval    string `json:"interval,omitempty"`
	GracePeriod string `json:"grace_period,omitempty"`
	MinDelay    string `json:"min_delay,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	BatchPause  string `json:"batch_pause,omitempty"`
	ItemTimeout string `json:"item_timeout,omitempty"`
}

// SchedulerConfig controls the timer loop service.
//
// Defaults: sweep_every "6h", dispatch_timeout "0s" (disabled),
// history_size 100.
type SchedulerConfig struct {
	SweepEvery      string `json:"sweep_every,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}
