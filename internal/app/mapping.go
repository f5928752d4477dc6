package app

import (
	"time"

	"relinkd/internal/config"
	"relinkd/internal/drive"
	"relinkd/internal/reconcile"
	"relinkd/internal/refresh"
	"relinkd/internal/scheduler"
	"relinkd/internal/storage"
)

// Default constants, used when the corresponding config field is omitted.
const (
	defaultInterval    = 20 * time.Hour
	defaultGracePeriod = time.Minute
	defaultMinDelay    = time.Minute
	defaultBatchSize   = 3
	defaultBatchPause  = 8 * time.Second
	defaultSweepEvery  = 6 * time.Hour
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDriveConfig(cfg *config.Config) (drive.Config, error) {
	timeout, err := config.ParseDurationField("drive.timeout", cfg.Drive.Timeout)
	if err != nil {
		return drive.Config{}, err
	}
	return drive.Config{
		BaseURL:    cfg.Drive.BaseURL,
		Username:   cfg.Drive.Username,
		Password:   cfg.Drive.Password,
		Timeout:    timeout,
		RatePerSec: cfg.Drive.RatePerSec,
	}, nil
}

// mapPacerConfig returns the account-wide call budget: batch size and pause.
func mapPacerConfig(cfg *config.Config) (int, time.Duration, error) {
	pause, err := config.ParseDurationOrDefault("refresh.batch_pause", cfg.Refresh.BatchPause, defaultBatchPause)
	if err != nil {
		return 0, 0, err
	}
	batch := cfg.Refresh.BatchSize
	if batch == 0 {
		batch = defaultBatchSize
	}
	if batch < 0 {
		batch = 0
	}
	return batch, pause, nil
}

func mapRefreshConfig(cfg *config.Config) (refresh.Config, error) {
	itemTimeout, err := config.ParseDurationField("refresh.item_timeout", cfg.Refresh.ItemTimeout)
	if err != nil {
		return refresh.Config{}, err
	}
	return refresh.Config{ItemTimeout: itemTimeout}, nil
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	interval, err := config.ParseDurationOrDefault("refresh.interval", cfg.Refresh.Interval, defaultInterval)
	if err != nil {
		return reconcile.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("refresh.grace_period", cfg.Refresh.GracePeriod, defaultGracePeriod)
	if err != nil {
		return reconcile.Config{}, err
	}
	minDelay, err := config.ParseDurationOrDefault("refresh.min_delay", cfg.Refresh.MinDelay, defaultMinDelay)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		Interval:    interval,
		GracePeriod: grace,
		MinDelay:    minDelay,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	minDelay, err := config.ParseDurationOrDefault("refresh.min_delay", cfg.Refresh.MinDelay, defaultMinDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_every", cfg.Scheduler.SweepEvery, defaultSweepEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	dispatch, err := config.ParseDurationField("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		MinDelay:        minDelay,
		SweepEvery:      sweep,
		DispatchTimeout: dispatch,
		HistorySize:     cfg.Scheduler.HistorySize,
	}, nil
}
