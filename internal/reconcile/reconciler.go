// Package reconcile keeps the job store aligned with the tracked-folder set
// and owns the due-time policy: how long after a refresh the next one runs,
// how fast a brand-new folder gets its first cycle, and how overdue folders
// are clamped so they fire soon instead of never.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"relinkd/internal/catalog"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// Config holds the due-time policy constants.
type Config struct {
	// Interval is the fixed refresh cadence per folder.
	Interval time.Duration
	// GracePeriod delays a never-refreshed folder's first cycle slightly, so
	// a bulk import does not fire everything at once.
	GracePeriod time.Duration
	// MinDelay clamps past-due targets into the near future.
	MinDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Hour
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = time.Minute
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Minute
	}
	return c
}

// JobControl is the slice of the scheduler the reconciler drives. InFlight
// distinguishes a genuinely running cycle from a Running row orphaned by a
// failed completion write; only the former is left alone.
type JobControl interface {
	Schedule(ctx context.Context, folderID string, at time.Time) error
	Cancel(ctx context.Context, folderID string) (bool, error)
	InFlight(folderID string) bool
}

// Reconciler aligns stored jobs with the folder registry.
type Reconciler struct {
	log   logx.Logger
	cfg   Config
	cat   catalog.Catalog
	store storage.Store
	jobs  JobControl

	now func() time.Time
}

func New(cfg Config, cat catalog.Catalog, store storage.Store, jobs JobControl, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		log:   log,
		cfg:   cfg.withDefaults(),
		cat:   cat,
		store: store,
		jobs:  jobs,
		now:   time.Now,
	}
}

// ReconcileAll aligns the job store with the current folder set.
//
// Folders with at least one item get a job if they lack one; existing jobs
// are pulled earlier when the policy target is sooner, but never pushed
// later, which keeps a second back-to-back run mutation-free. Jobs whose
// folder is gone are cancelled, except ones with a cycle actually in flight
// (their post-completion path checks membership itself). Running rows with no
// live cycle behind them are drift from a failed completion write; the sweep
// reschedules or removes them.
//
// If the registry cannot be enumerated at all, nothing is cancelled: absence
// of evidence is not evidence of absence.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	folders, err := r.cat.Folders(ctx)
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}

	eligible := make(map[string]catalog.Folder, len(folders))
	for _, f := range folders {
		if len(f.Items) > 0 {
			eligible[f.ID] = f
		}
	}

	jobs, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	var scheduled, cancelled int
	byFolder := make(map[string]storage.Job, len(jobs))
	for _, j := range jobs {
		if j.ID != storage.JobID(j.FolderID) {
			// Foreign or corrupt row; the deterministic id is canonical.
			r.log.Warn("removing job with non-canonical id", logx.String("job", j.ID))
			if err := r.store.Remove(ctx, j.ID); err != nil {
				r.log.Error("remove non-canonical job failed", logx.String("job", j.ID), logx.Err(err))
			}
			continue
		}
		byFolder[j.FolderID] = j

		if _, ok := eligible[j.FolderID]; ok {
			continue
		}
		if j.State == storage.StateRunning {
			if r.jobs.InFlight(j.FolderID) {
				// A real cycle; its completion path checks membership itself.
				continue
			}
			// Stale row from a completion that failed to clear it. There is
			// no armed timer to cancel, so remove the row directly.
			r.log.Warn("removing stale running job for vanished folder",
				logx.String("folder", j.FolderID))
			if err := r.store.Remove(ctx, j.ID); err != nil {
				r.log.Error("remove stale job failed", logx.String("folder", j.FolderID), logx.Err(err))
				continue
			}
			cancelled++
			continue
		}
		if _, err := r.jobs.Cancel(ctx, j.FolderID); err != nil {
			r.log.Error("cancel orphan job failed", logx.String("folder", j.FolderID), logx.Err(err))
			continue
		}
		cancelled++
	}

	for id, f := range eligible {
		target := r.targetFor(f)
		if existing, ok := byFolder[id]; ok {
			if existing.State == storage.StateRunning {
				if r.jobs.InFlight(id) {
					continue
				}
				// Stale Running row: the folder has no live cycle and no
				// armed timer, so it would never refresh again. Reschedule
				// it regardless of the old trigger time.
			} else if !existing.TriggerTime.After(target) {
				continue
			}
		}
		if err := r.jobs.Schedule(ctx, id, target); err != nil {
			r.log.Error("schedule failed", logx.String("folder", id), logx.Err(err))
			continue
		}
		scheduled++
	}

	if scheduled > 0 || cancelled > 0 {
		r.log.Info("reconciled jobs",
			logx.Int("folders", len(eligible)),
			logx.Int("scheduled", scheduled),
			logx.Int("cancelled", cancelled))
	} else {
		r.log.Debug("reconcile made no changes", logx.Int("folders", len(eligible)))
	}
	return nil
}

// NextDueFor anchors the next cycle at now, not at the previous due time, so
// a delayed refresh does not compound drift.
func (r *Reconciler) NextDueFor(folderID string) time.Time {
	return r.now().Add(r.cfg.Interval)
}

// Tracked reports whether the folder still exists with at least one item.
func (r *Reconciler) Tracked(ctx context.Context, folderID string) (bool, error) {
	items, err := r.cat.Items(ctx, folderID)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// targetFor computes the policy due time for one folder.
func (r *Reconciler) targetFor(f catalog.Folder) time.Time {
	now := r.now()
	if f.LastRefresh == nil {
		return now.Add(r.cfg.GracePeriod)
	}
	due := f.LastRefresh.Add(r.cfg.Interval)
	if due.Before(now) {
		return now.Add(r.cfg.MinDelay)
	}
	return due
}
