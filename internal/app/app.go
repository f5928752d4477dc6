// Package app wires the scheduler core together: config, logging, the job
// store, the folder catalog, the drive session, and the services on top. One
// App instance is constructed at boot and injected wherever control calls
// (sync, manual refresh, reconcile) are needed.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relinkd/internal/catalog"
	"relinkd/internal/config"
	"relinkd/internal/drive"
	"relinkd/internal/eventbus"
	"relinkd/internal/reconcile"
	"relinkd/internal/refresh"
	"relinkd/internal/runtime/supervisor"
	"relinkd/internal/scheduler"
	"relinkd/internal/storage"
	"relinkd/internal/syncer"
	"relinkd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	cat   catalog.Catalog
	drive *drive.Client

	pacer *refresh.Pacer
	exec  *refresh.Executor
	rec   *reconcile.Reconciler
	sched *scheduler.Service
	sync  *syncer.Syncer

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	cat, err := catalog.OpenFile(cfg.Catalog.Path, log.With(logx.String("comp", "catalog")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	driveCfg, err := mapDriveConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	driveCl, err := drive.New(driveCfg, log.With(logx.String("comp", "drive")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	batch, pause, err := mapPacerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pacer := refresh.NewPacer(batch, pause, log.With(logx.String("comp", "pacer")))

	refreshCfg, err := mapRefreshConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exec := refresh.NewExecutor(refreshCfg, cat, driveCl, pacer, log.With(logx.String("comp", "refresh")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, exec, bus, log.With(logx.String("comp", "scheduler")))

	recCfg, err := mapReconcileConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rec := reconcile.New(recCfg, cat, store, sched, log.With(logx.String("comp", "reconcile")))
	sched.SetPlanner(rec)

	syn := syncer.New(driveCl, cat, rec, pacer, bus, log.With(logx.String("comp", "sync")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		cat:     cat,
		drive:   driveCl,
		pacer:   pacer,
		exec:    exec,
		rec:     rec,
		sched:   sched,
		sync:    syn,
	}, nil
}

// Scheduler exposes the control surface for callers that trigger refreshes.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Sync runs one account sync followed by reconciliation.
func (a *App) Sync(ctx context.Context) (syncer.Report, error) {
	return a.sync.Sync(ctx)
}

// ReconcileAll realigns the job store with the tracked-folder set.
func (a *App) ReconcileAll(ctx context.Context) error {
	return a.rec.ReconcileAll(ctx)
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	// First account sync runs in the background so a slow or unreachable
	// remote never blocks startup; the store already has last session's jobs.
	a.sup.Go0("sync.initial", func(c context.Context) {
		if _, err := a.sync.Sync(c); err != nil {
			a.log.Warn("initial sync failed", logx.Err(err))
		}
	})

	// Event log at debug level; components subscribe themselves if they need
	// more than visibility.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("folder", e.FolderID),
					logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies what can change live (logging) and flags the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "storage", "catalog", "drive", "refresh", "scheduler":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	// Scheduler first: it waits for in-flight refreshes, which still need the
	// store and catalog below.
	step("scheduler", 30*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
