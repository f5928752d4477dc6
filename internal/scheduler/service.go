package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"relinkd/internal/eventbus"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// New builds the scheduler service. Call SetPlanner before Start.
func New(cfg Config, store storage.Store, exec Executor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		cfg:     cfg.withDefaults(),
		store:   store,
		exec:    exec,
		bus:     bus,
		entries: map[string]*entry{},
		running: map[string]time.Time{},
		pending: map[string]time.Time{},
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetPlanner injects the reconciler. Must be called before Start.
func (s *Service) SetPlanner(p Planner) {
	s.mu.Lock()
	s.planner = p
	s.mu.Unlock()
}

// Start reloads persisted jobs, runs an initial reconciliation, starts the
// timer loop and the periodic sweep. Calling Start on a running service is a
// no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	if s.planner == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: planner not set")
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		s.mu.Lock()
		s.stopCh = nil
		s.mu.Unlock()
		return fmt.Errorf("reload jobs: %w", err)
	}

	// Align the store with the tracked-folder set before the loop starts
	// firing anything. A reconcile failure here is not fatal; the sweep
	// retries it.
	if err := s.planner.ReconcileAll(ctx); err != nil {
		s.log.Warn("initial reconcile failed", logx.Err(err))
	}

	// Register the sweep before the loop goroutine exists, so a bad spec
	// leaves nothing running behind the error return.
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SweepEvery)
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		s.mu.Lock()
		s.stopCh = nil
		s.mu.Unlock()
		return fmt.Errorf("register sweep %q: %w", spec, err)
	}

	s.loopWG.Add(1)
	go s.run(stopCh)

	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	s.log.Info("scheduler started",
		logx.Int("jobs", s.armedCount()),
		logx.Duration("sweep_every", s.cfg.SweepEvery))
	return nil
}

// Stop halts the timer loop and the sweep, then waits for in-flight refresh
// cycles to finish. It never cancels a running cycle.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	close(stopCh)
	s.loopWG.Wait()
	s.inflight.Wait()
	s.log.Info("scheduler stopped")
}

// reload rebuilds the in-memory heap from the store. Jobs persisted in state
// Running belong to a cycle interrupted by a crash; they are re-armed after
// MinDelay instead of being resumed.
func (s *Service) reload(ctx context.Context) error {
	jobs, err := s.store.ListAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rearmed := 0
	for _, j := range jobs {
		switch j.State {
		case storage.StateScheduled:
			s.armLocked(j.FolderID, j.TriggerTime)
		case storage.StateRunning:
			at := s.now().Add(s.cfg.MinDelay)
			if err := s.store.Put(ctx, storage.Job{
				ID:          j.ID,
				FolderID:    j.FolderID,
				TriggerTime: at,
				State:       storage.StateScheduled,
			}); err != nil {
				return err
			}
			s.armLocked(j.FolderID, at)
			rearmed++
		default:
			// Terminal rows are an artifact of an interrupted completion;
			// drop them.
			if err := s.store.Remove(ctx, j.ID); err != nil {
				return err
			}
		}
	}
	if rearmed > 0 {
		s.log.Info("re-armed interrupted jobs", logx.Int("count", rearmed))
	}
	return nil
}

// armLocked inserts or moves the in-memory entry for a folder. Caller holds mu.
func (s *Service) armLocked(folderID string, at time.Time) {
	if e, ok := s.entries[folderID]; ok {
		e.at = at
		heap.Fix(&s.heap, e.index)
		return
	}
	e := &entry{folderID: folderID, at: at}
	s.entries[folderID] = e
	heap.Push(&s.heap, e)
}

// disarmLocked removes the in-memory entry if present. Caller holds mu.
func (s *Service) disarmLocked(folderID string) bool {
	e, ok := s.entries[folderID]
	if !ok {
		return false
	}
	delete(s.entries, folderID)
	heap.Remove(&s.heap, e.index)
	return true
}

func (s *Service) armedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// poke wakes the timer loop after the heap changed.
func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// sweep runs one reconciliation pass on the cron schedule.
func (s *Service) sweep() {
	s.mu.Lock()
	p := s.planner
	stopped := s.stopCh == nil
	s.mu.Unlock()
	if stopped || p == nil {
		return
	}
	if err := p.ReconcileAll(context.Background()); err != nil {
		s.log.Warn("reconcile sweep failed", logx.Err(err))
	}
}
