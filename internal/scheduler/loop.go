package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"relinkd/internal/eventbus"
	"relinkd/internal/refresh"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// run is the single timer goroutine. It sleeps until the earliest armed
// trigger, or until poke() signals that the heap changed. The stop channel is
// passed in rather than read from the struct: Stop nils the field before this
// goroutine necessarily ran, and a nil channel would park the select forever.
func (s *Service) run(stopCh <-chan struct{}) {
	defer s.loopWG.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		s.fireDue()

		s.mu.Lock()
		var wait time.Duration = -1
		if s.heap.Len() > 0 {
			wait = s.heap[0].at.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if wait >= 0 {
			timer.Reset(wait)
		}

		select {
		case <-stopCh:
			if wait >= 0 && !timer.Stop() {
				<-timer.C
			}
			return
		case <-s.wake:
			if wait >= 0 && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// fireDue transitions every due job to Running and dispatches it.
func (s *Service) fireDue() {
	now := s.now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		e := s.entries[s.heap[0].folderID]
		s.disarmLocked(e.folderID)
		// Mark in flight in the same critical section that disarms the
		// entry. A Schedule or Cancel arriving from this instant on sees
		// the cycle as running and parks or no-ops, instead of re-arming a
		// folder whose dispatch is already on its way.
		s.running[e.folderID] = now
		s.mu.Unlock()

		s.fire(e.folderID, e.at)
	}
}

// fire marks one job Running durably and hands it to a dispatch goroutine.
// A store failure drops this cycle; the sweep re-creates the job. The caller
// already put the folder into the running set.
func (s *Service) fire(folderID string, due time.Time) {
	job := storage.Job{
		ID:          storage.JobID(folderID),
		FolderID:    folderID,
		TriggerTime: due,
		State:       storage.StateRunning,
	}
	if err := s.store.Put(context.Background(), job); err != nil {
		s.log.Error("mark running failed, dropping cycle",
			logx.String("folder", folderID), logx.Err(err))
		s.mu.Lock()
		delete(s.running, folderID)
		next, parked := s.pending[folderID]
		delete(s.pending, folderID)
		s.mu.Unlock()
		// A schedule parked during the failed transition still has to land.
		if parked {
			if err := s.armDurably(context.Background(), folderID, next); err != nil {
				s.log.Error("re-arm parked schedule failed, sweep will repair",
					logx.String("folder", folderID), logx.Err(err))
			}
		}
		return
	}

	s.inflight.Add(1)
	go s.dispatch(folderID)
}

// dispatch runs one refresh cycle on its own goroutine so a slow folder never
// delays the others. The cycle gets a fresh context: shutdown waits for it
// instead of cancelling it.
func (s *Service) dispatch(folderID string) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("refresh panic",
				logx.String("folder", folderID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			s.complete(folderID, refresh.Outcome{}, nil)
		}
	}()

	ctx := context.Background()
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}

	s.publish(eventbus.Event{Type: eventbus.TypeRefreshStarted, FolderID: folderID})
	started := s.now()
	out, err := s.exec.Refresh(ctx, folderID)

	item := HistoryItem{
		RunID:     out.RunID,
		FolderID:  folderID,
		Started:   started,
		Duration:  s.now().Sub(started),
		Succeeded: out.Succeeded,
		Failed:    out.Failed,
	}
	typ := eventbus.TypeRefreshFinished
	if err != nil {
		item.Error = err.Error()
		typ = eventbus.TypeRefreshFailed
	}
	s.recordHistory(item)
	s.publish(eventbus.Event{Type: typ, FolderID: folderID, Data: item})

	s.complete(folderID, out, err)
}

// complete removes the finished job and arms the folder's next cycle. A
// schedule request that arrived while the cycle was in flight wins over the
// planner's answer.
func (s *Service) complete(folderID string, out refresh.Outcome, runErr error) {
	jobID := storage.JobID(folderID)
	ctx := context.Background()

	s.mu.Lock()
	delete(s.running, folderID)
	next, havePending := s.pending[folderID]
	delete(s.pending, folderID)
	planner := s.planner
	s.mu.Unlock()

	if !havePending {
		if err := s.store.Remove(ctx, jobID); err != nil {
			s.log.Error("remove completed job failed",
				logx.String("folder", folderID), logx.Err(err))
			return
		}

		tracked, err := planner.Tracked(ctx, folderID)
		if err != nil {
			// Can't tell whether the folder still exists; leave it
			// unscheduled and let the sweep decide.
			s.log.Warn("tracked check failed after refresh",
				logx.String("folder", folderID), logx.Err(err))
			return
		}
		if !tracked {
			s.log.Debug("folder no longer tracked, not rescheduling",
				logx.String("folder", folderID))
			return
		}
		next = planner.NextDueFor(folderID)
	}

	if err := s.armDurably(ctx, folderID, next); err != nil {
		s.log.Error("reschedule failed, sweep will repair",
			logx.String("folder", folderID), logx.Err(err))
		return
	}
	s.log.Debug("folder rescheduled",
		logx.String("folder", folderID),
		logx.Time("at", next),
		logx.Int("succeeded", out.Succeeded),
		logx.Int("failed", out.Failed),
		logx.Bool("had_error", runErr != nil))
}

// armDurably persists a Scheduled job and arms the in-memory timer for it.
func (s *Service) armDurably(ctx context.Context, folderID string, at time.Time) error {
	job := storage.Job{
		ID:          storage.JobID(folderID),
		FolderID:    folderID,
		TriggerTime: at,
		State:       storage.StateScheduled,
	}
	if err := s.store.Put(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	s.armLocked(folderID, at)
	s.mu.Unlock()
	s.poke()

	s.publish(eventbus.Event{Type: eventbus.TypeJobScheduled, FolderID: folderID, Data: at})
	return nil
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *Service) recordHistory(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if n := len(s.history) - s.cfg.HistorySize; n > 0 {
		s.history = append(s.history[:0], s.history[n:]...)
	}
}
