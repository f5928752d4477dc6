package scheduler

import (
	"context"
	"time"

	"relinkd/internal/eventbus"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// Schedule arms (or re-arms) the folder's single job at the given time. A
// second call for the same folder replaces the first; the job id is
// deterministic, so the store write is a plain upsert.
//
// If the folder's cycle is currently in flight, the request is parked and
// applied when the cycle completes, replacing the planner's own reschedule.
func (s *Service) Schedule(ctx context.Context, folderID string, at time.Time) error {
	s.mu.Lock()
	if _, inflight := s.running[folderID]; inflight {
		s.pending[folderID] = at
		s.mu.Unlock()
		s.log.Debug("schedule deferred, cycle in flight",
			logx.String("folder", folderID), logx.Time("at", at))
		return nil
	}
	s.mu.Unlock()

	return s.armDurably(ctx, folderID, at)
}

// ScheduleNow queues a manual refresh after the minimum delay and returns the
// trigger time.
func (s *Service) ScheduleNow(ctx context.Context, folderID string) (time.Time, error) {
	at := s.now().Add(s.cfg.MinDelay)
	if err := s.Schedule(ctx, folderID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// InFlight reports whether a refresh cycle for the folder is running right
// now. The reconciler uses it to tell a live Running row from a stale one
// left behind by a failed completion write.
func (s *Service) InFlight(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[folderID]
	return ok
}

// Cancel removes the folder's unfired job, if any. An in-flight cycle is
// never interrupted; cancelling while one runs only discards the parked
// follow-up schedule. The bool reports whether anything was cancelled.
func (s *Service) Cancel(ctx context.Context, folderID string) (bool, error) {
	s.mu.Lock()
	_, inflight := s.running[folderID]
	_, hadPending := s.pending[folderID]
	delete(s.pending, folderID)
	disarmed := s.disarmLocked(folderID)
	s.mu.Unlock()

	if inflight {
		return hadPending, nil
	}
	if !disarmed {
		return false, nil
	}
	if err := s.store.Remove(ctx, storage.JobID(folderID)); err != nil {
		return true, err
	}
	s.poke()
	s.publish(eventbus.Event{Type: eventbus.TypeJobCancelled, FolderID: folderID})
	s.log.Debug("job cancelled", logx.String("folder", folderID))
	return true, nil
}
