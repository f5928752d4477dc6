package scheduler

import (
	"sort"

	"relinkd/internal/storage"
)

// Snapshot returns the operational view: every live job ordered by trigger
// time (in-flight cycles use their fire time) plus the recent completion
// history, oldest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.stopCh != nil,
		InFlight: len(s.running),
		Jobs:     make([]JobInfo, 0, len(s.entries)+len(s.running)),
	}
	for id, e := range s.entries {
		snap.Jobs = append(snap.Jobs, JobInfo{
			FolderID:    id,
			State:       storage.StateScheduled,
			TriggerTime: e.at,
		})
	}
	for id, firedAt := range s.running {
		snap.Jobs = append(snap.Jobs, JobInfo{
			FolderID:    id,
			State:       storage.StateRunning,
			TriggerTime: firedAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(snap.Jobs, func(i, j int) bool {
		a, b := snap.Jobs[i], snap.Jobs[j]
		if !a.TriggerTime.Equal(b.TriggerTime) {
			return a.TriggerTime.Before(b.TriggerTime)
		}
		return a.FolderID < b.FolderID
	})

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

// NextTrigger reports the earliest armed trigger, if any.
func (s *Service) NextTrigger() (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return JobInfo{}, false
	}
	e := s.heap[0]
	return JobInfo{FolderID: e.folderID, State: storage.StateScheduled, TriggerTime: e.at}, true
}
