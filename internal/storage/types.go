package storage

import (
	"errors"
	"strings"
	"time"
)

var ErrClosed = errors.New("job store closed")

// State is the lifecycle state of a refresh job.
//
// Scheduled and Running are the non-terminal states; at most one job in a
// non-terminal state exists per folder at any time (enforced by the
// deterministic job id plus upsert semantics in Put).
type State string

const (
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// JobIDPrefix builds the deterministic job id for a folder. One folder maps
// to exactly one job id, which is what makes "reschedule" a plain upsert.
const jobIDPrefix = "refresh:"

func JobID(folderID string) string { return jobIDPrefix + folderID }

// FolderIDFromJob is the inverse of JobID; it returns "" for foreign ids.
func FolderIDFromJob(jobID string) string {
	if !strings.HasPrefix(jobID, jobIDPrefix) {
		return ""
	}
	return jobID[len(jobIDPrefix):]
}

// Job is one persisted unit of scheduled work, bound to a single folder.
type Job struct {
	ID          string
	FolderID    string
	TriggerTime time.Time
	State       State
}

// Config configures the job store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}
