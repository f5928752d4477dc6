package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relinkd/internal/eventbus"
	"relinkd/internal/refresh"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	// MinDelay is the arming delay for overdue and manually forced jobs,
	// so a burst of due folders does not fire in the same instant the
	// process starts.
	MinDelay time.Duration
	// SweepEvery is the period of the reconciliation sweep that repairs
	// drift between the job store and the tracked-folder set.
	SweepEvery time.Duration
	// DispatchTimeout bounds one refresh cycle end to end. 0 disables it.
	DispatchTimeout time.Duration
	// HistorySize caps the in-memory completion history (default 100).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 6 * time.Hour
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Executor runs one refresh cycle for one folder. The scheduler guarantees it
// is never invoked concurrently for the same folder.
type Executor interface {
	Refresh(ctx context.Context, folderID string) (refresh.Outcome, error)
}

// Planner decides when each folder should next refresh and whether it is
// still tracked. Implemented by the reconciler; injected after construction
// to keep the dependency one-directional.
type Planner interface {
	ReconcileAll(ctx context.Context) error
	NextDueFor(folderID string) time.Time
	Tracked(ctx context.Context, folderID string) (bool, error)
}

// entry is one armed job in the in-memory heap.
type entry struct {
	folderID string
	at       time.Time
	index    int // heap bookkeeping
}

// HistoryItem records one completed refresh cycle.
type HistoryItem struct {
	RunID     string
	FolderID  string
	Started   time.Time
	Duration  time.Duration
	Succeeded int
	Failed    int
	Error     string
}

// JobInfo is one row of the status snapshot.
type JobInfo struct {
	FolderID    string
	State       storage.State
	TriggerTime time.Time
}

// Snapshot is the read-only operational view.
type Snapshot struct {
	Running  bool
	InFlight int
	Jobs     []JobInfo
	History  []HistoryItem
}

// Service owns the job store and the timer loop.
type Service struct {
	log   logx.Logger
	cfg   Config
	store storage.Store
	exec  Executor
	bus   eventbus.Bus

	mu       sync.Mutex
	planner  Planner
	heap     jobHeap
	entries  map[string]*entry    // folderID -> armed entry
	running  map[string]time.Time // folderID -> fire time of in-flight cycle
	pending  map[string]time.Time // schedules accepted while Running
	wake     chan struct{}
	stopCh   chan struct{}
	cron     *cron.Cron
	loopWG   sync.WaitGroup
	inflight sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}
