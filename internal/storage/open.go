package storage

import (
	"context"
	"time"

	"relinkd/pkg/logx"
)

// Store is the durable job persistence API used by the scheduler.
//
// Writes are synchronous: a returned nil means the change is on disk, so a
// crash immediately after a successful call never loses the job.
type Store interface {
	// Put upserts the job keyed by job id; an existing row is overwritten.
	Put(ctx context.Context, j Job) error
	// Remove deletes a job. Removing an absent job is not an error.
	Remove(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (Job, bool, error)
	// ListDue returns jobs in state Scheduled with trigger_time <= before,
	// ordered by trigger time ascending.
	ListDue(ctx context.Context, before time.Time) ([]Job, error)
	// ListAll returns every stored job, used at startup to rebuild the
	// in-memory timer heap.
	ListAll(ctx context.Context) ([]Job, error)
	Close() error
}

// Open initializes the SQLite-backed store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
