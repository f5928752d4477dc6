// Package refresh re-fetches a folder's playback links against the remote
// link service, pacing calls against the shared account budget and persisting
// every fetched link immediately so partial progress survives a crash.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"relinkd/internal/catalog"
	"relinkd/internal/drive"
	"relinkd/pkg/logx"
)

// Outcome summarizes one refresh cycle for one folder. A cycle with failures
// is still a completed cycle; the scheduler reschedules the folder either way.
type Outcome struct {
	RunID     string
	Succeeded int
	Failed    int
}

// Config controls per-cycle behavior.
type Config struct {
	// ItemTimeout bounds each remote link fetch. 0 disables the per-item
	// deadline (the HTTP client still has its own request timeout).
	ItemTimeout time.Duration
}

// Executor refreshes all items of one folder. It is safe for concurrent use
// across different folders; the scheduler guarantees at most one in-flight
// cycle per folder.
type Executor struct {
	log   logx.Logger
	cfg   Config
	cat   catalog.Catalog
	links drive.LinkService
	pacer *Pacer

	now func() time.Time
}

func NewExecutor(cfg Config, cat catalog.Catalog, links drive.LinkService, pacer *Pacer, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		log:   log,
		cfg:   cfg,
		cat:   cat,
		links: links,
		pacer: pacer,
		now:   time.Now,
	}
}

// Refresh fetches a new playback link for every item of the folder.
//
// Failure policy:
//   - one item failing is recorded and processing continues;
//   - an unauthorized/session-level failure aborts the remaining items
//     (nothing else will succeed this cycle) and returns the error together
//     with the partial outcome;
//   - the folder's last-refresh stamp advances only if at least one item
//     succeeded.
func (e *Executor) Refresh(ctx context.Context, folderID string) (Outcome, error) {
	out := Outcome{RunID: uuid.NewString()}
	log := e.log.With(logx.String("folder", folderID), logx.String("run", out.RunID))

	items, err := e.cat.Items(ctx, folderID)
	if err != nil {
		return out, err
	}
	if len(items) == 0 {
		log.Debug("no items, skipping refresh")
		return out, nil
	}

	start := e.now()
	log.Info("refresh started", logx.Int("items", len(items)))

	var abort error
	for _, it := range items {
		// The pacer gates issuance: if the account budget is spent, this
		// blocks through the pause before the call goes out. Cancellation
		// here means the item was never attempted, so it counts as neither
		// success nor failure.
		if perr := e.pacer.Acquire(ctx); perr != nil {
			abort = perr
			break
		}
		link, err := e.fetchLink(ctx, it.ID)
		if err != nil {
			out.Failed++
			if errors.Is(err, drive.ErrUnauthorized) || ctx.Err() != nil {
				abort = err
				break
			}
			log.Warn("item refresh failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}

		ok, err := e.cat.SetItemLink(ctx, folderID, it.ID, link, e.now())
		if err != nil {
			out.Failed++
			log.Warn("item link persist failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		if !ok {
			// Folder or item vanished mid-cycle (lost a race with a sync).
			out.Failed++
			log.Debug("item gone from catalog, dropping link", logx.String("item", it.ID))
			continue
		}
		out.Succeeded++
	}

	if out.Succeeded > 0 {
		if _, err := e.cat.SetLastRefresh(ctx, folderID, e.now()); err != nil {
			log.Warn("last refresh stamp failed", logx.Err(err))
		}
	}

	dur := e.now().Sub(start)
	if abort != nil {
		log.Warn("refresh aborted",
			logx.Int("succeeded", out.Succeeded),
			logx.Int("failed", out.Failed),
			logx.Duration("dur", dur),
			logx.Err(abort))
		return out, abort
	}
	if out.Failed > 0 {
		log.Warn("refresh finished with failures",
			logx.Int("succeeded", out.Succeeded),
			logx.Int("failed", out.Failed),
			logx.Duration("dur", dur))
	} else {
		log.Info("refresh finished",
			logx.Int("succeeded", out.Succeeded),
			logx.Duration("dur", dur))
	}
	return out, nil
}

func (e *Executor) fetchLink(ctx context.Context, itemID string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.ItemTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.ItemTimeout)
		defer cancel()
	}
	return e.links.PlayLink(runCtx, itemID)
}
