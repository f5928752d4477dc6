// Package syncer mirrors the remote account's folder tree into the local
// catalog. It is the only component that changes the tracked-folder set, so
// every successful pass ends with a reconciliation to realign the job store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relinkd/internal/catalog"
	"relinkd/internal/drive"
	"relinkd/internal/eventbus"
	"relinkd/internal/refresh"
	"relinkd/pkg/logx"
)

// Remote is the slice of the drive client the syncer uses.
type Remote interface {
	ListFolders(ctx context.Context) ([]drive.RemoteFile, error)
	ListFiles(ctx context.Context, folderID string) ([]drive.RemoteFile, error)
	PlayLink(ctx context.Context, itemID string) (string, error)
}

// Reconciler re-arms jobs after the folder set changed.
type Reconciler interface {
	ReconcileAll(ctx context.Context) error
}

// Report summarizes one sync pass.
type Report struct {
	FoldersAdded   int
	FoldersUpdated int
	FoldersRemoved int
	ItemsAdded     int
	ItemsRemoved   int
	LinksFetched   int
}

// Syncer diffs the remote account against the catalog.
type Syncer struct {
	log    logx.Logger
	remote Remote
	cat    catalog.Catalog
	rec    Reconciler
	pacer  *refresh.Pacer
	bus    eventbus.Bus

	now func() time.Time
}

func New(remote Remote, cat catalog.Catalog, rec Reconciler, pacer *refresh.Pacer, bus eventbus.Bus, log logx.Logger) *Syncer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Syncer{
		log:    log,
		remote: remote,
		cat:    cat,
		rec:    rec,
		pacer:  pacer,
		bus:    bus,
		now:    time.Now,
	}
}

// Sync makes the catalog match the remote account.
//
// Existing items keep their link and refresh stamp; only brand-new items get
// an eager link fetch, paced against the shared account budget. Folders gone
// from the remote are removed locally, which the closing reconciliation turns
// into job cancellations.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	var rep Report

	remoteFolders, err := s.remote.ListFolders(ctx)
	if err != nil {
		return rep, fmt.Errorf("list remote folders: %w", err)
	}
	local, err := s.cat.Folders(ctx)
	if err != nil {
		return rep, fmt.Errorf("list catalog folders: %w", err)
	}
	localByID := make(map[string]catalog.Folder, len(local))
	for _, f := range local {
		localByID[f.ID] = f
	}

	remoteIDs := make(map[string]struct{}, len(remoteFolders))
	for _, rf := range remoteFolders {
		remoteIDs[rf.ID] = struct{}{}
		if err := s.syncFolder(ctx, rf, localByID[rf.ID], &rep); err != nil {
			// One folder failing must not abort the pass, except when the
			// session itself is dead.
			if errors.Is(err, drive.ErrUnauthorized) || ctx.Err() != nil {
				return rep, err
			}
			s.log.Warn("folder sync failed", logx.String("folder", rf.ID), logx.Err(err))
		}
	}

	for id := range localByID {
		if _, ok := remoteIDs[id]; ok {
			continue
		}
		if err := s.cat.Remove(ctx, id); err != nil {
			s.log.Warn("remove vanished folder failed", logx.String("folder", id), logx.Err(err))
			continue
		}
		rep.FoldersRemoved++
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSyncFinished, Data: rep})
	}
	s.log.Info("sync finished",
		logx.Int("added", rep.FoldersAdded),
		logx.Int("updated", rep.FoldersUpdated),
		logx.Int("removed", rep.FoldersRemoved),
		logx.Int("items_added", rep.ItemsAdded),
		logx.Int("links_fetched", rep.LinksFetched))

	if err := s.rec.ReconcileAll(ctx); err != nil {
		return rep, fmt.Errorf("reconcile after sync: %w", err)
	}
	return rep, nil
}

func (s *Syncer) syncFolder(ctx context.Context, rf drive.RemoteFile, existing catalog.Folder, rep *Report) error {
	files, err := s.remote.ListFiles(ctx, rf.ID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	known := make(map[string]catalog.Item, len(existing.Items))
	for _, it := range existing.Items {
		known[it.ID] = it
	}

	isNew := existing.ID == ""
	next := catalog.Folder{
		ID:          rf.ID,
		Title:       rf.Name,
		LastRefresh: existing.LastRefresh,
	}
	changed := isNew || existing.Title != rf.Name

	for _, f := range files {
		if f.Kind == "folder" {
			continue
		}
		if it, ok := known[f.ID]; ok {
			// Keep the link we already paid for.
			if it.Name != f.Name {
				it.Name = f.Name
				changed = true
			}
			next.Items = append(next.Items, it)
			delete(known, f.ID)
			continue
		}

		it := catalog.Item{ID: f.ID, Name: f.Name}
		link, err := s.fetchLink(ctx, f.ID)
		if err != nil {
			if errors.Is(err, drive.ErrUnauthorized) || ctx.Err() != nil {
				return err
			}
			// The refresh cycle will retry; track the item without a link.
			s.log.Warn("initial link fetch failed",
				logx.String("folder", rf.ID), logx.String("item", f.ID), logx.Err(err))
		} else {
			it.Link = link
			it.LinkRefreshedAt = s.now()
			rep.LinksFetched++
		}
		next.Items = append(next.Items, it)
		rep.ItemsAdded++
		changed = true
	}
	if len(known) > 0 {
		rep.ItemsRemoved += len(known)
		changed = true
	}

	if !changed {
		return nil
	}
	if err := s.cat.Upsert(ctx, next); err != nil {
		return fmt.Errorf("upsert folder: %w", err)
	}
	if isNew {
		rep.FoldersAdded++
	} else {
		rep.FoldersUpdated++
	}
	return nil
}

func (s *Syncer) fetchLink(ctx context.Context, itemID string) (string, error) {
	// Acquire before the call: if another component is serving the account
	// pause, the fetch waits instead of going out during it.
	if err := s.pacer.Acquire(ctx); err != nil {
		return "", err
	}
	return s.remote.PlayLink(ctx, itemID)
}
