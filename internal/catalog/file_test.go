package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"relinkd/pkg/logx"
)

func TestFileCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	ctx := context.Background()

	c, err := OpenFile(path, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	f := Folder{
		ID:    "f1",
		Title: "Frieren",
		Items: []Item{{ID: "i1", Name: "ep01"}, {ID: "i2", Name: "ep02"}},
	}
	if err := c.Upsert(ctx, f); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	at := time.Now().Truncate(time.Second)
	ok, err := c.SetItemLink(ctx, "f1", "i2", "https://cdn/play/i2", at)
	if err != nil || !ok {
		t.Fatalf("SetItemLink = (%v, %v)", ok, err)
	}
	ok, err = c.SetLastRefresh(ctx, "f1", at)
	if err != nil || !ok {
		t.Fatalf("SetLastRefresh = (%v, %v)", ok, err)
	}

	// Reopen from disk; everything must survive.
	c2, err := OpenFile(path, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile (reopen): %v", err)
	}
	folders, err := c2.Folders(ctx)
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
	got := folders[0]
	if got.Title != "Frieren" || len(got.Items) != 2 {
		t.Fatalf("unexpected folder: %+v", got)
	}
	if got.Items[1].Link != "https://cdn/play/i2" {
		t.Fatalf("item link not persisted: %+v", got.Items[1])
	}
	if got.LastRefresh == nil || !got.LastRefresh.Equal(at) {
		t.Fatalf("last refresh not persisted: %v", got.LastRefresh)
	}
}

func TestFileCatalogUnknownTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	ctx := context.Background()

	c, err := OpenFile(path, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	ok, err := c.SetItemLink(ctx, "missing", "i1", "x", time.Now())
	if err != nil || ok {
		t.Fatalf("SetItemLink on missing folder = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = c.SetLastRefresh(ctx, "missing", time.Now())
	if err != nil || ok {
		t.Fatalf("SetLastRefresh on missing folder = (%v, %v), want (false, nil)", ok, err)
	}
	if err := c.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove on missing folder should be a no-op, got %v", err)
	}

	if err := c.Upsert(ctx, Folder{ID: "f1", Items: []Item{{ID: "i1"}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ok, err = c.SetItemLink(ctx, "f1", "missing-item", "x", time.Now())
	if err != nil || ok {
		t.Fatalf("SetItemLink on missing item = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFileCatalogItemsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	ctx := context.Background()

	c, err := OpenFile(path, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := c.Upsert(ctx, Folder{ID: "f1", Items: []Item{{ID: "i1", Name: "a"}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	items, err := c.Items(ctx, "f1")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	items[0].Name = "mutated"

	again, err := c.Items(ctx, "f1")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if again[0].Name != "a" {
		t.Fatal("Items must return a copy, not internal state")
	}
}
