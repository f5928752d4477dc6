package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"relinkd/pkg/logx"
)

// fileCatalog keeps the whole registry in memory and rewrites the JSON
// document atomically (tmp + rename) on every mutation. Collections are small
// (hundreds of folders, not millions), so whole-file rewrites are fine and
// keep partial progress crash-safe.
type fileCatalog struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	folders map[string]*Folder
}

type fileDoc struct {
	Folders []Folder `json:"folders"`
}

// OpenFile loads (or initializes) the JSON-backed catalog at path.
func OpenFile(path string, log logx.Logger) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("catalog path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	c := &fileCatalog{log: log, path: path, folders: map[string]*Folder{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run; the file appears on the first mutation.
	case err != nil:
		return nil, err
	default:
		var doc fileDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
		for i := range doc.Folders {
			f := doc.Folders[i]
			c.folders[f.ID] = &f
		}
	}
	return c, nil
}

func (c *fileCatalog) Folders(ctx context.Context) ([]Folder, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Folder, 0, len(c.folders))
	for _, f := range c.folders {
		out = append(out, cloneFolder(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fileCatalog) Items(ctx context.Context, folderID string) ([]Item, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.folders[folderID]
	if !ok {
		return nil, nil
	}
	return append([]Item(nil), f.Items...), nil
}

func (c *fileCatalog) SetItemLink(ctx context.Context, folderID, itemID, link string, at time.Time) (bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.folders[folderID]
	if !ok {
		return false, nil
	}
	for i := range f.Items {
		if f.Items[i].ID == itemID {
			f.Items[i].Link = link
			f.Items[i].LinkRefreshedAt = at
			return true, c.saveLocked()
		}
	}
	return false, nil
}

func (c *fileCatalog) SetLastRefresh(ctx context.Context, folderID string, at time.Time) (bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.folders[folderID]
	if !ok {
		return false, nil
	}
	t := at
	f.LastRefresh = &t
	return true, c.saveLocked()
}

func (c *fileCatalog) Upsert(ctx context.Context, f Folder) error {
	_ = ctx
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("folder id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := cloneFolder(&f)
	c.folders[f.ID] = &cp
	return c.saveLocked()
}

func (c *fileCatalog) Remove(ctx context.Context, folderID string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.folders[folderID]; !ok {
		return nil
	}
	delete(c.folders, folderID)
	return c.saveLocked()
}

// saveLocked writes the document atomically. Call with c.mu held.
func (c *fileCatalog) saveLocked() error {
	doc := fileDoc{Folders: make([]Folder, 0, len(c.folders))}
	for _, f := range c.folders {
		doc.Folders = append(doc.Folders, cloneFolder(f))
	}
	sort.Slice(doc.Folders, func(i, j int) bool { return doc.Folders[i].ID < doc.Folders[j].ID })

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func cloneFolder(f *Folder) Folder {
	cp := *f
	cp.Items = append([]Item(nil), f.Items...)
	if f.LastRefresh != nil {
		t := *f.LastRefresh
		cp.LastRefresh = &t
	}
	return cp
}
