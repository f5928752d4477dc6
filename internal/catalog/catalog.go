// Package catalog is the authoritative registry of tracked folders and their
// items. The backing store is a single JSON document, matching how the
// surrounding application persists collection metadata.
package catalog

import (
	"context"
	"time"
)

// Item is one file inside a tracked folder. Link is the externally issued,
// time-limited playback URL; it goes stale on the upstream's TTL regardless
// of local state.
type Item struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Link            string    `json:"link,omitempty"`
	LinkRefreshedAt time.Time `json:"link_refreshed_at,omitzero"`
}

// Folder is one tracked media collection.
type Folder struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items,omitempty"`
	// LastRefresh is the time of the most recent refresh cycle in which at
	// least one item succeeded; nil means never refreshed.
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// Catalog is the registry consumed by the scheduler core.
//
// The set-style mutators return false (not an error) when the target folder
// or item is unknown; callers treat that as "lost a race with removal" and
// move on.
type Catalog interface {
	Folders(ctx context.Context) ([]Folder, error)
	Items(ctx context.Context, folderID string) ([]Item, error)
	SetItemLink(ctx context.Context, folderID, itemID, link string, at time.Time) (bool, error)
	SetLastRefresh(ctx context.Context, folderID string, at time.Time) (bool, error)
	Upsert(ctx context.Context, f Folder) error
	Remove(ctx context.Context, folderID string) error
}
