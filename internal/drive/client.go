// Package drive talks to the remote cloud-drive account that issues the
// time-limited playback links. The scheduler core only depends on the
// LinkService capability; the full Client is used by the account syncer.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relinkd/pkg/logx"
)

var (
	// ErrUnauthorized means the session is gone (expired token, revoked
	// credentials). Callers treat this as a total failure: no further calls
	// this cycle will succeed either.
	ErrUnauthorized = errors.New("drive: unauthorized")
	// ErrNotFound covers files/folders that no longer exist upstream.
	ErrNotFound = errors.New("drive: not found")
)

// LinkService is the single capability the refresh executor needs.
type LinkService interface {
	PlayLink(ctx context.Context, itemID string) (string, error)
}

// RemoteFile is one entry of a remote folder listing.
type RemoteFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Config configures the HTTP client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration // per-request; 0 means 30s
	// RatePerSec smooths outgoing requests; 0 disables the limiter.
	// This is request pacing only; the account-level batch budget is
	// enforced separately by the refresh pacer.
	RatePerSec int
}

// Client is a session-scoped remote client. Construct one per credential set
// and inject it where needed; there is no process-global client cache.
type Client struct {
	http *http.Client
	base string
	log  logx.Logger
	lim  *rate.Limiter

	mu    sync.Mutex
	creds credentials
	token string
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("drive base url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		base:  base,
		log:   log,
		lim:   lim,
		creds: credentials{Username: cfg.Username, Password: cfg.Password},
	}, nil
}

// Login establishes the session token. It is also called lazily by the first
// request, so callers may skip it and rely on request-time auth.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", creds, &resp, false); err != nil {
		return fmt.Errorf("drive login: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("drive login: %w", ErrUnauthorized)
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	c.log.Debug("drive session established")
	return nil
}

// ListFolders returns the folders directly under the account's media root.
func (c *Client) ListFolders(ctx context.Context) ([]RemoteFile, error) {
	var resp struct {
		Files []RemoteFile `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/files?parent=root&kind=folder", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// ListFiles returns the files inside one folder, in the order the remote
// reports them.
func (c *Client) ListFiles(ctx context.Context, folderID string) ([]RemoteFile, error) {
	var resp struct {
		Files []RemoteFile `json:"files"`
	}
	path := "/v1/files?parent=" + url.QueryEscape(folderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// PlayLink fetches a fresh playback URL for one item. The returned link
// expires on the upstream's TTL; the caller owns re-fetch scheduling.
func (c *Client) PlayLink(ctx context.Context, itemID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	path := "/v1/files/" + url.PathEscape(itemID) + "/play"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("drive: empty play link for item %s", itemID)
	}
	return resp.URL, nil
}

// Rename renames a remote file or folder.
func (c *Client) Rename(ctx context.Context, fileID, name string) error {
	body := map[string]string{"name": name}
	path := "/v1/files/" + url.PathEscape(fileID)
	return c.do(ctx, http.MethodPatch, path, body, nil, true)
}

// Delete removes remote files by id.
func (c *Client) Delete(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	body := map[string][]string{"ids": fileIDs}
	return c.do(ctx, http.MethodPost, "/v1/files:batchDelete", body, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	if c.lim != nil {
		if err := c.lim.Wait(ctx); err != nil {
			return err
		}
	}

	if authed {
		c.mu.Lock()
		tok := c.token
		c.mu.Unlock()
		if tok == "" {
			if err := c.Login(ctx); err != nil {
				return err
			}
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.mu.Unlock()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Drop the dead token so the next call re-authenticates.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("drive: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
