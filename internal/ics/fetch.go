package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
)

// FetchResult contains the outcome of fetching a single ICS URL.
type FetchResult struct {
	URL       string
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused a cached body
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified) and an optional disk-backed cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. An empty cacheDir disables caching. A nil client
// gets a default client with a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Second,
		}
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// FetchOne fetches a single ICS URL, honoring ETag and Last-Modified when a
// cached copy exists. Any 2xx status is treated as fresh content.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(rawURL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			appLog.Error("ics cache dir unavailable; fetching without cache", err, "dir", cachePath)
			cachePath = ""
		} else {
			meta, _ = f.loadCacheMeta(cachePath)
			cachedBody, _ = f.loadCacheBody(cachePath)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers are only useful when we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(rawURL))
			return FetchResult{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
			}
		}

		appLog.Info("ics fetch success", "url", redactURL(rawURL), "status", resp.StatusCode, "from_cache", false)
		return FetchResult{URL: rawURL, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(rawURL))
		return FetchResult{URL: rawURL, Body: cachedBody, FromCache: true}, nil

	default:
		// Non-OK status: if we have cached data, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(rawURL), "status", resp.StatusCode)
			return FetchResult{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// Client is the production Getter: it fills the URL template, fetches the
// document and parses it.
type Client struct {
	fetcher     *Fetcher
	urlTemplate string
	parse       ParseOptions
}

// ClientConfig configures a Client. Zero values select the defaults.
type ClientConfig struct {
	URLTemplate string
	CacheDir    string
	HTTPClient  *http.Client
	Parse       ParseOptions
}

func NewClient(cfg ClientConfig) *Client {
	tmpl := cfg.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}
	return &Client{
		fetcher:     NewFetcher(cfg.CacheDir, cfg.HTTPClient),
		urlTemplate: tmpl,
		parse:       cfg.Parse,
	}
}

// URL returns the endpoint for identifier.
func (c *Client) URL(identifier string) string {
	return strings.ReplaceAll(c.urlTemplate, "{id}", url.QueryEscape(identifier))
}

// Fetch retrieves and parses the timetable for identifier. Every failure
// wraps ErrNotFound or ErrEmptyTimetable; nothing is retried here.
func (c *Client) Fetch(ctx context.Context, identifier string) (*model.Timetable, error) {
	res, err := c.fetcher.FetchOne(ctx, c.URL(identifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return Parse(res.Body, c.parse)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?p=E1810
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	i += 3

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
