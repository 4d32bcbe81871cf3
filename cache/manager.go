// cache/manager.go
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mihara/supplycheck/models"
)

// Clock is injected so tests can pin "now".
type Clock func() time.Time

const initialBackoff = 500 * time.Millisecond

// Manager owns the persisted snapshot and sidecar metadata for each source
// URL. The snapshot file and its metadata are committed together via
// write-then-rename, so callers never observe a half-written snapshot, and
// concurrent Refresh calls for one URL coalesce onto a single fetch.
type Manager struct {
	dir     string
	client  *http.Client
	retries int
	clock   Clock

	group singleflight.Group

	mu   sync.Mutex
	meta map[string]*models.CacheMetadata // source URL -> last successful fetch
}

// NewManager returns a Manager persisting under dir. client and clock may be
// nil for defaults; retries is the total attempt budget for transient fetch
// failures.
func NewManager(dir string, client *http.Client, retries int, clock Clock) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		dir:     dir,
		client:  client,
		retries: retries,
		clock:   clock,
		meta:    make(map[string]*models.CacheMetadata),
	}
}

// Current returns the committed snapshot for url without any network
// traffic. This is the startup fast path: it reads the sidecar metadata off
// disk once and serves from memory afterwards.
func (m *Manager) Current(url string) (*models.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.loadMetaLocked(url)
	if meta == nil {
		return nil, false
	}
	path := m.snapshotPath(url)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	return &models.Snapshot{Path: path, Meta: *meta}, true
}

// Refresh brings the snapshot for url up to date. Behavior per the caching
// contract:
//   - no stored metadata: unconditional fetch
//   - stored metadata: conditional fetch using ETag / Last-Modified
//   - 304, or re-fetched body with an equal fingerprint: cache hit, no state
//     change, Snapshot.Unchanged is set
//   - otherwise the body is streamed to a temp file and swapped in atomically
//     together with new metadata
//   - transient failures (network, timeout, 5xx) are retried with bounded
//     exponential backoff; when the budget is spent and a prior snapshot
//     exists it is returned with Stale set, else the error propagates
//
// Concurrent calls for the same url share one in-flight fetch.
func (m *Manager) Refresh(ctx context.Context, url string) (*models.Snapshot, error) {
	v, err, _ := m.group.Do(url, func() (interface{}, error) {
		return m.refresh(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Snapshot), nil
}

func (m *Manager) refresh(ctx context.Context, url string) (*models.Snapshot, error) {
	m.mu.Lock()
	prior := m.loadMetaLocked(url)
	m.mu.Unlock()

	snap, err := m.fetchWithRetry(ctx, url, prior)
	if err == nil {
		return snap, nil
	}

	// Fetch failed for good. Fall back to the prior snapshot when one is
	// committed on disk; otherwise the failure is fatal for this request.
	if existing, ok := m.Current(url); ok {
		log.Printf("Cache: Fetch of %s failed (%v); serving stale snapshot from %s\n",
			url, err, existing.Meta.FetchedAt.Format(time.RFC3339))
		existing.Stale = true
		existing.StaleReason = err.Error()
		return existing, nil
	}
	return nil, fmt.Errorf("refresh of %s failed with no cached fallback: %w", url, err)
}

// fetchWithRetry runs the conditional fetch, retrying transient failures.
// Non-retryable failures (4xx) break out immediately.
func (m *Manager) fetchWithRetry(ctx context.Context, url string, prior *models.CacheMetadata) (*models.Snapshot, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= m.retries; attempt++ {
		snap, retryable, err := m.fetchOnce(ctx, url, prior)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt < m.retries {
			log.Printf("Cache: Attempt %d/%d for %s failed: %v (retrying in %s)\n",
				attempt, m.retries, url, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &models.TransientFetchError{URL: url, Err: ctx.Err()}
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// fetchOnce performs a single conditional fetch. The bool reports whether the
// returned error is worth retrying.
func (m *Manager) fetchOnce(ctx context.Context, url string, prior *models.CacheMetadata) (*models.Snapshot, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	if prior != nil {
		if prior.ETag != "" {
			req.Header.Set("If-None-Match", prior.ETag)
		}
		if prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", prior.LastModified)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, true, &models.TransientFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if existing, ok := m.Current(url); ok {
			log.Printf("Cache: %s not modified (304); cache hit\n", url)
			existing.Unchanged = true
			return existing, false, nil
		}
		// Metadata without a snapshot file should not happen given the
		// commit order, but a 304 with nothing to serve must not succeed.
		return nil, false, fmt.Errorf("server reported not-modified for %s but no snapshot exists", url)

	case resp.StatusCode >= 500:
		return nil, true, &models.TransientFetchError{
			URL: url,
			Err: fmt.Errorf("server returned status %d", resp.StatusCode),
		}

	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("download of %s failed: received status code %d", url, resp.StatusCode)
	}

	snap, err := m.commitBody(url, resp, prior)
	if err != nil {
		var tf *models.TransientFetchError
		return nil, errors.As(err, &tf), err
	}
	return snap, false, nil
}

// commitBody streams the response body to a temp file, fingerprints it, and
// either declares a hit (equal fingerprint, temp discarded) or atomically
// swaps the new snapshot and metadata in.
func (m *Manager) commitBody(url string, resp *http.Response, prior *models.CacheMetadata) (*models.Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", m.dir, err)
	}

	tmp, err := os.CreateTemp(m.dir, "snapshot-*.partial")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file in %s: %w", m.dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// An interrupted transfer leaves only the .partial file, which is
		// removed above; the committed snapshot is untouched.
		return nil, &models.TransientFetchError{URL: url, Err: fmt.Errorf("body transfer failed: %w", err)}
	}
	fingerprint := hex.EncodeToString(hasher.Sum(nil))

	if prior != nil && prior.ContentFingerprint == fingerprint {
		if existing, ok := m.Current(url); ok {
			log.Printf("Cache: %s re-fetched but fingerprint unchanged; cache hit\n", url)
			existing.Unchanged = true
			return existing, nil
		}
	}

	meta := &models.CacheMetadata{
		SourceURL:          url,
		ETag:               resp.Header.Get("ETag"),
		LastModified:       resp.Header.Get("Last-Modified"),
		FetchedAt:          m.clock().UTC(),
		ContentFingerprint: fingerprint,
	}

	snapPath := m.snapshotPath(url)
	if err := os.Rename(tmpPath, snapPath); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot for %s: %w", url, err)
	}
	committed = true

	if err := m.writeMeta(url, meta); err != nil {
		// The snapshot file was already swapped in, so the stored metadata
		// now describes different bytes (a later 304 against its ETag would
		// serve the new body under the old headers). Drop the metadata; the
		// next refresh fetches unconditionally and commits both anew.
		os.Remove(m.metaPath(url))
		m.mu.Lock()
		delete(m.meta, url)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.meta[url] = meta
	m.mu.Unlock()

	log.Printf("Cache: Committed new snapshot for %s (fingerprint %.12s)\n", url, fingerprint)
	return &models.Snapshot{Path: snapPath, Meta: *meta}, nil
}

// writeMeta persists the sidecar metadata with the same write-then-rename
// discipline as the snapshot itself.
func (m *Manager) writeMeta(url string, meta *models.CacheMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", url, err)
	}
	metaPath := m.metaPath(url)
	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata temp file: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit metadata for %s: %w", url, err)
	}
	return nil
}

// loadMetaLocked returns the metadata for url, reading the sidecar file on
// first access. Caller holds m.mu.
func (m *Manager) loadMetaLocked(url string) *models.CacheMetadata {
	if meta, ok := m.meta[url]; ok {
		return meta
	}
	data, err := os.ReadFile(m.metaPath(url))
	if err != nil {
		return nil
	}
	var meta models.CacheMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Printf("WARN Cache: Ignoring corrupt metadata file for %s: %v\n", url, err)
		return nil
	}
	m.meta[url] = &meta
	return &meta
}

// Snapshot files are keyed by a digest of the source URL so multiple sources
// can share one cache directory.
func (m *Manager) snapshotPath(url string) string {
	return filepath.Join(m.dir, m.key(url)+".snapshot")
}

func (m *Manager) metaPath(url string) string {
	return filepath.Join(m.dir, m.key(url)+".meta.json")
}

func (m *Manager) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
