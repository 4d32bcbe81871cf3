package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mihara/supplycheck/models"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func readSnapshot(t *testing.T, snap *models.Snapshot) string {
	t.Helper()
	data, err := os.ReadFile(snap.Path)
	if err != nil {
		t.Fatalf("failed to read snapshot file: %v", err)
	}
	return string(data)
}

func TestRefreshIdempotentHitVia304(t *testing.T) {
	var fullDownloads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		atomic.AddInt32(&fullDownloads, 1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 24 Aug 2026 00:00:00 GMT")
		w.Write([]byte("workbook-v1"))
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 3, fixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)))

	first, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if first.Unchanged || first.Stale {
		t.Fatalf("first refresh must be a fresh download, got %+v", first)
	}

	second, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if !second.Unchanged {
		t.Errorf("second refresh against unchanged remote must be a cache hit")
	}
	if second.Meta != first.Meta {
		t.Errorf("cache hit must not change metadata: %+v vs %+v", second.Meta, first.Meta)
	}
	if got := readSnapshot(t, second); got != "workbook-v1" {
		t.Errorf("unexpected snapshot content %q", got)
	}
	if n := atomic.LoadInt32(&fullDownloads); n != 1 {
		t.Errorf("expected exactly 1 full download, got %d", n)
	}
}

func TestRefreshFingerprintHitWithoutConditionalSupport(t *testing.T) {
	// No ETag / Last-Modified: the manager must fall back to comparing
	// content fingerprints and still declare a hit with zero state change.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("same-bytes-every-time"))
	}))
	defer srv.Close()

	clock1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	m := NewManager(dir, srv.Client(), 3, fixedClock(clock1))

	first, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	// Advance the clock; a true re-download would stamp the new time.
	m.clock = fixedClock(clock1.Add(6 * time.Hour))

	second, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if !second.Unchanged {
		t.Errorf("equal fingerprint must count as a cache hit")
	}
	if !second.Meta.FetchedAt.Equal(first.Meta.FetchedAt) {
		t.Errorf("cache hit must not touch stored metadata: %v vs %v",
			second.Meta.FetchedAt, first.Meta.FetchedAt)
	}
}

func TestSingleFlightCoalescesConcurrentRefreshes(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("slow-body"))
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 3, nil)

	const callers = 8
	var wg sync.WaitGroup
	snaps := make([]*models.Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = m.Refresh(context.Background(), srv.URL)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if snaps[i].Meta.ContentFingerprint != snaps[0].Meta.ContentFingerprint {
			t.Errorf("caller %d got a different snapshot", i)
		}
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("expected exactly 1 network fetch for %d concurrent callers, got %d", callers, n)
	}
}

func TestStaleFallbackAfterFetchFailure(t *testing.T) {
	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("good-data"))
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 2, nil)

	if _, err := m.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	broken.Store(true)
	snap, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("refresh with prior snapshot must fall back, not fail: %v", err)
	}
	if !snap.Stale {
		t.Errorf("fallback snapshot must be flagged stale")
	}
	if snap.StaleReason == "" {
		t.Errorf("stale snapshot must carry the fetch error")
	}
	if got := readSnapshot(t, snap); got != "good-data" {
		t.Errorf("stale snapshot content changed: %q", got)
	}
}

func TestRefreshFailsWithoutPriorSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 2, nil)

	_, err := m.Refresh(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("refresh with no cached fallback must fail")
	}
	var transient *models.TransientFetchError
	if !errors.As(err, &transient) {
		t.Errorf("expected TransientFetchError in chain, got %v", err)
	}
}

func TestAtomicReplaceOnInterruptedTransfer(t *testing.T) {
	var truncate atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if truncate.Load() {
			// Declare more bytes than are sent; the client sees the
			// connection die mid-body.
			w.Header().Set("Content-Length", "1000000")
			w.Write([]byte("partial"))
			return
		}
		w.Write([]byte("committed-content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := NewManager(dir, srv.Client(), 2, nil)

	if _, err := m.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	truncate.Store(true)
	snap, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("interrupted transfer must fall back to the prior snapshot: %v", err)
	}
	if !snap.Stale {
		t.Errorf("snapshot after interrupted transfer must be stale")
	}
	if got := readSnapshot(t, snap); got != "committed-content" {
		t.Errorf("interrupted transfer corrupted the snapshot: %q", got)
	}

	// No half-written temp files may survive.
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.partial"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("partial download files left behind: %v", leftovers)
	}
}

func TestMetadataWriteFailureLeavesNoMismatchedPair(t *testing.T) {
	var body atomic.Value
	body.Store("first-body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := NewManager(dir, srv.Client(), 2, nil)

	if _, err := m.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	// Block the sidecar commit: a directory at the metadata path makes the
	// rename fail after the snapshot file has already been swapped in.
	metaPath := m.metaPath(srv.URL)
	if err := os.Remove(metaPath); err != nil {
		t.Fatalf("failed to remove metadata file: %v", err)
	}
	if err := os.Mkdir(metaPath, 0755); err != nil {
		t.Fatalf("failed to block metadata path: %v", err)
	}

	body.Store("second-body")
	if _, err := m.Refresh(context.Background(), srv.URL); err == nil {
		t.Fatalf("refresh with a failed metadata commit must report the error")
	}

	// The old metadata must not survive to describe the new snapshot bytes.
	if _, ok := m.Current(srv.URL); ok {
		t.Errorf("Current must not serve a snapshot whose metadata commit failed")
	}

	// The blocking directory was cleaned up, so the next refresh fetches
	// unconditionally and commits snapshot and metadata together.
	snap, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("recovery refresh failed: %v", err)
	}
	if snap.Unchanged || snap.Stale {
		t.Errorf("recovery refresh must be a full commit, got %+v", snap)
	}
	if got := readSnapshot(t, snap); got != "second-body" {
		t.Errorf("unexpected snapshot content %q", got)
	}
}

func TestCurrentReadsCommittedSnapshotAcrossRestarts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v7"`)
		w.Write([]byte("persisted"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m1 := NewManager(dir, srv.Client(), 3, nil)
	if _, err := m1.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// A new manager over the same directory simulates a process restart.
	m2 := NewManager(dir, srv.Client(), 3, nil)
	snap, ok := m2.Current(srv.URL)
	if !ok {
		t.Fatalf("Current must find the committed snapshot after restart")
	}
	if snap.Meta.ETag != `"v7"` {
		t.Errorf("sidecar metadata not loaded, got %+v", snap.Meta)
	}
	if got := readSnapshot(t, snap); got != "persisted" {
		t.Errorf("unexpected snapshot content %q", got)
	}

	if _, ok := m2.Current(srv.URL + "/other"); ok {
		t.Errorf("Current must not report a snapshot for an unknown URL")
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 3, nil)

	snap, err := m.Refresh(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("refresh should succeed on the third attempt: %v", err)
	}
	if snap.Stale || snap.Unchanged {
		t.Errorf("expected a fresh snapshot, got %+v", snap)
	}
	if got := readSnapshot(t, snap); got != "eventually" {
		t.Errorf("unexpected content %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), srv.Client(), 3, nil)

	if _, err := m.Refresh(context.Background(), srv.URL); err == nil {
		t.Fatalf("404 with no cached fallback must fail")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", n)
	}
	if _, ok := m.Current(srv.URL); ok {
		t.Errorf("failed fetch must not commit any snapshot")
	}
}
