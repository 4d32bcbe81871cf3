// services/supply_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mihara/supplycheck/cache"
	"github.com/mihara/supplycheck/database"
	"github.com/mihara/supplycheck/matcher"
	"github.com/mihara/supplycheck/models"
	"github.com/mihara/supplycheck/parser"
	"github.com/mihara/supplycheck/scraper"
)

const sourceName = "DrugSupplyStatus"

// sourceURLFile remembers the last resolved workbook URL so restarts and
// refreshes can skip the landing-page scrape when nothing moved.
const sourceURLFile = "source_url"

// ErrNoSupplyData is returned when a check or preview is requested before
// any supply snapshot has been loaded.
var ErrNoSupplyData = errors.New("supply data not loaded; refresh the cache first")

// SupplyService orchestrates the core pipeline: locate the workbook link,
// refresh the cached snapshot, parse it into supply records, and answer
// match/preview/status requests against the in-memory record set. The
// record set is replaced wholesale after each successful parse.
type SupplyService struct {
	landingURL string
	locator    *scraper.Locator
	cache      *cache.Manager
	cacheDir   string
	clock      func() time.Time

	mu                sync.RWMutex
	records           []models.SupplyRecord
	warnings          []models.RowWarning
	meta              *models.CacheMetadata
	snapshotPath      string
	loadedFingerprint string
	stale             bool
	refreshInProgress bool
	lastRefreshError  string
}

// NewSupplyService wires the service. clock may be nil for time.Now.
func NewSupplyService(landingURL string, locator *scraper.Locator, cacheMgr *cache.Manager, cacheDir string, clock func() time.Time) *SupplyService {
	if clock == nil {
		clock = time.Now
	}
	return &SupplyService{
		landingURL: landingURL,
		locator:    locator,
		cache:      cacheMgr,
		cacheDir:   cacheDir,
		clock:      clock,
	}
}

// LoadFromCache is the startup fast path: parse the committed snapshot off
// disk, if one exists, without any network traffic. Returns true when
// records were loaded.
func (s *SupplyService) LoadFromCache() bool {
	sourceURL := s.readSourceURL()
	if sourceURL == "" {
		return false
	}
	snap, ok := s.cache.Current(sourceURL)
	if !ok {
		return false
	}
	if err := s.parseAndSwap(snap); err != nil {
		log.Printf("WARN Service: Failed to parse cached snapshot at startup: %v\n", err)
		return false
	}
	log.Printf("Service: Loaded %d supply records from cached snapshot (fetched %s)\n",
		s.RecordCount(), snap.Meta.FetchedAt.Format("2006-01-02"))
	return true
}

// Refresh brings the supply snapshot up to date and reports the outcome.
// The resolved link is cached; the landing page is only re-scraped when no
// link is known, when force is set, or as a one-shot fallback after the
// cached link stops working.
func (s *SupplyService) Refresh(ctx context.Context, force bool) models.RefreshResult {
	s.setRefreshing(true)
	defer s.setRefreshing(false)

	sourceURL := s.readSourceURL()
	located := false

	if sourceURL == "" || force {
		link, err := s.locator.Locate(ctx, s.landingURL)
		if err != nil {
			if sourceURL == "" {
				return s.failRefresh(fmt.Errorf("failed to locate workbook link: %w", err))
			}
			log.Printf("WARN Service: Link discovery failed (%v); falling back to cached link %s\n", err, sourceURL)
		} else {
			located = true
			if link.URL != sourceURL {
				sourceURL = link.URL
				s.writeSourceURL(sourceURL)
			}
		}
	}

	snap, err := s.cache.Refresh(ctx, sourceURL)
	if err != nil && !located {
		// The cached link may simply be gone from the server. Re-scrape once
		// and retry against whatever the landing page points at now.
		link, lerr := s.locator.Locate(ctx, s.landingURL)
		if lerr == nil && link.URL != sourceURL {
			log.Printf("Service: Cached link failed; retrying with freshly located %s\n", link.URL)
			sourceURL = link.URL
			s.writeSourceURL(sourceURL)
			snap, err = s.cache.Refresh(ctx, sourceURL)
		}
	}
	if err != nil {
		return s.failRefresh(fmt.Errorf("failed to refresh snapshot: %w", err))
	}

	if err := s.parseAndSwap(snap); err != nil {
		// A schema change in a fresh download must not clobber the records
		// parsed from the previous snapshot.
		return s.failRefresh(fmt.Errorf("failed to parse snapshot: %w", err))
	}

	s.mu.Lock()
	s.stale = snap.Stale
	if snap.Stale {
		s.lastRefreshError = snap.StaleReason
	} else {
		s.lastRefreshError = ""
	}
	recordCount := len(s.records)
	warningCount := len(s.warnings)
	s.mu.Unlock()

	if !snap.Stale && !snap.Unchanged {
		if err := database.LogSnapshotFetch(database.SnapshotFetch{
			SourceName:         sourceName,
			SourceURL:          sourceURL,
			Filename:           filenameOf(sourceURL),
			ETag:               snap.Meta.ETag,
			LastModified:       snap.Meta.LastModified,
			ContentFingerprint: snap.Meta.ContentFingerprint,
			FetchedAt:          snap.Meta.FetchedAt,
			RecordCount:        recordCount,
			WarningCount:       warningCount,
		}); err != nil {
			log.Printf("WARN Service: Snapshot fetch not recorded in audit store: %v\n", err)
		}
	}

	fetchedAt := snap.Meta.FetchedAt
	result := models.RefreshResult{
		Success:      true,
		Cached:       snap.Unchanged,
		Stale:        snap.Stale,
		FileDate:     fileDateOf(sourceURL),
		FetchedAt:    &fetchedAt,
		RecordCount:  recordCount,
		WarningCount: warningCount,
	}
	switch {
	case snap.Stale:
		result.Message = fmt.Sprintf("Latest fetch failed; serving cached data from %s", fetchedAt.Format("2006-01-02"))
	case snap.Unchanged:
		result.Message = "Supply data is up to date"
	default:
		result.Message = fmt.Sprintf("Supply data updated (%d records)", recordCount)
	}
	log.Printf("Service: Refresh complete: %s\n", result.Message)
	return result
}

func (s *SupplyService) failRefresh(err error) models.RefreshResult {
	log.Printf("ERROR Service: %v\n", err)

	s.mu.Lock()
	s.lastRefreshError = err.Error()
	hasData := len(s.records) > 0
	if hasData {
		s.stale = true
	}
	s.mu.Unlock()

	result := models.RefreshResult{Message: err.Error()}
	if hasData {
		// Prior records stay usable; the caller just sees the degraded flag.
		result.Success = true
		result.Stale = true
		result.Cached = true
		result.Message = fmt.Sprintf("Refresh failed; serving previously loaded data (%s)", err)
		result.RecordCount = s.RecordCount()
	}
	return result
}

// Check parses an uploaded pharmacy inventory file and matches it against
// the current supply records within windowDays. The upload is never
// persisted. A structurally unusable upload returns a ValidationError.
func (s *SupplyService) Check(r io.Reader, filename string, windowDays int) (*models.CheckResult, error) {
	items, uploadWarnings, err := parser.ParseInventory(r, filename)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := s.records
	stale := s.stale
	s.mu.RUnlock()
	if len(records) == 0 {
		return nil, ErrNoSupplyData
	}

	results := matcher.Match(items, records, windowDays, true, s.clock())

	res := &models.CheckResult{
		Success: true,
		Data:    results,
		Stats: models.MatchStats{
			InventoryRows: len(items),
			MatchedRows:   matcher.MatchedCount(items, records),
			RecentUpdates: len(results),
		},
		Warnings: uploadWarnings,
		Stale:    stale,
	}
	res.Message = fmt.Sprintf("%d of %d inventory items changed supply status in the last %d days",
		len(results), len(items), windowDays)
	return res, nil
}

// Preview returns the recency-filtered supply list with no inventory join,
// plus the degraded indicator.
func (s *SupplyService) Preview(windowDays int) ([]models.MatchResult, bool, error) {
	s.mu.RLock()
	records := s.records
	stale := s.stale
	s.mu.RUnlock()
	if len(records) == 0 {
		return nil, false, ErrNoSupplyData
	}
	return matcher.Match(nil, records, windowDays, false, s.clock()), stale, nil
}

// Status reports the cache and snapshot state without touching the network.
func (s *SupplyService) Status() models.StatusResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := models.StatusResult{
		RecordCount:       len(s.records),
		RefreshInProgress: s.refreshInProgress,
		LastRefreshError:  s.lastRefreshError,
	}
	if s.meta != nil {
		fetchedAt := s.meta.FetchedAt
		status.SourceURL = s.meta.SourceURL
		status.FetchedAt = &fetchedAt
		status.LastModified = s.meta.LastModified
		status.FileDate = fileDateOf(s.meta.SourceURL)
	}
	if s.snapshotPath != "" {
		if info, err := os.Stat(s.snapshotPath); err == nil {
			status.FileExists = true
			status.FileSize = info.Size()
		}
	}
	return status
}

// RecordCount returns the size of the current supply record set.
func (s *SupplyService) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// parseAndSwap parses the snapshot file and replaces the in-memory record
// set. Skipped when the snapshot fingerprint matches what is already loaded.
func (s *SupplyService) parseAndSwap(snap *models.Snapshot) error {
	s.mu.RLock()
	loaded := s.loadedFingerprint
	s.mu.RUnlock()
	if loaded != "" && loaded == snap.Meta.ContentFingerprint {
		return nil
	}

	f, err := os.Open(snap.Path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot %s: %w", snap.Path, err)
	}
	defer f.Close()

	records, warnings, err := parser.ParseSupply(f)
	if err != nil {
		return err
	}

	meta := snap.Meta
	s.mu.Lock()
	s.records = records
	s.warnings = warnings
	s.meta = &meta
	s.snapshotPath = snap.Path
	s.loadedFingerprint = meta.ContentFingerprint
	s.mu.Unlock()
	return nil
}

func (s *SupplyService) setRefreshing(v bool) {
	s.mu.Lock()
	s.refreshInProgress = v
	s.mu.Unlock()
}

func (s *SupplyService) readSourceURL() string {
	data, err := os.ReadFile(filepath.Join(s.cacheDir, sourceURLFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *SupplyService) writeSourceURL(u string) {
	p := filepath.Join(s.cacheDir, sourceURLFile)
	if err := os.WriteFile(p, []byte(u+"\n"), 0644); err != nil {
		log.Printf("WARN Service: Failed to persist source URL: %v\n", err)
	}
}

func filenameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

func fileDateOf(rawURL string) string {
	d := scraper.FilenameDate(rawURL)
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}
