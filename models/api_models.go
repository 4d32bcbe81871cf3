// models/api_models.go
package models

import "time"

// RefreshResult is the outcome of a cache refresh as reported to the caller.
type RefreshResult struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	Cached       bool       `json:"cached"` // true when the remote was unchanged
	Stale        bool       `json:"stale"`  // true when serving a prior snapshot after a failed fetch
	FileDate     string     `json:"file_date,omitempty"` // YYYY-MM-DD hint from the source filename
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
	RecordCount  int        `json:"record_count"`
	WarningCount int        `json:"warning_count"`
}

// MatchStats summarizes one check run.
type MatchStats struct {
	InventoryRows int `json:"inventory_rows"`
	MatchedRows   int `json:"matched_rows"`
	RecentUpdates int `json:"recent_updates"`
}

// CheckResult is the response envelope for an inventory check: the matched
// rows within the recency window, summary counts, and the cache freshness
// indicator.
type CheckResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Data     []MatchResult `json:"data"`
	Stats    MatchStats    `json:"stats"`
	Warnings []RowWarning  `json:"warnings,omitempty"`
	Stale    bool          `json:"stale"`
}

// StatusResult reports the current cache state without touching the network.
type StatusResult struct {
	FileExists        bool       `json:"file_exists"`
	FileSize          int64      `json:"file_size"`
	SourceURL         string     `json:"source_url,omitempty"`
	FileDate          string     `json:"file_date,omitempty"`
	FetchedAt         *time.Time `json:"fetched_at,omitempty"`
	LastModified      string     `json:"last_modified,omitempty"`
	RecordCount       int        `json:"record_count"`
	RefreshInProgress bool       `json:"refresh_in_progress"`
	LastRefreshError  string     `json:"last_refresh_error,omitempty"`
}
