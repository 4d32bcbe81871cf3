// models/meta.go
package models

import "time"

// CacheMetadata is the sidecar record for the cached snapshot of one source
// URL. It always describes the most recent successful fetch; a failed refresh
// attempt never touches it.
type CacheMetadata struct {
	SourceURL          string    `json:"source_url"`
	ETag               string    `json:"etag,omitempty"`
	LastModified       string    `json:"last_modified,omitempty"` // verbatim HTTP header value
	FetchedAt          time.Time `json:"fetched_at"`
	ContentFingerprint string    `json:"content_fingerprint"` // sha256 hex of the snapshot body
}

// Snapshot is what CacheManager hands back from a refresh: the path of the
// committed snapshot file, its metadata, and whether the content is being
// served stale because the latest fetch attempt failed.
type Snapshot struct {
	Path string
	Meta CacheMetadata
	// Unchanged is true when the refresh confirmed the remote content is
	// identical to the stored snapshot (304 or equal fingerprint).
	Unchanged bool
	Stale     bool
	// StaleReason carries the fetch error that forced the stale fallback.
	// Empty when Stale is false.
	StaleReason string
}

// SourceLink is a resolved download location discovered on the landing page,
// plus the date hint embedded in the link's filename (zero when the filename
// carries no recognizable date).
type SourceLink struct {
	URL      string
	DateHint time.Time
}
