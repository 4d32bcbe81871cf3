// database/snapshot_store.go
package database

import (
	"fmt"
	"log"
	"time"
)

// SnapshotFetch is one audit row describing a successful snapshot fetch.
type SnapshotFetch struct {
	ID                 int64     `db:"id" json:"id"`
	SourceName         string    `db:"source_name" json:"source_name"`
	SourceURL          string    `db:"source_url" json:"source_url"`
	Filename           string    `db:"filename" json:"filename"`
	ETag               string    `db:"etag" json:"etag,omitempty"`
	LastModified       string    `db:"last_modified" json:"last_modified,omitempty"`
	ContentFingerprint string    `db:"content_fingerprint" json:"content_fingerprint"`
	FetchedAt          time.Time `db:"fetched_at" json:"fetched_at"`
	RecordCount        int       `db:"record_count" json:"record_count"`
	WarningCount       int       `db:"warning_count" json:"warning_count"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// LogSnapshotFetch upserts the audit row for a source after a successful
// fetch-and-parse. It is a no-op when no database is configured, and it is
// never called on a failure path, so the table only ever reflects committed
// snapshots.
func LogSnapshotFetch(f SnapshotFetch) error {
	if DB == nil {
		return nil
	}

	query := `
		INSERT INTO snapshot_fetches (
			source_name, source_url, filename, etag, last_modified,
			content_fingerprint, fetched_at, record_count, warning_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			source_url = VALUES(source_url),
			filename = VALUES(filename),
			etag = VALUES(etag),
			last_modified = VALUES(last_modified),
			content_fingerprint = VALUES(content_fingerprint),
			fetched_at = VALUES(fetched_at),
			record_count = VALUES(record_count),
			warning_count = VALUES(warning_count),
			updated_at = NOW()
	`

	_, err := DB.Exec(query,
		f.SourceName, f.SourceURL, f.Filename, f.ETag, f.LastModified,
		f.ContentFingerprint, f.FetchedAt, f.RecordCount, f.WarningCount,
	)
	if err != nil {
		log.Printf("ERROR Database: Failed to log snapshot fetch for '%s': %v", f.SourceName, err)
		return fmt.Errorf("failed to log snapshot fetch for %s: %w", f.SourceName, err)
	}
	return nil
}

// GetSnapshotFetches returns the audit rows, newest fetch first.
func GetSnapshotFetches() ([]SnapshotFetch, error) {
	if DB == nil {
		return nil, nil
	}

	rows, err := DB.Query(`
		SELECT id, source_name, source_url, filename, etag, last_modified,
		       content_fingerprint, fetched_at, record_count, warning_count,
		       created_at, updated_at
		FROM snapshot_fetches
		ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot_fetches: %w", err)
	}
	defer rows.Close()

	var fetches []SnapshotFetch
	for rows.Next() {
		var f SnapshotFetch
		err := rows.Scan(
			&f.ID, &f.SourceName, &f.SourceURL, &f.Filename, &f.ETag, &f.LastModified,
			&f.ContentFingerprint, &f.FetchedAt, &f.RecordCount, &f.WarningCount,
			&f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			log.Printf("ERROR Database: Failed to scan snapshot_fetch row: %v", err)
			continue
		}
		fetches = append(fetches, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot_fetch rows: %w", err)
	}
	return fetches, nil
}
