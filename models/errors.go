// models/errors.go
package models

import "fmt"

// TransientFetchError marks a network-level failure (connection error,
// timeout, 5xx) that is safe to retry and, once the retry budget is spent,
// eligible for the stale-cache fallback.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure for %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// LinkNotFoundError means the landing page contained no anchor matching the
// expected workbook link pattern. Not retryable: the page structure changed
// or the publication was pulled.
type LinkNotFoundError struct {
	PageURL string
}

func (e *LinkNotFoundError) Error() string {
	return fmt.Sprintf("no workbook download link found on %s", e.PageURL)
}

// SchemaError means a required column could not be located in a parsed
// workbook. Fatal for that parse call; nothing is parsed.
type SchemaError struct {
	Role   string // "supply" or "inventory"
	Column string // logical field that could not be resolved
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("required %s column %q not found in workbook header", e.Role, e.Column)
}

// ValidationError reports an unusable pharmacy upload (wrong format, missing
// required columns). Reported to the caller without mutating any state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("uploaded file rejected: %s", e.Reason)
}
