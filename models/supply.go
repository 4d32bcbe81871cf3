// models/supply.go
package models

import "time"

// Supply status values published by the authoritative source. The source's
// vocabulary drifts between publications, so these are named constants over a
// plain string rather than a closed enum; unknown values pass through.
const (
	StatusNormalSupply  = "通常供給"
	StatusLimitedSupply = "限定供給"
	StatusSupplyStopped = "供給停止"
)

// SupplyRecord is one row of the authoritative drug-supply status list.
// A full set of these is rebuilt on every successful parse of the cached
// workbook; there are no partial updates.
type SupplyRecord struct {
	DrugCode  string    `json:"drug_code"` // normalized: NFKC, trimmed, lower-cased
	DrugName  string    `json:"drug_name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"` // calendar date, zero time-of-day, UTC
}

// PharmacyInventoryItem is one row of an uploaded pharmacy inventory list.
// Built per request from the upload, never persisted.
type PharmacyInventoryItem struct {
	DrugCode string `json:"drug_code"`
	DrugName string `json:"drug_name"`
}

// MatchResult is a supply record that matched the pharmacy's inventory (or
// passed the preview filter) and falls within the recency window.
type MatchResult struct {
	DrugCode        string    `json:"drug_code"`
	DrugName        string    `json:"drug_name"`
	Status          string    `json:"status"`
	UpdatedAt       time.Time `json:"updated_at"`
	DaysSinceUpdate int       `json:"days_since_update"`
}

// RowWarning records a row skipped during parsing because of malformed cell
// data. It is reported alongside the parsed records, not as an error.
type RowWarning struct {
	Row    int    `json:"row"` // 1-based row number in the source sheet
	Reason string `json:"reason"`
}
