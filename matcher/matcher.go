// matcher/matcher.go
package matcher

import (
	"sort"
	"time"

	"github.com/mihara/supplycheck/models"
)

// Match joins a pharmacy inventory against the current supply snapshot and
// filters to records whose update date falls within windowDays of now,
// inclusive.
//
// The supply set is indexed by normalized drug code; when the source carries
// the same code twice, the later row in file order wins. With
// restrictToInventory the inventory is probed against that index and items
// whose code is absent from the supply list are silently omitted. Without it
// ("preview" mode) the inventory is ignored and only the recency filter
// applies.
//
// Results are ordered by update date descending, ties broken by drug code
// ascending, so output is deterministic for any input order.
func Match(
	inventory []models.PharmacyInventoryItem,
	supply []models.SupplyRecord,
	windowDays int,
	restrictToInventory bool,
	now time.Time,
) []models.MatchResult {
	index := make(map[string]models.SupplyRecord, len(supply))
	for _, rec := range supply {
		index[rec.DrugCode] = rec // last write wins
	}

	results := make([]models.MatchResult, 0)

	appendIfRecent := func(rec models.SupplyRecord) {
		days := daysBetween(rec.UpdatedAt, now)
		if days > windowDays {
			return
		}
		results = append(results, models.MatchResult{
			DrugCode:        rec.DrugCode,
			DrugName:        rec.DrugName,
			Status:          rec.Status,
			UpdatedAt:       rec.UpdatedAt,
			DaysSinceUpdate: days,
		})
	}

	if restrictToInventory {
		seen := make(map[string]bool, len(inventory))
		for _, item := range inventory {
			if item.DrugCode == "" || seen[item.DrugCode] {
				continue
			}
			seen[item.DrugCode] = true
			if rec, ok := index[item.DrugCode]; ok {
				appendIfRecent(rec)
			}
		}
	} else {
		for _, rec := range index {
			appendIfRecent(rec)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].DrugCode < results[j].DrugCode
	})
	return results
}

// MatchedCount reports how many distinct inventory codes exist in the supply
// index regardless of recency, for the summary stats.
func MatchedCount(inventory []models.PharmacyInventoryItem, supply []models.SupplyRecord) int {
	index := make(map[string]bool, len(supply))
	for _, rec := range supply {
		index[rec.DrugCode] = true
	}
	seen := make(map[string]bool, len(inventory))
	count := 0
	for _, item := range inventory {
		if item.DrugCode == "" || seen[item.DrugCode] {
			continue
		}
		seen[item.DrugCode] = true
		if index[item.DrugCode] {
			count++
		}
	}
	return count
}

// daysBetween is the whole-day difference between two instants, computed on
// calendar dates in UTC so time-of-day never shifts the boundary.
func daysBetween(from, to time.Time) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDate.Sub(fromDate).Hours() / 24)
}
