// parser/dates.go
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mihara/supplycheck/utils"
)

// Text layouts seen in the wild for the update-date column. The source has
// shipped ISO dates, slash dates, and compact digit runs in different
// publications. Date-styled cells come out of the sheet reader in their
// display format, which for Excel's default date styles is month-first with
// a two-digit year, so those layouts are accepted too.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
	"2006.01.02",
	"20060102",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006年1月2日",
	"1/2/06",
	"01/02/06",
	"1-2-06",
	"01-02-06",
	"1/2/06 15:04",
}

// Excel serial dates count days from the 1899-12-30 epoch (the off-by-two
// Lotus compatibility quirk is baked into that epoch choice).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// parseCellDate coerces one spreadsheet cell into a calendar date in UTC
// with a zero time-of-day, accepting the text layouts above as well as Excel
// serial numbers.
func parseCellDate(cell string) (time.Time, error) {
	s := utils.NormalizeText(cell)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date cell")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateToDate(t), nil
		}
	}

	// Serial number, possibly with a fractional time component. Bounds keep
	// plain drug codes and row numbers from masquerading as dates: 20000 is
	// 1954, 80000 is 2119.
	if serial, err := strconv.ParseFloat(strings.TrimSuffix(s, ".0"), 64); err == nil {
		if serial >= 20000 && serial < 80000 {
			t := excelEpoch.Add(time.Duration(serial * 24 * float64(time.Hour)))
			return truncateToDate(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q", cell)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
