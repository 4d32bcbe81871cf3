// parser/columns.go
package parser

import (
	"strings"

	"github.com/mihara/supplycheck/models"
	"github.com/mihara/supplycheck/utils"
)

// Recognized header patterns per logical field. The authoritative source
// renames its headers between publications and pharmacy exports come from a
// zoo of dispensing systems, so each field is matched against a declared
// pattern list instead of a fixed header. Official circled-number headers
// come first so they win over looser variants.
var (
	drugCodePatterns = []string{
		"⑤YJコード",
		"YJコード", "YJ-コード", "YJコード番号",
		"医薬品コード", "医薬品キー", "医薬品番号",
		"薬品コード", "薬品キー", "薬品番号",
		"製品コード", "商品コード", "品目コード",
		"NDBコード", "HOTコード", "JAN",
	}
	drugNamePatterns = []string{
		"⑥品名",
		"医薬品名", "医薬品正式名",
		"薬品名", "薬品正式名",
		"品名", "正式品名",
		"製品名", "商品名",
		"販売名",
	}
	statusPatterns = []string{
		"供給状況", "出荷状況", "供給状態", "供給ステータス",
	}
	updatedAtPatterns = []string{
		"⑳当該品目",
		"情報更新日", "更新年月日", "更新日",
	}
)

// columnSet holds the resolved zero-based column indexes for one role.
// An index of -1 means the column is absent.
type columnSet struct {
	code      int
	name      int
	status    int
	updatedAt int
}

// resolveSupplyColumns maps a header row to the authoritative-supply fields.
// All four columns are required.
func resolveSupplyColumns(header []string) (columnSet, error) {
	cols := columnSet{
		code:      findColumn(header, drugCodePatterns, "コード", "code"),
		name:      findColumn(header, drugNamePatterns, "名", "name"),
		status:    findColumn(header, statusPatterns),
		updatedAt: findColumn(header, updatedAtPatterns),
	}
	switch {
	case cols.code < 0:
		return cols, &models.SchemaError{Role: "supply", Column: "drug_code"}
	case cols.name < 0:
		return cols, &models.SchemaError{Role: "supply", Column: "drug_name"}
	case cols.status < 0:
		return cols, &models.SchemaError{Role: "supply", Column: "status"}
	case cols.updatedAt < 0:
		return cols, &models.SchemaError{Role: "supply", Column: "updated_at"}
	}
	return cols, nil
}

// resolveInventoryColumns maps a header row to the pharmacy-inventory
// fields. Code and name are required; status and date have no meaning here.
func resolveInventoryColumns(header []string) (columnSet, error) {
	cols := columnSet{
		code:      findColumn(header, drugCodePatterns, "コード", "code"),
		name:      findColumn(header, drugNamePatterns, "名", "name"),
		status:    -1,
		updatedAt: -1,
	}
	switch {
	case cols.code < 0:
		return cols, &models.SchemaError{Role: "inventory", Column: "drug_code"}
	case cols.name < 0:
		return cols, &models.SchemaError{Role: "inventory", Column: "drug_name"}
	}
	return cols, nil
}

// findColumn locates the header cell matching any pattern. Search order:
// exact match, case-insensitive substring, width-normalized substring, then
// the loose fallback substrings (e.g. any header containing コード when a
// code column is wanted). Returns -1 when nothing matches.
func findColumn(header []string, patterns []string, fallbacks ...string) int {
	for i, col := range header {
		for _, p := range patterns {
			if col == p {
				return i
			}
		}
	}
	for i, col := range header {
		lower := strings.ToLower(col)
		for _, p := range patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				return i
			}
		}
	}
	for i, col := range header {
		normalized := utils.NormalizeKey(col)
		for _, p := range patterns {
			if strings.Contains(normalized, utils.NormalizeKey(p)) {
				return i
			}
		}
	}
	for i, col := range header {
		normalized := utils.NormalizeKey(col)
		for _, f := range fallbacks {
			if strings.Contains(normalized, utils.NormalizeKey(f)) {
				return i
			}
		}
	}
	return -1
}

// findHeaderRow scans the top of the sheet for the row that carries the
// drug-code header. The source sometimes ships a title or note row above the
// real header, so the header is located rather than assumed to be row one.
// Returns -1 when no row within the scan window resolves.
func findHeaderRow(rows [][]string, maxScan int) int {
	if maxScan > len(rows) {
		maxScan = len(rows)
	}
	for i := 0; i < maxScan; i++ {
		if findColumn(rows[i], drugCodePatterns, "コード", "code") >= 0 {
			return i
		}
	}
	return -1
}
