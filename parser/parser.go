// parser/parser.go
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/xuri/excelize/v2"

	"github.com/mihara/supplycheck/models"
	"github.com/mihara/supplycheck/utils"
)

// headerScanRows is how far down the sheet the header row is searched for.
// The source occasionally ships a title row or two above the real header.
const headerScanRows = 5

// ParseSupply reads an authoritative-supply workbook and returns the
// normalized records plus per-row warnings. A missing required column is a
// SchemaError and nothing is parsed; a malformed row (empty drug code,
// unparseable date) is skipped and recorded as a warning.
//
// Duplicate drug codes are allowed here; the matching engine applies
// last-write-wins when it indexes the records.
func ParseSupply(r io.Reader) ([]models.SupplyRecord, []models.RowWarning, error) {
	rows, err := readWorkbook(r)
	if err != nil {
		return nil, nil, err
	}

	headerIdx := findHeaderRow(rows, headerScanRows)
	if headerIdx < 0 {
		return nil, nil, &models.SchemaError{Role: "supply", Column: "drug_code"}
	}
	cols, err := resolveSupplyColumns(rows[headerIdx])
	if err != nil {
		return nil, nil, err
	}

	var records []models.SupplyRecord
	var warnings []models.RowWarning
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1 // 1-based, as a spreadsheet user would count

		if isBlankRow(row) {
			continue
		}

		code := utils.NormalizeKey(cellAt(row, cols.code))
		if code == "" {
			warnings = append(warnings, models.RowWarning{Row: rowNum, Reason: "empty drug code"})
			continue
		}

		updatedAt, err := parseCellDate(cellAt(row, cols.updatedAt))
		if err != nil {
			warnings = append(warnings, models.RowWarning{
				Row:    rowNum,
				Reason: fmt.Sprintf("bad update date: %v", err),
			})
			continue
		}

		records = append(records, models.SupplyRecord{
			DrugCode:  code,
			DrugName:  utils.NormalizeText(cellAt(row, cols.name)),
			Status:    utils.NormalizeText(cellAt(row, cols.status)),
			UpdatedAt: updatedAt,
		})
	}

	log.Printf("Parser: Parsed %d supply records (%d rows skipped with warnings)\n",
		len(records), len(warnings))
	return records, warnings, nil
}

// ParseInventory reads a pharmacy-inventory upload. The format is picked by
// file extension: .csv goes through the CSV path, everything else is treated
// as an xlsx workbook. Missing required columns surface as a
// ValidationError, since the file came from the pharmacy rather than the
// authoritative source.
func ParseInventory(r io.Reader, filename string) ([]models.PharmacyInventoryItem, []models.RowWarning, error) {
	var (
		items    []models.PharmacyInventoryItem
		warnings []models.RowWarning
		err      error
	)
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		items, warnings, err = parseInventoryCSV(r)
	} else {
		items, warnings, err = parseInventoryWorkbook(r)
	}
	if err != nil {
		var schemaErr *models.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, nil, &models.ValidationError{
				Reason: fmt.Sprintf("required column %q not found", schemaErr.Column),
			}
		}
		return nil, nil, err
	}

	log.Printf("Parser: Parsed %d inventory items from %s (%d rows skipped)\n",
		len(items), filename, len(warnings))
	return items, warnings, nil
}

func parseInventoryWorkbook(r io.Reader) ([]models.PharmacyInventoryItem, []models.RowWarning, error) {
	rows, err := readWorkbook(r)
	if err != nil {
		return nil, nil, err
	}

	headerIdx := findHeaderRow(rows, headerScanRows)
	if headerIdx < 0 {
		return nil, nil, &models.SchemaError{Role: "inventory", Column: "drug_code"}
	}
	cols, err := resolveInventoryColumns(rows[headerIdx])
	if err != nil {
		return nil, nil, err
	}

	var items []models.PharmacyInventoryItem
	var warnings []models.RowWarning
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if isBlankRow(row) {
			continue
		}
		code := utils.NormalizeKey(cellAt(row, cols.code))
		if code == "" {
			warnings = append(warnings, models.RowWarning{Row: i + 1, Reason: "empty drug code"})
			continue
		}
		items = append(items, models.PharmacyInventoryItem{
			DrugCode: code,
			DrugName: utils.NormalizeText(cellAt(row, cols.name)),
		})
	}
	return items, warnings, nil
}

// inventoryCSVRow maps the canonical header produced below, not the raw CSV
// header; see parseInventoryCSV.
type inventoryCSVRow struct {
	DrugCode string `csv:"drug_code"`
	DrugName string `csv:"drug_name"`
}

// parseInventoryCSV resolves the CSV's real header through the same
// recognized-column patterns as the workbook path, then feeds csvutil a
// canonical header so decoding is independent of what the dispensing system
// called its columns.
func parseInventoryCSV(r io.Reader) ([]models.PharmacyInventoryItem, []models.RowWarning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // pharmacy exports pad rows unevenly

	rawHeader, err := cr.Read()
	if err != nil {
		return nil, nil, &models.ValidationError{Reason: "empty or unreadable CSV file"}
	}
	cols, err := resolveInventoryColumns(rawHeader)
	if err != nil {
		return nil, nil, err
	}

	canonical := make([]string, len(rawHeader))
	for i := range canonical {
		switch i {
		case cols.code:
			canonical[i] = "drug_code"
		case cols.name:
			canonical[i] = "drug_name"
		default:
			canonical[i] = fmt.Sprintf("-col%d", i) // ignored by the struct
		}
	}

	dec, err := csvutil.NewDecoder(cr, canonical...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CSV decoder: %w", err)
	}

	var items []models.PharmacyInventoryItem
	var warnings []models.RowWarning
	for rowNum := 2; ; rowNum++ {
		var row inventoryCSVRow
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			warnings = append(warnings, models.RowWarning{
				Row:    rowNum,
				Reason: fmt.Sprintf("bad CSV row: %v", err),
			})
			continue
		}
		code := utils.NormalizeKey(row.DrugCode)
		if code == "" {
			warnings = append(warnings, models.RowWarning{Row: rowNum, Reason: "empty drug code"})
			continue
		}
		items = append(items, models.PharmacyInventoryItem{
			DrugCode: code,
			DrugName: utils.NormalizeText(row.DrugName),
		})
	}
	return items, warnings, nil
}

// readWorkbook loads the first sheet of an xlsx workbook into a string grid.
func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook contains no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
