// Package sheet moves tables in and out of XLSX workbooks.
package sheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/moritzWa/deeptable/internal/model"
)

// Sheet names written by Export.
const (
	DataSheet       = "Data"
	ProvenanceSheet = "Provenance"
)

// Export writes the table's rows to a workbook: one data sheet with a header
// of column names, and a provenance sheet with the latest reasoning and
// sources of every enriched cell.
func Export(w io.Writer, tbl *model.Table, rows []model.Row) error {
	f, err := Workbook(tbl, rows)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

// ExportFile writes the workbook to path.
func ExportFile(path string, tbl *model.Table, rows []model.Row) error {
	f, err := Workbook(tbl, rows)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

// Workbook builds the export workbook in memory.
func Workbook(tbl *model.Table, rows []model.Row) (*xlsx.File, error) {
	f := xlsx.NewFile()

	data, err := f.AddSheet(DataSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add data sheet")
	}
	header := data.AddRow()
	for _, c := range tbl.Columns {
		header.AddCell().SetString(c.Name)
	}
	for _, r := range rows {
		out := data.AddRow()
		for _, c := range tbl.Columns {
			setCell(out.AddCell(), r.Data[c.ID])
		}
	}

	prov, err := f.AddSheet(ProvenanceSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add provenance sheet")
	}
	addStrings(prov.AddRow(), "Row", "Column", "Reasoning", "Sources", "Enriched At")
	for i, r := range rows {
		for _, c := range tbl.Columns {
			meta, ok := r.LatestEnrichment(c.ID)
			if !ok {
				continue
			}
			addStrings(prov.AddRow(),
				strconv.Itoa(i+1),
				c.Name,
				strings.Join(meta.ReasoningSteps, "\n"),
				strings.Join(meta.Sources, "\n"),
				meta.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			)
		}
	}
	return f, nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch t := v.(type) {
	case nil:
		return
	case float64:
		cell.SetFloat(t)
	case int:
		cell.SetInt(t)
	case string:
		cell.SetString(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok {
				parts = append(parts, s)
			}
		}
		cell.SetString(strings.Join(parts, model.MultiSeparator))
	default:
		cell.SetString(fmt.Sprint(t))
	}
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// ReadOptions configures ReadRows.
type ReadOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadRows reads row data for tbl from the workbook at path. The first row
// is a header matched against column names or ids, ignoring case; unmatched
// header cells are skipped. Number columns are parsed as numbers and blank
// cells are left out.
func ReadRows(path string, tbl *model.Table, opts ReadOptions) ([]map[string]any, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sh, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sh.Rows) == 0 {
		return nil, nil
	}

	byKey := make(map[string]model.Column, 2*len(tbl.Columns))
	for _, c := range tbl.Columns {
		byKey[model.NameKey(c.ID)] = c
		byKey[model.NameKey(c.Name)] = c
	}
	header := rowToStrings(sh.Rows[0])
	cols := make([]*model.Column, len(header))
	matched := 0
	for i, h := range header {
		if c, ok := byKey[model.NameKey(strings.TrimSpace(h))]; ok {
			cols[i] = &c
			matched++
		}
	}
	if matched == 0 {
		return nil, eris.Errorf("xlsx: header matches no column of table %q", tbl.Name)
	}

	var out []map[string]any
	for n, r := range sh.Rows[1:] {
		cells := rowToStrings(r)
		data := make(map[string]any)
		for i, raw := range cells {
			if i >= len(cols) || cols[i] == nil {
				continue
			}
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			v, err := parseCell(*cols[i], raw)
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: row %d", n+2)
			}
			data[cols[i].ID] = v
		}
		if len(data) > 0 {
			out = append(out, data)
		}
	}
	return out, nil
}

func parseCell(c model.Column, raw string) (any, error) {
	if c.Type != model.ColumnTypeNumber {
		return raw, nil
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return nil, eris.Errorf("column %s: %q is not a number", c.ID, raw)
	}
	return n, nil
}

func getSheet(f *xlsx.File, opts ReadOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
