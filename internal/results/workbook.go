package results

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var workbookColumnWidths = map[string]float64{"A": 12, "B": 20, "C": 8, "K": 8, "L": 22}

// RenderXLSX builds a single-sheet workbook. User, performance and rating
// cells are coloured by rating band.
func RenderXLSX(s Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory file

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if s.ContestID != "" {
		if err := f.SetSheetName(sheet, s.ContestID); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
		sheet = s.ContestID
	}

	if err := setRow(f, sheet, 1, Headers); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "L1", bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	styles := make(map[string]int)
	style := func(c Color) (int, error) {
		if id, ok := styles[c.Name]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: c.Hex()}})
		if err != nil {
			return 0, fmt.Errorf("create %s style: %w", c.Name, err)
		}
		styles[c.Name] = id
		return id, nil
	}

	for i, row := range s.Rows {
		n := i + 2
		if err := setRow(f, sheet, n, row.Cells()); err != nil {
			return nil, err
		}
		for col, c := range cellColors(row) {
			if c == nil {
				continue
			}
			id, err := style(*c)
			if err != nil {
				return nil, err
			}
			cell, err := excelize.CoordinatesToCellName(col+1, n)
			if err != nil {
				return nil, fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellStyle(sheet, cell, cell, id); err != nil {
				return nil, fmt.Errorf("style %s: %w", cell, err)
			}
		}
	}

	for col, w := range workbookColumnWidths {
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set width of %s: %w", col, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, n int, cells []string) error {
	axis, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	if err := f.SetSheetRow(sheet, axis, &values); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}
