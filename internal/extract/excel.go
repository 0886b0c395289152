package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders every sheet with its first row as headers. Each later row becomes
// one line of "Header: value" pairs joined by "; ", skipping empty cells; cells beyond the
// header row are emitted bare.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		headers := rows[0]
		for _, row := range rows[1:] {
			if line := rowLine(headers, row); line != "" {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func rowLine(headers, row []string) string {
	parts := make([]string, 0, len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		header := ""
		if i < len(headers) {
			header = strings.TrimSpace(headers[i])
		}
		if header == "" {
			parts = append(parts, cell)
		} else {
			parts = append(parts, header+": "+cell)
		}
	}
	return strings.Join(parts, "; ")
}
