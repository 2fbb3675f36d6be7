package web

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ericfisherdev/shelfsync/internal/application"
)

const spreadsheetSheet = "Items"

// writeSpreadsheet writes the gallery rows as an xlsx workbook with the same
// columns an export table has.
func writeSpreadsheet(w io.Writer, g application.Gallery) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", spreadsheetSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	fields := application.TableFields()
	header := make([]any, len(fields))
	for i, fs := range fields {
		header[i] = fs.Name
	}
	if err := f.SetSheetRow(spreadsheetSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(spreadsheetSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, row := range g.Rows {
		rec := row.Record()
		values := make([]any, len(fields))
		for j, fs := range fields {
			values[j] = cellValue(rec[fs.Name])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := f.SetSheetRow(spreadsheetSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// cellValue flattens a destination record value into a single cell.
// Attachments become their URLs, one per line.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []map[string]string:
		urls := make([]string, 0, len(t))
		for _, a := range t {
			urls = append(urls, a["url"])
		}
		return strings.Join(urls, "\n")
	default:
		return t
	}
}
