package document

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"invoicepipe/internal"
)

// FromXLSX reads every sheet as one table. The page text for a sheet is its
// rows with cells separated by two spaces, so header regexes see the same
// layout a PDF export of the sheet would show.
func FromXLSX(filename string, content []byte) (internal.Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return internal.Document{}, eris.Wrap(err, "document: open xlsx")
	}
	defer f.Close()

	doc := internal.Document{Filename: filename, Source: internal.SourceXLSX}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			zap.L().Warn("document: skip unreadable sheet", zap.String("file", filename), zap.String("sheet", sheet), zap.Error(err))
			continue
		}

		table := internal.Table{Name: sheet}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			cells := normalizeCells(row)
			if cells == nil {
				continue
			}
			table.Rows = append(table.Rows, cells)
			lines = append(lines, strings.Join(nonEmpty(cells), "  "))
		}
		if len(table.Rows) == 0 {
			continue
		}
		doc.Tables = append(doc.Tables, table)
		doc.Pages = append(doc.Pages, strings.Join(lines, "\n"))
	}
	return doc, nil
}

func nonEmpty(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
